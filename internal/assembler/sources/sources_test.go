package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func newWorkspace(t *testing.T, files map[string]string, include ...string) *Corpus {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	c := NewCorpus(config.WorkspaceConfig{Root: root, Include: include, MaxFileBytes: 1024}, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func paths(docs []Document) string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Path
	}
	return strings.Join(out, ",")
}

func TestCorpusDocuments(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		want    string
	}{
		{name: "all text files", want: "docs/guide.md,main.go,pkg/util.go"},
		{name: "base name glob", include: []string{"*.go"}, want: "main.go,pkg/util.go"},
		{name: "relative path glob", include: []string{"docs/*"}, want: "docs/guide.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newWorkspace(t, map[string]string{
				"main.go":       "package main",
				"pkg/util.go":   "package pkg",
				"docs/guide.md": "# Guide",
				".git/config":   "[core]",
				"big.txt":       strings.Repeat("x", 2048),
				"binary.dat":    string([]byte{0xff, 0xfe, 0x00}),
			}, tt.include...)
			docs, _, err := c.Documents(context.Background())
			if err != nil {
				t.Fatalf("Documents() error = %v", err)
			}
			if got := paths(docs); got != tt.want {
				t.Errorf("Documents() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCorpusInvalidateBumpsVersion(t *testing.T) {
	c := newWorkspace(t, map[string]string{"a.txt": "one"})
	_, v1, err := c.Documents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, again, _ := c.Documents(context.Background())
	if again != v1 {
		t.Errorf("cached read changed version %d -> %d", v1, again)
	}
	c.Invalidate()
	_, v2, _ := c.Documents(context.Background())
	if v2 == v1 {
		t.Error("version did not change after Invalidate")
	}
}

func TestCorpusWatchInvalidatesOnChange(t *testing.T) {
	c := newWorkspace(t, map[string]string{"a.txt": "one"})
	if err := c.Watch(context.Background()); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if _, _, err := c.Documents(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, c.root, "b.txt", "two")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		docs, _, err := c.Documents(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not pick up the new file")
}

type stubTail struct {
	events []*models.SessionEvent
	err    error
	from   uint64
}

func (s *stubTail) Read(_ context.Context, _ string, fromSeq uint64) ([]*models.SessionEvent, error) {
	s.from = fromSeq
	var out []*models.SessionEvent
	for _, e := range s.events {
		if e.Sequence >= fromSeq {
			out = append(out, e)
		}
	}
	return out, s.err
}

func (s *stubTail) LastSequence(context.Context, string) (uint64, error) {
	if s.err != nil || len(s.events) == 0 {
		return 0, s.err
	}
	return s.events[len(s.events)-1].Sequence, nil
}

func (s *stubTail) add(t *testing.T, typ models.EventType, payload any) {
	t.Helper()
	e, err := models.NewSessionEvent(typ, payload)
	if err != nil {
		t.Fatalf("NewSessionEvent: %v", err)
	}
	e.SessionID = "s"
	e.Sequence = uint64(len(s.events) + 1)
	s.events = append(s.events, e)
}

func TestHistorySource(t *testing.T) {
	log := &stubTail{}
	for _, content := range []string{"first turn..", "second turn.", "third turn.."} {
		log.add(t, models.EventInteractionRecorded, models.InteractionPayload{Role: models.RoleUser, Content: content})
	}

	tests := []struct {
		name   string
		budget int
		window int
		want   []string
	}{
		{name: "everything fits", budget: 100, want: []string{"first turn..", "second turn.", "third turn.."}},
		{name: "newest kept", budget: 6, want: []string{"second turn.", "third turn.."}},
		{name: "nothing fits", budget: 2},
		{name: "window bounds the read", budget: 100, window: 1, want: []string{"third turn.."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewHistorySource(log, tt.window).Fetch(context.Background(), "", "s", tt.budget)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if len(tt.want) == 0 {
				if !got.Empty() {
					t.Errorf("Fetch() = %+v, want empty", got)
				}
				return
			}
			if len(got.Interactions) != len(tt.want) {
				t.Fatalf("interactions = %d, want %d", len(got.Interactions), len(tt.want))
			}
			for i, want := range tt.want {
				if got.Interactions[i].Content != want {
					t.Errorf("interaction[%d] = %q, want %q", i, got.Interactions[i].Content, want)
				}
			}
			if got.Tokens() > tt.budget {
				t.Errorf("tokens = %d over budget %d", got.Tokens(), tt.budget)
			}
		})
	}

	if _, err := NewHistorySource(&stubTail{err: errors.New("log offline")}, 0).Fetch(context.Background(), "", "s", 10); err == nil {
		t.Error("expected log error to propagate")
	}
	if got, err := NewHistorySource(&stubTail{}, 0).Fetch(context.Background(), "", "s", 10); err != nil || !got.Empty() {
		t.Errorf("empty session = %+v, %v", got, err)
	}
}

func TestHistorySourceReadsTailAndAppliesCompensation(t *testing.T) {
	log := &stubTail{}
	for i := 0; i < 10; i++ {
		log.add(t, models.EventInteractionRecorded, models.InteractionPayload{Role: models.RoleUser, Content: "turn"})
	}
	log.add(t, models.EventInteractionRecorded, models.InteractionPayload{Role: models.RoleAssistant, Content: "retracted"})
	log.add(t, models.EventInteractionCompensated, models.CompensationPayload{TargetSequence: 11, Reason: "wrong"})
	// Targets an event outside the window.
	log.add(t, models.EventInteractionCompensated, models.CompensationPayload{TargetSequence: 2, Reason: "old"})

	got, err := NewHistorySource(log, 5).Fetch(context.Background(), "", "s", 1000)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if log.from != 9 {
		t.Errorf("read from %d, want 9", log.from)
	}
	if len(got.Interactions) != 2 {
		t.Fatalf("interactions = %+v, want the two turns at 9 and 10", got.Interactions)
	}
	for _, item := range got.Interactions {
		if item.Content == "retracted" {
			t.Error("compensated interaction was returned")
		}
	}
}

func TestWorkspaceSource(t *testing.T) {
	c := newWorkspace(t, map[string]string{
		"db/migrate.go": "package db\n// migrate runs database migrations\n",
		"db/pool.go":    "package db\n// pool manages database connections\n",
		"ui/view.go":    "package ui\n// render draws the view\n",
	})
	src := NewWorkspaceSource(c)

	got, err := src.Fetch(context.Background(), "database migrations", "s", 1000)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	keys := got.SnapshotKeys()
	if strings.Join(keys, ",") != "file:db/migrate.go,file:db/pool.go" {
		t.Errorf("keys = %v", keys)
	}
	if got.Score != 1 {
		t.Errorf("Score = %v, want 1", got.Score)
	}

	small, err := src.Fetch(context.Background(), "database migrations", "s", 12)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if small.Tokens() > 12 {
		t.Errorf("tokens = %d over budget", small.Tokens())
	}
	if _, ok := small.Snapshot["file:db/migrate.go"]; !ok {
		t.Errorf("best match missing from small snapshot: %v", small.SnapshotKeys())
	}

	none, err := src.Fetch(context.Background(), "kubernetes", "s", 1000)
	if err != nil || !none.Empty() {
		t.Errorf("Fetch(unrelated) = %+v, %v; want empty", none, err)
	}
}

// vocabEmbedder embeds texts as counts over a fixed vocabulary.
type vocabEmbedder struct {
	vocab []string
	err   error
	calls int
}

func (e *vocabEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(e.vocab))
		lower := strings.ToLower(text)
		for j, word := range e.vocab {
			vec[j] = float32(strings.Count(lower, word))
		}
		out[i] = vec
	}
	return out, nil
}

func TestSemanticSource(t *testing.T) {
	files := map[string]string{
		"notes/cache.md":  "eviction policy for the cache layer\n",
		"notes/auth.md":   "token refresh and login flow\n",
		"notes/deploy.md": "rollout steps for deploy\n",
	}
	tests := []struct {
		name     string
		embedder *vocabEmbedder
	}{
		{name: "embeddings", embedder: &vocabEmbedder{vocab: []string{"cache", "token", "deploy", "eviction"}}},
		{name: "lexical fallback", embedder: &vocabEmbedder{err: errors.New("quota exceeded")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newWorkspace(t, files)
			src := NewSemanticSource(c, tt.embedder, config.EmbeddingsConfig{ChunkTokens: 50, TopK: 1}, nil)

			got, err := src.Fetch(context.Background(), "cache eviction", "s", 100)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			keys := got.SnapshotKeys()
			if len(keys) != 1 || keys[0] != "chunk:notes/cache.md#0" {
				t.Errorf("keys = %v, want the cache chunk", keys)
			}
			if got.Score <= 0 || got.Score > 1 {
				t.Errorf("Score = %v, want (0,1]", got.Score)
			}
		})
	}
}

func TestSemanticSourceCachesChunkVectors(t *testing.T) {
	c := newWorkspace(t, map[string]string{"a.md": "cache notes\n"})
	emb := &vocabEmbedder{vocab: []string{"cache"}}
	src := NewSemanticSource(c, emb, config.EmbeddingsConfig{}, nil)

	for i := 0; i < 3; i++ {
		if _, err := src.Fetch(context.Background(), "cache", "s", 100); err != nil {
			t.Fatal(err)
		}
	}
	// one batch for the chunks plus one per query
	if emb.calls != 4 {
		t.Errorf("embed calls = %d, want 4", emb.calls)
	}
}

func TestChunkDocument(t *testing.T) {
	long := strings.Repeat("abcd", 30)
	doc := Document{Path: "f.txt", Content: "line one\nline two\n" + long + "\nlast\n"}
	chunks := ChunkDocument(doc, 10)
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	var rebuilt strings.Builder
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if models.EstimateTokens(c.Content) > 10 {
			t.Errorf("chunk %d has %d tokens", i, models.EstimateTokens(c.Content))
		}
		rebuilt.WriteString(c.Content)
	}
	if rebuilt.String() != doc.Content {
		t.Error("chunks do not reassemble the document")
	}
	if ChunkDocument(Document{Content: "  \n"}, 10) != nil {
		t.Error("blank document should produce no chunks")
	}
}
