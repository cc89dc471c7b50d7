package sources

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/nexuscore/internal/assembler"
	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// ChunkKeyPrefix prefixes semantic snapshot keys.
const ChunkKeyPrefix = "chunk:"

const (
	defaultChunkTokens = 200
	defaultTopK        = 5
)

// Embedder turns texts into vectors. llm.OpenAIEmbedder satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunk is a slice of a workspace document.
type Chunk struct {
	Path    string
	Index   int
	Content string
}

func (c Chunk) key() string { return fmt.Sprintf("%s%s#%d", ChunkKeyPrefix, c.Path, c.Index) }

// SemanticSource ranks workspace chunks by embedding similarity to the
// query. Without an embedder, or when embedding fails, it ranks by term
// overlap instead.
type SemanticSource struct {
	corpus      *Corpus
	embedder    Embedder
	chunkTokens int
	topK        int
	logger      *slog.Logger

	mu      sync.Mutex
	version uint64
	chunks  []Chunk
	vectors [][]float32
}

func NewSemanticSource(corpus *Corpus, embedder Embedder, cfg config.EmbeddingsConfig, logger *slog.Logger) *SemanticSource {
	if logger == nil {
		logger = slog.Default()
	}
	chunkTokens := cfg.ChunkTokens
	if chunkTokens <= 0 {
		chunkTokens = defaultChunkTokens
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	return &SemanticSource{
		corpus:      corpus,
		embedder:    embedder,
		chunkTokens: chunkTokens,
		topK:        topK,
		logger:      logger.With("component", "semantic-source"),
	}
}

func (s *SemanticSource) Name() string { return config.SourceSemantic }

type scoredChunk struct {
	chunk Chunk
	score float64
}

func (s *SemanticSource) Fetch(ctx context.Context, query, _ string, budget int) (*models.Contribution, error) {
	if strings.TrimSpace(query) == "" || budget <= 0 {
		return nil, nil
	}
	chunks, vectors, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	scored := s.rank(ctx, query, chunks, vectors)
	if len(scored) == 0 {
		return nil, nil
	}

	out := &models.Contribution{Snapshot: map[string]any{}, Score: scored[0].score}
	remaining := budget
	for _, sc := range scored {
		if len(out.Snapshot) >= s.topK {
			break
		}
		key := sc.chunk.key()
		cost := models.EntryTokens(key, sc.chunk.Content)
		if cost > remaining {
			continue
		}
		out.Snapshot[key] = sc.chunk.Content
		remaining -= cost
	}
	if len(out.Snapshot) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *SemanticSource) rank(ctx context.Context, query string, chunks []Chunk, vectors [][]float32) []scoredChunk {
	scored := make([]scoredChunk, 0, len(chunks))
	if vectors != nil {
		qv, err := s.embedder.EmbedBatch(ctx, []string{query})
		if err == nil && len(qv) == 1 {
			for i, chunk := range chunks {
				sim := float64(cosineSimilarity(qv[0], vectors[i]))
				if sim <= 0 {
					continue
				}
				scored = append(scored, scoredChunk{chunk: chunk, score: math.Min(sim, 1)})
			}
			sortScored(scored)
			return scored
		}
		s.logger.WarnContext(ctx, "query embedding failed, using lexical ranking", "error", err)
	}

	terms := assembler.Terms(query)
	for _, chunk := range chunks {
		score := assembler.TermOverlap(terms, chunk.Content)
		if score == 0 {
			continue
		}
		scored = append(scored, scoredChunk{chunk: chunk, score: score})
	}
	sortScored(scored)
	return scored
}

func sortScored(scored []scoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
}

// index returns the chunks of the current corpus version and, when an
// embedder is configured, their vectors. Both are cached per version.
func (s *SemanticSource) index(ctx context.Context) ([]Chunk, [][]float32, error) {
	docs, version, err := s.corpus.Documents(ctx)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == version && s.chunks != nil {
		return s.chunks, s.vectors, nil
	}

	var chunks []Chunk
	for _, doc := range docs {
		chunks = append(chunks, ChunkDocument(doc, s.chunkTokens)...)
	}
	var vectors [][]float32
	if s.embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err = s.embedder.EmbedBatch(ctx, texts)
		if err != nil || len(vectors) != len(chunks) {
			s.logger.WarnContext(ctx, "chunk embedding failed, using lexical ranking", "error", err, "chunks", len(chunks))
			vectors = nil
		}
	}
	s.version = version
	s.chunks = chunks
	s.vectors = vectors
	return chunks, vectors, nil
}

// ChunkDocument splits a document into chunks of at most maxTokens tokens,
// breaking on line boundaries where possible.
func ChunkDocument(doc Document, maxTokens int) []Chunk {
	if strings.TrimSpace(doc.Content) == "" {
		return nil
	}
	var (
		chunks  []Chunk
		current strings.Builder
	)
	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			chunks = append(chunks, Chunk{Path: doc.Path, Index: len(chunks), Content: current.String()})
		}
		current.Reset()
	}
	for _, line := range strings.SplitAfter(doc.Content, "\n") {
		for models.EstimateTokens(line) > maxTokens {
			flush()
			head := models.TruncateToTokens(line, maxTokens)
			current.WriteString(head)
			flush()
			line = line[len(head):]
		}
		if models.EstimateTokens(current.String()+line) > maxTokens {
			flush()
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
