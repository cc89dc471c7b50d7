package sources

import (
	"context"
	"sort"

	"github.com/haasonsaas/nexuscore/internal/assembler"
	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// FileKeyPrefix prefixes workspace snapshot keys.
const FileKeyPrefix = "file:"

// WorkspaceSource contributes the workspace files that best match the
// query, whole files first and the last one cut to the remaining budget.
type WorkspaceSource struct {
	corpus *Corpus
}

func NewWorkspaceSource(corpus *Corpus) *WorkspaceSource {
	return &WorkspaceSource{corpus: corpus}
}

func (w *WorkspaceSource) Name() string { return config.SourceWorkspace }

type rankedDoc struct {
	doc   Document
	score float64
}

func (w *WorkspaceSource) Fetch(ctx context.Context, query, _ string, budget int) (*models.Contribution, error) {
	docs, _, err := w.corpus.Documents(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 || budget <= 0 {
		return nil, nil
	}

	terms := assembler.Terms(query)
	ranked := make([]rankedDoc, 0, len(docs))
	for _, doc := range docs {
		score := assembler.TermOverlap(terms, doc.Path+"\n"+doc.Content)
		if score == 0 {
			continue
		}
		ranked = append(ranked, rankedDoc{doc: doc, score: score})
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := &models.Contribution{Snapshot: map[string]any{}, Score: ranked[0].score}
	remaining := budget
	for _, r := range ranked {
		key := FileKeyPrefix + r.doc.Path
		cost := models.EntryTokens(key, r.doc.Content)
		if cost <= remaining {
			out.Snapshot[key] = r.doc.Content
			remaining -= cost
			continue
		}
		avail := remaining - models.EstimateTokens(key)
		if avail > 0 {
			out.Snapshot[key] = models.TruncateToTokens(r.doc.Content, avail)
		}
		break
	}
	if len(out.Snapshot) == 0 {
		return nil, nil
	}
	return out, nil
}
