package assembler

import (
	"math"
	"strings"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Scorer rates how relevant a contribution is to a query. Scores are in
// [0,1] and must depend only on the arguments.
type Scorer interface {
	Score(query string, c *models.Contribution) float64
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(query string, c *models.Contribution) float64

func (f ScorerFunc) Score(query string, c *models.Contribution) float64 { return f(query, c) }

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"are": true, "was": true, "is": true, "it": true, "of": true,
	"to": true, "in": true, "on": true, "an": true, "be": true,
	"or": true, "as": true, "at": true, "by": true, "do": true,
	"where": true, "what": true, "how": true, "when": true, "why": true,
	"which": true, "who": true, "this": true, "that": true, "these": true,
	"me": true, "my": true, "we": true, "you": true, "can": true,
}

// Terms extracts the distinct, lower-cased query terms used for lexical
// matching.
func Terms(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:'\"()[]{}<>`")
		if len(word) < 2 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		terms = append(terms, word)
	}
	return terms
}

// TermOverlap returns the fraction of terms found in text.
func TermOverlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 1
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// LexicalScorer scores by query-term overlap, raised to the source's own
// reported score when that is higher.
type LexicalScorer struct{}

func (LexicalScorer) Score(query string, c *models.Contribution) float64 {
	if c == nil {
		return 0
	}
	score := TermOverlap(Terms(query), c.Text())
	if reported := clamp(c.Score); reported > score {
		score = reported
	}
	return score
}

// clamp maps v into [0,1]; NaN scores as 0.
func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
