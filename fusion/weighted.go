package fusion

import (
	"sort"

	"github.com/creatorlens/onboarding-rag/schema"
)

// WeightedStrategy sums weight × branch score per document. Weights are
// relative and need not sum to 1; a branch without a weight counts with 0.
// When a branch returns the same document twice, its best score is used.
type WeightedStrategy struct{}

func NewWeightedStrategy() *WeightedStrategy { return &WeightedStrategy{} }

func (s *WeightedStrategy) Name() string { return "weighted" }

func (s *WeightedStrategy) Fuse(inputs []RetrieverResult, weights map[string]float64) []schema.SearchResult {
	type agg struct {
		doc    schema.Document
		scores map[string]float64
	}
	byID := map[string]*agg{}
	for _, in := range inputs {
		for _, item := range in.Results {
			id := item.Document.ID
			if id == "" {
				continue
			}
			a, ok := byID[id]
			if !ok {
				a = &agg{doc: item.Document.Clone(), scores: map[string]float64{}}
				byID[id] = a
			} else {
				mergeBranchScores(&a.doc, item.Document)
			}
			if prev, seen := a.scores[in.Retriever]; !seen || item.Score > prev {
				a.scores[in.Retriever] = item.Score
			}
		}
	}

	out := make([]schema.SearchResult, 0, len(byID))
	for _, a := range byID {
		branches := make([]string, 0, len(a.scores))
		for branch := range a.scores {
			branches = append(branches, branch)
		}
		// Summation order is fixed so equal inputs produce bit-identical scores.
		sort.Strings(branches)
		var combined float64
		for _, branch := range branches {
			combined += weights[branch] * a.scores[branch]
		}
		out = append(out, schema.SearchResult{Document: a.doc, Score: combined})
	}
	sortResults(out)
	return out
}

// mergeBranchScores copies branch scores from src into dst, keeping the
// higher value where both are set.
func mergeBranchScores(dst *schema.Document, src schema.Document) {
	dst.VectorScore = maxScore(dst.VectorScore, src.VectorScore)
	dst.KeywordScore = maxScore(dst.KeywordScore, src.KeywordScore)
	dst.GraphScore = maxScore(dst.GraphScore, src.GraphScore)
}

func maxScore(a, b *float64) *float64 {
	switch {
	case b == nil:
		return a
	case a == nil || *b > *a:
		return schema.Score(*b)
	default:
		return a
	}
}
