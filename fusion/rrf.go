package fusion

import (
	"github.com/creatorlens/onboarding-rag/schema"
)

// RRFStrategy implements weighted Reciprocal Rank Fusion:
// score = Σ weight_b / (k + rank_b). Each list is assumed ranked.
type RRFStrategy struct {
	K int
}

func NewRRFStrategy(k int) *RRFStrategy {
	if k <= 0 {
		k = 60
	}
	return &RRFStrategy{K: k}
}

func (s *RRFStrategy) Name() string { return "rrf" }

func (s *RRFStrategy) Fuse(inputs []RetrieverResult, weights map[string]float64) []schema.SearchResult {
	type agg struct {
		doc   schema.Document
		score float64
	}
	byID := map[string]*agg{}
	for _, in := range inputs {
		w, ok := weights[in.Retriever]
		if !ok {
			continue
		}
		seen := map[string]bool{}
		rank := 0
		for _, item := range in.Results {
			id := item.Document.ID
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			rank++
			a, ok := byID[id]
			if !ok {
				a = &agg{doc: item.Document.Clone()}
				byID[id] = a
			} else {
				mergeBranchScores(&a.doc, item.Document)
			}
			a.score += w / (float64(s.K) + float64(rank))
		}
	}
	out := make([]schema.SearchResult, 0, len(byID))
	for _, a := range byID {
		out = append(out, schema.SearchResult{Document: a.doc, Score: a.score})
	}
	sortResults(out)
	return out
}
