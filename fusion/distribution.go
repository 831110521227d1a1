package fusion

import (
	"github.com/creatorlens/onboarding-rag/schema"
)

// DistributionStrategy min-max normalizes each list's scores to [0,1] before
// handing them to the base strategy. Useful when a backend's scores are not
// already on a comparable scale.
type DistributionStrategy struct {
	Base Strategy
}

func NewDistributionStrategy(base Strategy) *DistributionStrategy {
	if base == nil {
		base = NewWeightedStrategy()
	}
	return &DistributionStrategy{Base: base}
}

func (s *DistributionStrategy) Name() string { return "distribution_" + s.Base.Name() }

func (s *DistributionStrategy) Fuse(inputs []RetrieverResult, weights map[string]float64) []schema.SearchResult {
	normalized := make([]RetrieverResult, len(inputs))
	for i, in := range inputs {
		normalized[i] = RetrieverResult{Retriever: in.Retriever, Results: normalize(in.Results)}
	}
	return s.Base.Fuse(normalized, weights)
}

func normalize(list []schema.SearchResult) []schema.SearchResult {
	if len(list) == 0 {
		return list
	}
	lo, hi := list[0].Score, list[0].Score
	for _, item := range list {
		if item.Score < lo {
			lo = item.Score
		}
		if item.Score > hi {
			hi = item.Score
		}
	}
	out := make([]schema.SearchResult, len(list))
	span := hi - lo
	for i, item := range list {
		out[i] = item
		if span > 0 {
			out[i].Score = (item.Score - lo) / span
		} else {
			out[i].Score = 1.0
		}
	}
	return out
}
