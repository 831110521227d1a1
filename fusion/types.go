package fusion

import (
	"sort"

	"github.com/creatorlens/onboarding-rag/schema"
)

// RetrieverResult groups the documents returned by a single retriever for a given query.
type RetrieverResult struct {
	// Retriever is the branch key used for weighting (e.g. "vector", "keyword").
	Retriever string
	Results   []schema.SearchResult
}

// Strategy merges per-branch result lists into one ranked list. Implementations
// must be deterministic: equal scores are ordered by document id.
type Strategy interface {
	Fuse(inputs []RetrieverResult, weights map[string]float64) []schema.SearchResult
	Name() string
}

// sortResults orders by score descending, then id ascending.
func sortResults(out []schema.SearchResult) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.ID < out[j].Document.ID
	})
}
