package retriever

import (
	"context"

	"github.com/creatorlens/onboarding-rag/schema"
)

// Retriever defines a unified search interface across different backends.
// Scores are branch-local and normalized to roughly [0,1] so they can be
// fused by weight.
type Retriever interface {
	Type() string
	Search(ctx context.Context, query string, opts schema.SearchOptions) ([]schema.SearchResult, error)
}

// Branch names used for fusion weights and degradation warnings.
const (
	BranchVector  = "vector"
	BranchKeyword = "keyword"
	BranchGraph   = "graph"
)

func topKOr(topK, def int) int {
	if topK <= 0 {
		return def
	}
	return topK
}
