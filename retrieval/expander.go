package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/creatorlens/onboarding-rag/llm"
)

// Expander produces alternative phrasings of a query to widen recall. The
// original query is always the first element of the result.
type Expander interface {
	Expand(ctx context.Context, query string, n int) ([]string, error)
}

// LLMExpander asks a (fast) model for n variants, one per line.
type LLMExpander struct {
	Provider llm.Provider
}

const expanderSystem = `You are a query expander for a search engine.
Generate %d alternative search queries for the user's input, covering synonyms, related terms and different aspects.
Output only the queries, one per line, without numbering or prefixes.`

func (x *LLMExpander) Expand(ctx context.Context, query string, n int) ([]string, error) {
	if n <= 0 {
		return []string{query}, nil
	}
	out, err := llm.Complete(ctx, x.Provider, fmt.Sprintf(expanderSystem, n), fmt.Sprintf("User input: %q", query))
	if err != nil {
		return nil, fmt.Errorf("query expansion: %w", err)
	}
	return dedupeVariants(query, strings.Split(out, "\n"), n), nil
}

func dedupeVariants(query string, lines []string, n int) []string {
	variants := []string{query}
	seen := map[string]bool{strings.ToLower(query): true}
	for _, line := range lines {
		v := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		variants = append(variants, v)
		if len(variants) == n+1 {
			break
		}
	}
	return variants
}
