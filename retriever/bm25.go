package retriever

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/tidwall/gjson"

	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/schema"
)

// BM25Retriever queries an Elasticsearch-like backend using a simple multi_match.
// Endpoint example: http://es:9200
// Index example: rag_bm25
type BM25Retriever struct {
	Endpoint string
	Index    string
	Client   *httpx.Client
	MaxTopK  int
}

func (r *BM25Retriever) Type() string { return BranchKeyword }

type esSearchRequest struct {
	Size  int            `json:"size"`
	Query map[string]any `json:"query"`
}

func (r *BM25Retriever) Search(ctx context.Context, query string, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	if r.Endpoint == "" || r.Index == "" {
		return []schema.SearchResult{}, nil
	}
	if r.Client == nil {
		return nil, fmt.Errorf("bm25 http client not configured")
	}
	topK := topKOr(opts.TopK, 10)
	if r.MaxTopK > 0 && r.MaxTopK < topK {
		topK = r.MaxTopK
	}
	match := map[string]any{
		"multi_match": map[string]any{
			"query":  query,
			"fields": []string{"content^2", "title", "metadata.*"},
		},
	}
	q := esSearchRequest{Size: topK, Query: match}
	if len(opts.Filters) > 0 {
		filter := make([]map[string]any, 0, len(opts.Filters))
		for k, v := range opts.Filters {
			filter = append(filter, map[string]any{"term": map[string]any{"metadata." + k: v}})
		}
		q.Query = map[string]any{"bool": map[string]any{"must": match, "filter": filter}}
	}
	// Build URL: {endpoint}/{index}/_search
	u, err := url.Parse(r.Endpoint)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, r.Index, "_search")
	body, err := r.Client.PostJSON(ctx, u.String(), nil, q)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	hits := gjson.GetBytes(body, "hits.hits").Array()
	maxScore := gjson.GetBytes(body, "hits.max_score").Float()
	out := make([]schema.SearchResult, 0, len(hits))
	for _, h := range hits {
		src := h.Get("_source")
		content := src.Get("content").String()
		// fallback: if no content, try title
		if content == "" {
			content = src.Get("title").String()
		}
		meta, _ := src.Value().(map[string]any)
		if m, ok := meta["metadata"].(map[string]any); ok {
			meta = m
		}
		score := h.Get("_score").Float()
		// BM25 scores are unbounded; scale by the best hit
		if maxScore > 0 {
			score /= maxScore
		}
		doc := schema.Document{ID: h.Get("_id").String(), Content: content, Metadata: meta}
		doc.KeywordScore = schema.Score(score)
		out = append(out, schema.SearchResult{Document: doc, Score: score})
	}
	return out, nil
}
