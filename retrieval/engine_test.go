package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/creatorlens/onboarding-rag/cache"
	"github.com/creatorlens/onboarding-rag/embedding"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/retriever"
	"github.com/creatorlens/onboarding-rag/schema"
	"github.com/creatorlens/onboarding-rag/vectordb"
)

type stubRetriever struct {
	name    string
	results []schema.SearchResult
	err     error
	delay   time.Duration
	calls   atomic.Int32
	queries chan string
}

func (s *stubRetriever) Type() string { return s.name }

func (s *stubRetriever) Search(ctx context.Context, query string, _ schema.SearchOptions) ([]schema.SearchResult, error) {
	s.calls.Inc()
	if s.queries != nil {
		s.queries <- query
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubReranker struct {
	scores map[string]float64
	err    error
}

func (s *stubReranker) Rerank(_ context.Context, _ string, in []schema.SearchResult) ([]schema.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]schema.SearchResult, len(in))
	for i, r := range in {
		out[i] = schema.SearchResult{Document: r.Document, Score: s.scores[r.Document.ID]}
	}
	return out, nil
}

func hit(id string, score float64) schema.SearchResult {
	return schema.SearchResult{Document: schema.Document{ID: id, Content: id}, Score: score}
}

func docIDs(r Result) []string {
	out := make([]string, len(r.Documents))
	for i, d := range r.Documents {
		out[i] = d.Document.ID
	}
	return out
}

func TestSearchFusesBranches(t *testing.T) {
	e := NewEngine(Config{
		Retrievers: []retriever.Retriever{
			&stubRetriever{name: "vector", results: []schema.SearchResult{hit("a", 0.9), hit("b", 0.3)}},
			&stubRetriever{name: "keyword", results: []schema.SearchResult{hit("b", 1.0), hit("c", 0.5)}},
		},
		TopK: 2,
	})
	res, err := e.Search(context.Background(), "creator tips", Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	// b = 0.5*0.3 + 0.5*1.0, a = 0.45
	assert.Equal(t, []string{"b", "a"}, docIDs(res))
	assert.InDelta(t, 0.65, res.Documents[0].Score, 1e-9)

	res, err = e.Search(context.Background(), "creator tips", Options{Weights: map[string]float64{"keyword": 0}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, docIDs(res))
}

func TestSearchDegradesOnBranchTimeout(t *testing.T) {
	slow := &stubRetriever{name: "vector", delay: time.Second, results: []schema.SearchResult{hit("v", 1)}}
	e := NewEngine(Config{
		Retrievers: []retriever.Retriever{
			slow,
			&stubRetriever{name: "keyword", results: []schema.SearchResult{hit("k", 0.8)}},
		},
		BranchTimeout: 20 * time.Millisecond,
	})
	start := time.Now()
	res, err := e.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []string{"k"}, docIDs(res))
	require.Len(t, res.Warnings, 1)
	var de *DegradedError
	require.True(t, errors.As(res.Warnings[0], &de))
	assert.Equal(t, "vector", de.Branch)
	assert.ErrorIs(t, res.Warnings[0], context.DeadlineExceeded)
}

func TestSearchAllBranchesFailed(t *testing.T) {
	e := NewEngine(Config{
		Retrievers: []retriever.Retriever{
			&stubRetriever{name: "vector", err: errors.New("qdrant down")},
			&stubRetriever{name: "keyword", err: errors.New("es down")},
		},
	})
	res, err := e.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	require.Len(t, res.Warnings, 3)
	var de *DegradedError
	require.True(t, errors.As(res.Warnings[2], &de))
	assert.Equal(t, BranchAll, de.Branch)
}

func TestRerankThresholdFallsBackToFusedTopK(t *testing.T) {
	e := NewEngine(Config{
		Retrievers: []retriever.Retriever{
			&stubRetriever{name: "vector", results: []schema.SearchResult{hit("a", 0.9), hit("b", 0.8), hit("c", 0.7)}},
		},
		Weights:         map[string]float64{"vector": 1},
		TopK:            2,
		Reranker:        &stubReranker{scores: map[string]float64{"a": 0.1, "b": 0.2, "c": 0.3}},
		RerankThreshold: 0.5,
	})
	res, err := e.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.True(t, res.RerankFallback)
	assert.False(t, res.Reranked)
	assert.Equal(t, []string{"a", "b"}, docIDs(res))
}

func TestRerankReordersAndFilters(t *testing.T) {
	e := NewEngine(Config{
		Retrievers: []retriever.Retriever{
			&stubRetriever{name: "vector", results: []schema.SearchResult{hit("a", 0.9), hit("b", 0.8), hit("c", 0.7)}},
		},
		Weights:         map[string]float64{"vector": 1},
		TopK:            3,
		Reranker:        &stubReranker{scores: map[string]float64{"a": 0.1, "b": 0.6, "c": 0.9}},
		RerankThreshold: 0.5,
	})
	res, err := e.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.True(t, res.Reranked)
	assert.Equal(t, []string{"c", "b"}, docIDs(res))
}

func TestRerankErrorFallsBack(t *testing.T) {
	e := NewEngine(Config{
		Retrievers: []retriever.Retriever{
			&stubRetriever{name: "vector", results: []schema.SearchResult{hit("a", 0.9)}},
		},
		Weights:  map[string]float64{"vector": 1},
		Reranker: &stubReranker{err: errors.New("reranker 503")},
	})
	res, err := e.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.True(t, res.RerankFallback)
	assert.Equal(t, []string{"a"}, docIDs(res))
	require.Len(t, res.Warnings, 1)
}

func TestResultCacheSkipsBranches(t *testing.T) {
	r := &stubRetriever{name: "vector", results: []schema.SearchResult{hit("a", 0.9)}}
	e := NewEngine(Config{
		Retrievers:  []retriever.Retriever{r},
		ResultCache: cache.NewLRU(8, time.Minute),
	})
	first, err := e.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	first.Documents[0].Document.ID = "mutated"

	second, err := e.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, []string{"a"}, docIDs(second))

	_, err = e.Search(context.Background(), "q", Options{TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(2), r.calls.Load())
}

func TestExpanderVariantsAreSearched(t *testing.T) {
	r := &stubRetriever{name: "vector", results: []schema.SearchResult{hit("a", 0.9)}, queries: make(chan string, 8)}
	exp := &LLMExpander{Provider: llm.Func{ID: "fast", Fn: func(ctx context.Context, req llm.Request) (string, error) {
		return "1. creator growth\n- creator growth\n\nchannel growth tips\nextra", nil
	}}}
	e := NewEngine(Config{Retrievers: []retriever.Retriever{r}, Expander: exp, Variants: 2})
	res, err := e.Search(context.Background(), "grow my channel", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, docIDs(res))
	close(r.queries)
	var got []string
	for q := range r.queries {
		got = append(got, q)
	}
	assert.ElementsMatch(t, []string{"grow my channel", "creator growth", "channel growth tips"}, got)
}

func TestSearchEmptyQueryAndCancelledContext(t *testing.T) {
	e := NewEngine(Config{Retrievers: []retriever.Retriever{&stubRetriever{name: "vector"}}})
	res, err := e.Search(context.Background(), "  ", Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Documents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Search(ctx, "q", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestIndexesAllBranches(t *testing.T) {
	idx := retriever.NewMemoryIndex()
	vec := &retriever.VectorRetriever{Embed: embedding.NewHash(64), Store: vectordb.NewMemory()}
	e := NewEngine(Config{
		Retrievers: []retriever.Retriever{vec, &retriever.KeywordRetriever{Index: idx}, &retriever.GraphRetriever{Index: idx}},
		Indexers:   []Indexer{vec, idx},
		Weights:    map[string]float64{"vector": 0.5, "keyword": 0.5, "graph": 0.3},
	})
	require.NoError(t, e.Ingest(context.Background(), []schema.Document{
		{ID: "guide", Content: "Creator onboarding guide: set up your channel profile", Metadata: map[string]any{"tags": []string{"onboarding", "profile"}}},
		{ID: "tax", Content: "Quarterly tax filing for freelancers"},
	}))
	res, err := e.Search(context.Background(), "onboarding profile", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Documents)
	top := res.Documents[0].Document
	assert.Equal(t, "guide", top.ID)
	assert.NotNil(t, top.VectorScore)
	assert.NotNil(t, top.KeywordScore)
	assert.NotNil(t, top.GraphScore)

	st := e.Stats()
	assert.Equal(t, 2, st.Documents)
	assert.Equal(t, []string{"vector", "keyword", "graph"}, st.Branches)
	assert.Equal(t, "weighted", st.Fusion)

	require.NoError(t, e.Delete(context.Background(), "guide"))
	res, err = e.Search(context.Background(), "onboarding profile", Options{})
	require.NoError(t, err)
	for _, d := range res.Documents {
		assert.NotEqual(t, "guide", d.Document.ID)
	}
}
