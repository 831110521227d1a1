package post

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/schema"
)

func candidates() []schema.SearchResult {
	return []schema.SearchResult{
		{Document: schema.Document{ID: "a", Content: "x"}, Score: 0.9},
		{Document: schema.Document{ID: "b", Content: "yy"}, Score: 0.8},
	}
}

func TestHTTPRerankerReorders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req rerankReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "q", req.Query)
		_, _ = w.Write([]byte(`{"ranking":[{"id":"a","score":0.2},{"id":"b","score":0.95},{"id":"zz","score":1}]}`))
	}))
	defer srv.Close()

	rr := &HTTPReranker{Endpoint: srv.URL, APIKey: "k", Client: httpx.NewFromConfig(nil)}
	in := candidates()
	out, err := rr.Rerank(context.Background(), "q", in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Document.ID)
	require.NotNil(t, out[0].Document.RerankScore)
	assert.Equal(t, 0.95, *out[0].Document.RerankScore)
	assert.Nil(t, in[1].Document.RerankScore)
}

func TestHTTPRerankerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ranking":[]}`))
	}))
	defer srv.Close()

	_, err := (&HTTPReranker{Endpoint: srv.URL, Client: httpx.NewFromConfig(nil)}).Rerank(context.Background(), "q", candidates())
	assert.Error(t, err)

	_, err = (&HTTPReranker{}).Rerank(context.Background(), "q", candidates())
	assert.Error(t, err)
}

func TestModelRerankerUsesIndexes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.1},{"index":1,"relevance_score":0.7},{"index":9,"relevance_score":0.9}]}`))
	}))
	defer srv.Close()

	out, err := (&ModelReranker{Endpoint: srv.URL, Client: httpx.NewFromConfig(nil)}).Rerank(context.Background(), "q", candidates())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"b", "a"}, []string{out[0].Document.ID, out[1].Document.ID})
}

func TestLLMRerankerScalesScores(t *testing.T) {
	replies := []string{"3", "Score: 9"}
	calls := 0
	p := llm.Func{ID: "judge", Fn: func(ctx context.Context, req llm.Request) (string, error) {
		calls++
		return replies[calls-1], nil
	}}
	out, err := (&LLMReranker{Provider: p}).Rerank(context.Background(), "q", candidates())
	require.NoError(t, err)
	assert.Equal(t, "b", out[0].Document.ID)
	assert.InDelta(t, 0.9, out[0].Score, 1e-9)
	assert.InDelta(t, 0.3, out[1].Score, 1e-9)
}

func TestLLMRerankerKeepsScoreOnFailure(t *testing.T) {
	p := llm.Func{ID: "judge", Fn: func(ctx context.Context, req llm.Request) (string, error) {
		return "", errors.New("boom")
	}}
	out, err := (&LLMReranker{Provider: p}).Rerank(context.Background(), "q", candidates())
	require.NoError(t, err)
	assert.Equal(t, 0.9, out[0].Score)
}

func TestKeywordRerankerBoostsMatches(t *testing.T) {
	in := []schema.SearchResult{
		{Document: schema.Document{ID: "a", Content: "general platform notes"}, Score: 0.6},
		{Document: schema.Document{ID: "b", Content: "monetization rules: monetization requires 1000 subscribers"}, Score: 0.4},
	}
	out, err := (&KeywordReranker{}).Rerank(context.Background(), "How does monetization work?", in)
	require.NoError(t, err)
	assert.Equal(t, "b", out[0].Document.ID)
	// 0.4*0.5 + 0.1 + 0.1 + min(0.05*2, 0.2)
	assert.InDelta(t, 0.5, out[0].Score, 1e-9)
	assert.InDelta(t, 0.3, out[1].Score, 1e-9)
}

func TestFilterFallsBackWhenEmpty(t *testing.T) {
	before := []schema.SearchResult{
		{Document: schema.Document{ID: "a"}, Score: 0.9},
		{Document: schema.Document{ID: "b"}, Score: 0.8},
		{Document: schema.Document{ID: "c"}, Score: 0.7},
	}
	reranked := []schema.SearchResult{
		{Document: schema.Document{ID: "c"}, Score: 0.2},
		{Document: schema.Document{ID: "a"}, Score: 0.1},
	}
	out, fell := Filter(reranked, before, 0.5, 2)
	assert.True(t, fell)
	assert.Equal(t, []string{"a", "b"}, []string{out[0].Document.ID, out[1].Document.ID})

	reranked[0].Score = 0.6
	out, fell = Filter(reranked, before, 0.5, 2)
	assert.False(t, fell)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].Document.ID)

	out, fell = Filter(nil, nil, 0.5, 2)
	assert.False(t, fell)
	assert.Empty(t, out)
}

func TestNewReranker(t *testing.T) {
	r, err := New(config.RerankConfig{}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &KeywordReranker{}, r)

	_, err = New(config.RerankConfig{Provider: "llm"}, nil, nil)
	assert.Error(t, err)

	_, err = New(config.RerankConfig{Provider: "colbert"}, nil, nil)
	assert.Error(t, err)
}

func TestClipKeepsHeadAndTail(t *testing.T) {
	text := strings.Repeat("a", 100) + strings.Repeat("z", 100)
	out := Clip(text, 80)
	assert.LessOrEqual(t, len(out), 80)
	assert.True(t, strings.HasPrefix(out, "aaaa"))
	assert.True(t, strings.HasSuffix(out, "zzzz"))
	assert.Contains(t, out, "[TRUNCATED]")

	assert.Equal(t, "short", Clip("short", 80))

	korean := strings.Repeat("가", 100)
	assert.True(t, utf8.ValidString(Clip(korean, 60)))
}
