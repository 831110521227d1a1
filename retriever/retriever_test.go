package retriever

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/embedding"
	"github.com/creatorlens/onboarding-rag/schema"
	"github.com/creatorlens/onboarding-rag/vectordb"
)

func sampleDocs() []schema.Document {
	return []schema.Document{
		{ID: "d1", Content: "Creator onboarding checklist for new YouTube channels", Metadata: map[string]any{"tags": []string{"onboarding", "youtube"}, "lang": "en"}},
		{ID: "d2", Content: "Monetization rules and revenue share", Metadata: map[string]any{"tags": []any{"monetization", "revenue"}, "lang": "en"}},
		{ID: "d3", Content: "onboarding onboarding", Metadata: map[string]any{"lang": "ko"}},
	}
}

func TestKeywordRetrieverScoresAndCaps(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add(sampleDocs()...)
	r := &KeywordRetriever{Index: idx}

	res, err := r.Search(context.Background(), "onboarding", schema.SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.Len(t, res, 2)
	// d3: 2 hits / (2 words + 1)
	assert.Equal(t, "d3", res[0].Document.ID)
	assert.InDelta(t, 2.0/3.0, res[0].Score, 1e-9)
	require.NotNil(t, res[0].Document.KeywordScore)
	assert.Equal(t, "d1", res[1].Document.ID)

	res, err = r.Search(context.Background(), "onboarding", schema.SearchOptions{Filters: map[string]string{"lang": "en"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d1", res[0].Document.ID)

	res, err = r.Search(context.Background(), "   ", schema.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestGraphRetrieverTagOverlap(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add(sampleDocs()...)
	r := &GraphRetriever{Index: idx}

	res, err := r.Search(context.Background(), "youtube onboarding tips", schema.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "d1", res[0].Document.ID)
	assert.InDelta(t, 2.0/3.0, res[0].Score, 1e-9)
	require.NotNil(t, res[0].Document.GraphScore)

	idx.Delete("d1")
	res, err = r.Search(context.Background(), "youtube", schema.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestExtractTagsDerivesFromContent(t *testing.T) {
	tags := ExtractTags(schema.Document{Content: "creator creator growth growth growth an of"})
	assert.Equal(t, []string{"growth", "creator"}, tags)

	tags = ExtractTags(schema.Document{Metadata: map[string]any{"tags": "A, b ,a"}})
	assert.Equal(t, []string{"a", "b"}, tags)
}

func TestVectorRetrieverIndexAndSearch(t *testing.T) {
	r := &VectorRetriever{Embed: embedding.NewHash(64), Store: vectordb.NewMemory()}
	require.NoError(t, r.Index(context.Background(), sampleDocs()))

	res, err := r.Search(context.Background(), "monetization revenue", schema.SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d2", res[0].Document.ID)
	require.NotNil(t, res[0].Document.VectorScore)
}

func TestBM25RetrieverNormalizesScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/docs/_search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits":{"max_score":4.0,"hits":[
			{"_id":"a","_score":4.0,"_source":{"content":"alpha","metadata":{"source":"faq"}}},
			{"_id":"b","_score":2.0,"_source":{"title":"beta"}}]}}`))
	}))
	defer srv.Close()

	r := &BM25Retriever{Endpoint: srv.URL, Index: "docs", Client: httpx.NewFromConfig(&config.HTTPClientConfig{})}
	res, err := r.Search(context.Background(), "alpha", schema.SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 1.0, res[0].Score)
	assert.Equal(t, "faq", res[0].Document.Source())
	assert.Equal(t, 0.5, res[1].Score)
	assert.Equal(t, "beta", res[1].Document.Content)

	empty := &BM25Retriever{}
	res, err = empty.Search(context.Background(), "x", schema.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, res)
}
