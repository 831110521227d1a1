package fusion

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/schema"
)

func res(id string, score float64) schema.SearchResult {
	return schema.SearchResult{Document: schema.Document{ID: id}, Score: score}
}

func ids(rs []schema.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Document.ID
	}
	return out
}

func TestWeightedSumCombinesBranches(t *testing.T) {
	inputs := []RetrieverResult{
		{Retriever: "vector", Results: []schema.SearchResult{res("a", 0.9), res("b", 0.4)}},
		{Retriever: "keyword", Results: []schema.SearchResult{res("b", 0.8), res("c", 0.2), res("b", 0.1)}},
	}
	out := NewWeightedStrategy().Fuse(inputs, map[string]float64{"vector": 0.5, "keyword": 0.5})
	require.Len(t, out, 3)
	if diff := cmp.Diff([]string{"b", "a", "c"}, ids(out)); diff != "" {
		t.Fatalf("ranking mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.6, out[0].Score, 1e-9)
	assert.InDelta(t, 0.45, out[1].Score, 1e-9)
	assert.InDelta(t, 0.1, out[2].Score, 1e-9)
}

func TestWeightedRelativeWeights(t *testing.T) {
	inputs := []RetrieverResult{
		{Retriever: "vector", Results: []schema.SearchResult{res("a", 1)}},
		{Retriever: "keyword", Results: []schema.SearchResult{res("b", 1)}},
	}
	out := NewWeightedStrategy().Fuse(inputs, map[string]float64{"vector": 2, "keyword": 3})
	assert.Equal(t, []string{"b", "a"}, ids(out))
	assert.InDelta(t, 3.0, out[0].Score, 1e-9)
}

func TestFusionIsDeterministicOnTies(t *testing.T) {
	inputs := []RetrieverResult{
		{Retriever: "vector", Results: []schema.SearchResult{res("z", 0.5), res("m", 0.5), res("a", 0.5)}},
	}
	w := map[string]float64{"vector": 1}
	for i := 0; i < 20; i++ {
		assert.Equal(t, []string{"a", "m", "z"}, ids(NewWeightedStrategy().Fuse(inputs, w)))
		assert.Equal(t, []string{"z", "m", "a"}, ids(NewRRFStrategy(60).Fuse(inputs, w)))
	}
}

func TestWeightedThreeBranchesAreStable(t *testing.T) {
	inputs := []RetrieverResult{
		{Retriever: "vector", Results: []schema.SearchResult{res("b", 0.1), res("a", 0.6)}},
		{Retriever: "keyword", Results: []schema.SearchResult{res("b", 0.2)}},
		{Retriever: "graph", Results: []schema.SearchResult{res("b", 0.3)}},
	}
	w := map[string]float64{"vector": 1, "keyword": 1, "graph": 1}
	first := NewWeightedStrategy().Fuse(inputs, w)
	require.Len(t, first, 2)
	for i := 0; i < 500; i++ {
		got := NewWeightedStrategy().Fuse(inputs, w)
		require.Equal(t, ids(first), ids(got), "run %d", i)
		require.Equal(t, first[0].Score, got[0].Score, "run %d", i)
		require.Equal(t, first[1].Score, got[1].Score, "run %d", i)
	}
}

func TestWeightedKeepsBranchScores(t *testing.T) {
	v := schema.Document{ID: "a", VectorScore: schema.Score(0.7)}
	k := schema.Document{ID: "a", KeywordScore: schema.Score(0.3)}
	out := NewWeightedStrategy().Fuse([]RetrieverResult{
		{Retriever: "vector", Results: []schema.SearchResult{{Document: v, Score: 0.7}}},
		{Retriever: "keyword", Results: []schema.SearchResult{{Document: k, Score: 0.3}}},
	}, map[string]float64{"vector": 1, "keyword": 1})
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Document.VectorScore)
	require.NotNil(t, out[0].Document.KeywordScore)
	assert.Equal(t, 0.7, *out[0].Document.VectorScore)
	assert.Equal(t, 0.3, *out[0].Document.KeywordScore)
	assert.Nil(t, v.KeywordScore)
}

func TestRRFUsesRanks(t *testing.T) {
	inputs := []RetrieverResult{
		{Retriever: "vector", Results: []schema.SearchResult{res("a", 0.9), res("b", 0.8)}},
		{Retriever: "keyword", Results: []schema.SearchResult{res("b", 5), res("a", 1)}},
		{Retriever: "unweighted", Results: []schema.SearchResult{res("c", 1)}},
	}
	out := NewRRFStrategy(1).Fuse(inputs, map[string]float64{"vector": 1, "keyword": 1})
	assert.Equal(t, []string{"a", "b"}, ids(out))
	assert.InDelta(t, 1.0/2+1.0/3, out[0].Score, 1e-9)
}

func TestDistributionNormalizes(t *testing.T) {
	inputs := []RetrieverResult{
		{Retriever: "keyword", Results: []schema.SearchResult{res("a", 12), res("b", 2), res("c", 7)}},
	}
	out := NewDistributionStrategy(nil).Fuse(inputs, map[string]float64{"keyword": 1})
	assert.Equal(t, []string{"a", "c", "b"}, ids(out))
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
	assert.InDelta(t, 0.5, out[1].Score, 1e-9)
	assert.InDelta(t, 0.0, out[2].Score, 1e-9)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(config.FusionConfig{})
	require.NoError(t, err)
	assert.Equal(t, "weighted", s.Name())

	s, err = NewStrategy(config.FusionConfig{Strategy: "RRF", RRFK: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, s.(*RRFStrategy).K)

	_, err = NewStrategy(config.FusionConfig{Strategy: "learned"})
	assert.Error(t, err)
}
