package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/atomic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/config"
)

type countingProvider struct {
	HashProvider
	calls atomic.Int32
	err   error
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Inc()
	if c.err != nil {
		return nil, c.err
	}
	return c.HashProvider.Embed(ctx, text)
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Inc()
	if c.err != nil {
		return nil, c.err
	}
	return c.HashProvider.EmbedBatch(ctx, texts)
}

func TestHashIsDeterministicAndNormalized(t *testing.T) {
	h := NewHash(64)
	a, _ := h.Embed(context.Background(), "creator onboarding guide")
	b, _ := h.Embed(context.Background(), "Creator, onboarding guide!")
	require.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)

	near, _ := h.Embed(context.Background(), "onboarding guide for creators")
	far, _ := h.Embed(context.Background(), "quarterly tax filing")
	assert.Greater(t, Cosine(a, near), Cosine(a, far))
}

func TestCachedCollapsesCalls(t *testing.T) {
	inner := &countingProvider{HashProvider: *NewHash(16)}
	c := NewCached(inner, 8, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "same text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, inner.calls.Load(), int32(16))

	before := inner.calls.Load()
	_, _ = c.Embed(context.Background(), "same text")
	assert.Equal(t, before, inner.calls.Load())

	vecs, err := c.EmbedBatch(context.Background(), []string{"same text", "other"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, before+1, inner.calls.Load())
}

func TestFallbackUsesSecondary(t *testing.T) {
	primary := &countingProvider{HashProvider: *NewHash(16), err: errors.New("down")}
	f := &Fallback{Primary: primary, Secondary: NewHash(16)}
	v, err := f.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, v, 16)
}

func TestNewFromConfig(t *testing.T) {
	p, err := New(config.EmbeddingConfig{Provider: "hash", Dimensions: 32, Cache: config.CacheLayerConfig{Enable: true}})
	require.NoError(t, err)
	assert.Equal(t, 32, p.Dimensions())
	_, ok := p.(*Cached)
	assert.True(t, ok)

	_, err = New(config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)
}
