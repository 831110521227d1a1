// Package embedding provides vector embedding generation for semantic search.
//
// Provider implementations: OpenAI (and compatible endpoints), a
// deterministic feature-hashing embedder used offline and as a fallback,
// and decorators for fallback and caching.
package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/creatorlens/onboarding-rag/cache"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/metrics"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// New builds the provider described by cfg, wrapped with the hash fallback
// and cache when enabled.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "hash", "":
		p = NewHash(cfg.Dimensions)
	case "openai":
		p = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
		if cfg.Fallback {
			p = &Fallback{Primary: p, Secondary: NewHash(cfg.Dimensions)}
		}
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q", cfg.Provider)
	}
	if cfg.Cache.Enable {
		p = NewCached(p, cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}
	return p, nil
}

// Fallback uses Secondary when Primary fails. Both must share dimensions.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

func (f *Fallback) Dimensions() int { return f.Primary.Dimensions() }

func (f *Fallback) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.Primary.Embed(ctx, text)
	if err == nil {
		return v, nil
	}
	logger.Warnf("embedding: primary failed, using fallback: %v", err)
	return f.Secondary.Embed(ctx, text)
}

func (f *Fallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := f.Primary.EmbedBatch(ctx, texts)
	if err == nil {
		return v, nil
	}
	logger.Warnf("embedding: primary batch failed, using fallback: %v", err)
	return f.Secondary.EmbedBatch(ctx, texts)
}

// Cached memoizes embeddings in a bounded LRU and collapses concurrent
// requests for the same text into one provider call.
type Cached struct {
	inner Provider
	lru   cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

func NewCached(inner Provider, capacity int, ttl time.Duration) *Cached {
	return &Cached{inner: inner, lru: cache.NewLRU(capacity, ttl), ttl: ttl}
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lru.Get(text); ok {
		metrics.IncCache("embedding", "hit")
		return v.([]float32), nil
	}
	metrics.IncCache("embedding", "miss")
	v, err, _ := c.group.Do(text, func() (any, error) {
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.lru.Set(text, vec, c.ttl)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var idx []int
	for i, t := range texts {
		if v, ok := c.lru.Get(t); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, t)
		idx = append(idx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[idx[j]] = v
		c.lru.Set(missing[j], v, c.ttl)
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
