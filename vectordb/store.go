// Package vectordb stores document embeddings and answers nearest-neighbour
// queries. Backends: in-memory, Milvus, Qdrant and Postgres with pgvector.
package vectordb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/embedding"
	"github.com/creatorlens/onboarding-rag/schema"
)

// Store is a vector index over documents. Documents passed to Upsert must
// carry an embedding.
type Store interface {
	Upsert(ctx context.Context, docs []schema.Document) error
	Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.SearchResult, error)
	Delete(ctx context.Context, ids ...string) error
	Close() error
}

// New opens the store selected by cfg.
func New(ctx context.Context, cfg config.VectorDBConfig, dims int) (Store, error) {
	switch strings.ToLower(cfg.Provider) {
	case "memory", "":
		return NewMemory(), nil
	case "qdrant":
		return NewQdrant(ctx, cfg, dims)
	case "milvus":
		return NewMilvus(ctx, cfg, dims)
	case "pgvector":
		return NewPGVector(ctx, cfg, dims)
	default:
		return nil, fmt.Errorf("vectordb: unsupported provider %q", cfg.Provider)
	}
}

// MemoryStore is a brute-force cosine index.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]schema.Document
}

func NewMemory() *MemoryStore {
	return &MemoryStore{docs: map[string]schema.Document{}}
}

func (m *MemoryStore) Upsert(_ context.Context, docs []schema.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("vectordb: document %q has no embedding", d.ID)
		}
		m.docs[d.ID] = d.Clone()
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	m.mu.RLock()
	out := make([]schema.SearchResult, 0, len(m.docs))
	for _, d := range m.docs {
		if !matchFilters(d, opts.Filters) {
			continue
		}
		score := embedding.Cosine(vector, d.Embedding)
		if score < opts.Threshold {
			continue
		}
		doc := d.Clone()
		doc.Embedding = nil
		out = append(out, schema.SearchResult{Document: doc, Score: score})
	}
	m.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryStore) Close() error { return nil }

func matchFilters(d schema.Document, filters map[string]string) bool {
	for k, v := range filters {
		got, ok := d.Metadata[k]
		if !ok || fmt.Sprint(got) != v {
			return false
		}
	}
	return true
}
