package retriever

import (
	"context"
	"fmt"

	"github.com/creatorlens/onboarding-rag/embedding"
	"github.com/creatorlens/onboarding-rag/schema"
	"github.com/creatorlens/onboarding-rag/vectordb"
)

// VectorRetriever implements Retriever using embedding+vector store backend.
type VectorRetriever struct {
	Embed embedding.Provider
	Store vectordb.Store
	TopK  int
	// Threshold is passed to the store as a score cutoff.
	Threshold float64
}

func (r *VectorRetriever) Type() string { return BranchVector }

func (r *VectorRetriever) Search(ctx context.Context, query string, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	opts.TopK = topKOr(opts.TopK, topKOr(r.TopK, 10))
	if opts.Threshold == 0 {
		opts.Threshold = r.Threshold
	}
	v, err := r.Embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector retriever: embed query: %w", err)
	}
	res, err := r.Store.Search(ctx, v, opts)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Document.VectorScore = schema.Score(res[i].Score)
	}
	return res, nil
}

// Index embeds docs and writes them to the store.
func (r *VectorRetriever) Index(ctx context.Context, docs []schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := r.Embed.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("vector retriever: embed documents: %w", err)
	}
	out := make([]schema.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
		out[i].Embedding = vecs[i]
	}
	return r.Store.Upsert(ctx, out)
}

func (r *VectorRetriever) Remove(ctx context.Context, ids ...string) error {
	return r.Store.Delete(ctx, ids...)
}
