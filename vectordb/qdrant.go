package vectordb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/schema"
)

// pointNamespace derives stable point UUIDs from document ids, which Qdrant
// requires to be UUIDs or integers.
var pointNamespace = uuid.MustParse("6f1d6c1e-1f55-4c39-9d27-3f0a8b6e2c11")

// QdrantStore keeps documents as points with payload {doc_id, content, metadata}.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dims       int
}

func NewQdrant(ctx context.Context, cfg config.VectorDBConfig, dims int) (*QdrantStore, error) {
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectordb: connect to qdrant at %s:%d: %w", cfg.Host, port, err)
	}
	s := &QdrantStore{client: client, collection: cfg.Collection, dims: dims}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("vectordb: qdrant collection check: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectordb: qdrant create collection: %w", err)
	}
	return nil
}

func pointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

func (s *QdrantStore) Upsert(ctx context.Context, docs []schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("vectordb: encode metadata for %q: %w", d.ID, err)
		}
		payload := map[string]any{
			"doc_id":   d.ID,
			"content":  d.Content,
			"metadata": string(meta),
		}
		for k, v := range d.Metadata {
			if sv, ok := v.(string); ok {
				payload["m_"+k] = sv
			}
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(d.ID)),
			Vectors: qdrant.NewVectorsDense(d.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectordb: qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	limit := uint64(opts.TopK)
	if limit == 0 {
		limit = 10
	}
	q := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if opts.Threshold > 0 {
		th := float32(opts.Threshold)
		q.ScoreThreshold = &th
	}
	if len(opts.Filters) > 0 {
		must := make([]*qdrant.Condition, 0, len(opts.Filters))
		for k, v := range opts.Filters {
			must = append(must, qdrant.NewMatch("m_"+k, v))
		}
		q.Filter = &qdrant.Filter{Must: must}
	}
	scored, err := s.client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("vectordb: qdrant query: %w", err)
	}
	out := make([]schema.SearchResult, 0, len(scored))
	for _, sp := range scored {
		doc := schema.Document{
			ID:      sp.Payload["doc_id"].GetStringValue(),
			Content: sp.Payload["content"].GetStringValue(),
		}
		if doc.ID == "" {
			doc.ID = sp.Id.GetUuid()
		}
		if raw := sp.Payload["metadata"].GetStringValue(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &doc.Metadata)
		}
		out = append(out, schema.SearchResult{Document: doc, Score: float64(sp.Score)})
	}
	return out, nil
}

func (s *QdrantStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(pointID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectordb: qdrant delete: %w", err)
	}
	return nil
}

func (s *QdrantStore) Close() error { return s.client.Close() }
