package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/schema"
)

const (
	milvusIDField       = "id"
	milvusContentField  = "content"
	milvusMetadataField = "metadata"
	milvusVectorField   = "vector"
)

// MilvusStore keeps documents in a collection with fields
// id (varchar pk), content (varchar), metadata (json) and vector.
type MilvusStore struct {
	client     client.Client
	collection string
	dims       int
	metric     entity.MetricType
}

func NewMilvus(ctx context.Context, cfg config.VectorDBConfig, dims int) (*MilvusStore, error) {
	port := cfg.Port
	if port == 0 {
		port = 19530
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	c, err := client.NewClient(ctx, client.Config{
		Address:       addr,
		Username:      cfg.Username,
		Password:      cfg.Password,
		DBName:        cfg.Database,
		APIKey:        cfg.APIKey,
		EnableTLSAuth: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectordb: connect to milvus at %s: %w", addr, err)
	}
	s := &MilvusStore{client: c, collection: cfg.Collection, dims: dims, metric: milvusMetric(cfg.MetricType)}
	if err := s.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

func milvusMetric(name string) entity.MetricType {
	switch strings.ToUpper(name) {
	case "IP":
		return entity.IP
	case "L2":
		return entity.L2
	default:
		return entity.COSINE
	}
}

func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("vectordb: milvus has collection: %w", err)
	}
	if !has {
		sch := entity.NewSchema().WithName(s.collection).
			WithField(entity.NewField().WithName(milvusIDField).WithDataType(entity.FieldTypeVarChar).
				WithIsPrimaryKey(true).WithMaxLength(256)).
			WithField(entity.NewField().WithName(milvusContentField).WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(65535)).
			WithField(entity.NewField().WithName(milvusMetadataField).WithDataType(entity.FieldTypeJSON)).
			WithField(entity.NewField().WithName(milvusVectorField).WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(s.dims)))
		if err := s.client.CreateCollection(ctx, sch, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("vectordb: milvus create collection: %w", err)
		}
		idx, err := entity.NewIndexAUTOINDEX(s.metric)
		if err != nil {
			return fmt.Errorf("vectordb: milvus index params: %w", err)
		}
		if err := s.client.CreateIndex(ctx, s.collection, milvusVectorField, idx, false); err != nil {
			return fmt.Errorf("vectordb: milvus create index: %w", err)
		}
	}
	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("vectordb: milvus load collection: %w", err)
	}
	return nil
}

func (s *MilvusStore) Upsert(ctx context.Context, docs []schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	contents := make([]string, len(docs))
	metas := make([][]byte, len(docs))
	vecs := make([][]float32, len(docs))
	for i, d := range docs {
		if len(d.Embedding) != s.dims {
			return fmt.Errorf("vectordb: document %q has %d dims, collection expects %d", d.ID, len(d.Embedding), s.dims)
		}
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("vectordb: encode metadata for %q: %w", d.ID, err)
		}
		ids[i], contents[i], metas[i], vecs[i] = d.ID, d.Content, meta, d.Embedding
	}
	_, err := s.client.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvusIDField, ids),
		entity.NewColumnVarChar(milvusContentField, contents),
		entity.NewColumnJSONBytes(milvusMetadataField, metas),
		entity.NewColumnFloatVector(milvusVectorField, s.dims, vecs),
	)
	if err != nil {
		return fmt.Errorf("vectordb: milvus upsert: %w", err)
	}
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, fmt.Errorf("vectordb: milvus search params: %w", err)
	}
	res, err := s.client.Search(ctx, s.collection, nil, filterExpr(opts.Filters),
		[]string{milvusContentField, milvusMetadataField},
		[]entity.Vector{entity.FloatVector(vector)},
		milvusVectorField, s.metric, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("vectordb: milvus search: %w", err)
	}
	var out []schema.SearchResult
	for _, r := range res {
		if r.Err != nil {
			return nil, fmt.Errorf("vectordb: milvus search: %w", r.Err)
		}
		contentCol := r.Fields.GetColumn(milvusContentField)
		metaCol, _ := r.Fields.GetColumn(milvusMetadataField).(*entity.ColumnJSONBytes)
		for i := 0; i < r.ResultCount; i++ {
			id, err := r.IDs.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("vectordb: milvus id column: %w", err)
			}
			score := float64(r.Scores[i])
			if score < opts.Threshold {
				continue
			}
			doc := schema.Document{ID: id}
			if contentCol != nil {
				doc.Content, _ = contentCol.GetAsString(i)
			}
			if metaCol != nil {
				if raw, err := metaCol.ValueByIdx(i); err == nil && len(raw) > 0 {
					_ = json.Unmarshal(raw, &doc.Metadata)
				}
			}
			out = append(out, schema.SearchResult{Document: doc, Score: score})
		}
	}
	return out, nil
}

func (s *MilvusStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quoteMilvus(id)
	}
	expr := fmt.Sprintf("%s in [%s]", milvusIDField, strings.Join(quoted, ","))
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("vectordb: milvus delete: %w", err)
	}
	return nil
}

func (s *MilvusStore) Close() error { return s.client.Close() }

// filterExpr renders metadata equality filters as a boolean expression over
// the JSON field.
func filterExpr(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, 0, len(filters))
	for _, k := range sortedKeys(filters) {
		parts = append(parts, fmt.Sprintf("%s[%s] == %s", milvusMetadataField, quoteMilvus(k), quoteMilvus(filters[k])))
	}
	return strings.Join(parts, " && ")
}

func quoteMilvus(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
