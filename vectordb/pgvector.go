package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/schema"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVectorStore keeps documents in a Postgres table with a pgvector column.
// The table also carries a generated tsvector column so keyword retrieval can
// share it.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	table string
	dims  int
}

// NewPool opens a pgx pool with pgvector types registered on every
// connection.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectordb: parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectordb: open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectordb: ping postgres: %w", err)
	}
	return pool, nil
}

func NewPGVector(ctx context.Context, cfg config.VectorDBConfig, dims int) (*PGVectorStore, error) {
	table := cfg.Collection
	if table == "" {
		table = "rag_documents"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("vectordb: invalid table name %q", table)
	}
	// the extension must exist before AfterConnect can resolve the vector type
	if err := ensureExtension(ctx, cfg.DSN); err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	s := NewPGVectorWithPool(pool, table, dims)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func ensureExtension(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("vectordb: connect postgres: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("vectordb: create vector extension: %w", err)
	}
	return nil
}

func NewPGVectorWithPool(pool *pgxpool.Pool, table string, dims int) *PGVectorStore {
	return &PGVectorStore{pool: pool, table: table, dims: dims}
}

// Pool exposes the underlying pool for components sharing the table.
func (s *PGVectorStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PGVectorStore) Table() string { return s.table }

func (s *PGVectorStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id        TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	metadata  JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%[2]d) NOT NULL,
	tsv       tsvector GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED
);
CREATE INDEX IF NOT EXISTS %[1]s_tsv_idx ON %[1]s USING GIN (tsv);`, s.table, s.dims)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectordb: ensure schema: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, docs []schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, content, metadata, embedding) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, s.table)
	batch := &pgx.Batch{}
	for _, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("vectordb: encode metadata for %q: %w", d.ID, err)
		}
		batch.Queue(q, d.ID, d.Content, meta, pgvector.NewVector(d.Embedding))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("vectordb: pgvector upsert: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	args := []any{pgvector.NewVector(vector), topK}
	where, args := filterClause(opts.Filters, args)
	q := fmt.Sprintf(`SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
FROM %s%s
ORDER BY embedding <=> $1
LIMIT $2`, s.table, where)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectordb: pgvector search: %w", err)
	}
	defer rows.Close()
	return scanResults(rows, opts.Threshold)
}

// scanResults reads (id, content, metadata, score) rows.
func scanResults(rows pgx.Rows, threshold float64) ([]schema.SearchResult, error) {
	var out []schema.SearchResult
	for rows.Next() {
		var (
			doc   schema.Document
			meta  []byte
			score float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &meta, &score); err != nil {
			return nil, fmt.Errorf("vectordb: scan row: %w", err)
		}
		if score < threshold {
			continue
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("vectordb: decode metadata for %q: %w", doc.ID, err)
			}
		}
		out = append(out, schema.SearchResult{Document: doc, Score: score})
	}
	return out, rows.Err()
}

// ScanResults reads (id, content, metadata, score) rows for retrievers
// querying the same table shape.
func ScanResults(rows pgx.Rows, threshold float64) ([]schema.SearchResult, error) {
	return scanResults(rows, threshold)
}

// FilterClause renders metadata equality filters as a WHERE clause, binding
// values after the existing args.
func FilterClause(filters map[string]string, args []any) (string, []any) {
	return filterClause(filters, args)
}

func filterClause(filters map[string]string, args []any) (string, []any) {
	if len(filters) == 0 {
		return "", args
	}
	conds := make([]string, 0, len(filters))
	for _, k := range sortedKeys(filters) {
		args = append(args, k, filters[k])
		conds = append(conds, fmt.Sprintf("metadata->>$%d = $%d", len(args)-1, len(args)))
	}
	return "\nWHERE " + strings.Join(conds, " AND "), args
}

func (s *PGVectorStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", s.table)
	if _, err := s.pool.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("vectordb: pgvector delete: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
