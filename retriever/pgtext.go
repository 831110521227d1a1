package retriever

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorlens/onboarding-rag/schema"
	"github.com/creatorlens/onboarding-rag/vectordb"
)

// PGTextRetriever runs Postgres full-text search over the document table
// maintained by vectordb.PGVectorStore.
type PGTextRetriever struct {
	Pool     *pgxpool.Pool
	Table    string
	Language string
}

func (r *PGTextRetriever) Type() string { return BranchKeyword }

func (r *PGTextRetriever) Search(ctx context.Context, query string, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	lang := r.Language
	if lang == "" {
		lang = "simple"
	}
	// ts_rank with normalization 32 maps rank into [0,1)
	args := []any{lang, query, topKOr(opts.TopK, 10)}
	where, args := vectordb.FilterClause(opts.Filters, args)
	cond := "tsv @@ plainto_tsquery($1::regconfig, $2)"
	if where == "" {
		where = "\nWHERE " + cond
	} else {
		where += " AND " + cond
	}
	q := fmt.Sprintf(`SELECT id, content, metadata, ts_rank(tsv, plainto_tsquery($1::regconfig, $2), 32) AS score
FROM %s%s
ORDER BY score DESC, id
LIMIT $3`, r.Table, where)
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg text search: %w", err)
	}
	defer rows.Close()
	res, err := vectordb.ScanResults(rows, opts.Threshold)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Document.KeywordScore = schema.Score(res[i].Score)
	}
	return res, nil
}
