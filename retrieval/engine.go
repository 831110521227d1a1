package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creatorlens/onboarding-rag/cache"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/fusion"
	"github.com/creatorlens/onboarding-rag/metrics"
	"github.com/creatorlens/onboarding-rag/post"
	"github.com/creatorlens/onboarding-rag/retriever"
	"github.com/creatorlens/onboarding-rag/schema"
)

// BranchAll marks the warning emitted when every branch failed.
const BranchAll = "all"

// DegradedError reports a retrieval branch (or the reranker) that failed or
// timed out. The search still returns whatever the other branches produced.
type DegradedError struct {
	Branch string
	Err    error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("retrieval degraded: %s: %v", e.Branch, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// Indexer accepts documents for one of the engine's indexes.
type Indexer interface {
	Index(ctx context.Context, docs []schema.Document) error
	Remove(ctx context.Context, ids ...string) error
}

// Options tunes a single search. Zero values fall back to engine defaults;
// Weights entries override the default weight of the named branch.
type Options struct {
	TopK    int
	Weights map[string]float64
	Filters map[string]string
}

type Result struct {
	Documents      []schema.SearchResult
	Warnings       []error
	Reranked       bool
	RerankFallback bool
}

type Config struct {
	Retrievers []retriever.Retriever
	Indexers   []Indexer
	Fusion     fusion.Strategy
	Weights    map[string]float64
	TopK       int
	// MaxResults is the per-branch candidate count.
	MaxResults    int
	BranchTimeout time.Duration

	Reranker         post.Reranker
	RerankCandidates int
	RerankThreshold  float64

	Expander Expander
	Variants int

	// ResultCache holds raw results keyed by query and options; nil disables it.
	ResultCache cache.Cache
	CacheTTL    time.Duration
}

// Engine runs hybrid retrieval: concurrent branches, weighted fusion and an
// optional rerank pass. It is safe for concurrent use.
type Engine struct {
	cfg  Config
	docs sync.Map // id -> struct{}, for Stats
}

func NewEngine(cfg Config) *Engine {
	if cfg.Fusion == nil {
		cfg.Fusion = fusion.NewWeightedStrategy()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	if cfg.BranchTimeout <= 0 {
		cfg.BranchTimeout = 1500 * time.Millisecond
	}
	if cfg.RerankCandidates <= 0 {
		cfg.RerankCandidates = cfg.MaxResults
	}
	if cfg.Weights == nil {
		cfg.Weights = map[string]float64{retriever.BranchVector: 0.5, retriever.BranchKeyword: 0.5}
	}
	return &Engine{cfg: cfg}
}

type branchResult struct {
	branch  string
	results []schema.SearchResult
	err     error
}

// Search returns at most TopK documents ranked by fused (and, when configured,
// reranked) score. Branch failures are reported in Result.Warnings; the only
// error returned is the caller's context error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (Result, error) {
	ctx, span := otel.Tracer("rag/retrieval").Start(ctx, "retrieval.search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	weights := e.weights(opts.Weights)

	key := cacheKey(query, topK, weights, opts.Filters)
	if e.cfg.ResultCache != nil {
		if v, ok := e.cfg.ResultCache.Get(key); ok {
			metrics.IncCache("retrieval", "hit")
			return cloneResult(v.(Result)), nil
		}
		metrics.IncCache("retrieval", "miss")
	}

	queries := e.expand(ctx, query)
	branches := e.fanOut(ctx, queries, opts.Filters)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var (
		res    Result
		inputs []fusion.RetrieverResult
		failed int
	)
	for _, name := range sortedBranches(branches) {
		br := branches[name]
		if br.err != nil && len(br.results) == 0 {
			failed++
			res.Warnings = append(res.Warnings, &DegradedError{Branch: name, Err: br.err})
			logger.Warnf("retrieval: branch %s degraded: %v", name, br.err)
			continue
		}
		inputs = append(inputs, fusion.RetrieverResult{Retriever: name, Results: br.results})
	}
	if len(branches) > 0 && failed == len(branches) {
		res.Warnings = append(res.Warnings, &DegradedError{Branch: BranchAll, Err: errors.New("no retrieval branch succeeded")})
	}

	start := time.Now()
	fused := e.cfg.Fusion.Fuse(inputs, weights)
	metrics.ObserveFusion(len(fused))
	logger.Debugf("retrieval: fused %d branches into %d docs in %s", len(inputs), len(fused), time.Since(start))

	if e.cfg.Reranker != nil && len(fused) > 0 {
		e.rerank(ctx, query, fused, topK, &res)
	} else {
		res.Documents = head(fused, topK)
	}
	span.SetAttributes(attribute.Int("documents", len(res.Documents)), attribute.Int("warnings", len(res.Warnings)))

	// degraded results are not cached so a recovered backend is used next time
	if e.cfg.ResultCache != nil && len(res.Warnings) == 0 {
		e.cfg.ResultCache.Set(key, cloneResult(res), e.cfg.CacheTTL)
	}
	return res, nil
}

func (e *Engine) rerank(ctx context.Context, query string, fused []schema.SearchResult, topK int, res *Result) {
	candidates := head(fused, e.cfg.RerankCandidates)
	reranked, err := e.cfg.Reranker.Rerank(ctx, query, candidates)
	if err != nil {
		metrics.IncRerank("error")
		logger.Warnf("retrieval: rerank failed, keeping fused order: %v", err)
		res.Warnings = append(res.Warnings, &DegradedError{Branch: "rerank", Err: err})
		res.Documents = head(fused, topK)
		res.RerankFallback = true
		return
	}
	kept, fellBack := post.Filter(reranked, fused, e.cfg.RerankThreshold, topK)
	if fellBack {
		metrics.IncRerank("fallback")
		logger.Infof("retrieval: no document passed rerank threshold %.2f, using top %d fused", e.cfg.RerankThreshold, topK)
		res.Documents = kept
		res.RerankFallback = true
		return
	}
	metrics.IncRerank("applied")
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Document.ID < kept[j].Document.ID
	})
	res.Documents = head(kept, topK)
	res.Reranked = true
}

// fanOut runs every retriever for every query variant, each call under its
// own timeout. Results are grouped per branch; a branch counts as failed
// only when all its calls failed.
func (e *Engine) fanOut(ctx context.Context, queries []string, filters map[string]string) map[string]*branchResult {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]*branchResult, len(e.cfg.Retrievers))
	)
	for _, r := range e.cfg.Retrievers {
		out[r.Type()] = &branchResult{branch: r.Type()}
	}
	for _, q := range queries {
		for _, r := range e.cfg.Retrievers {
			wg.Add(1)
			go func(query string, r retriever.Retriever) {
				defer wg.Done()
				bctx, cancel := context.WithTimeout(ctx, e.cfg.BranchTimeout)
				defer cancel()
				bctx, span := otel.Tracer("rag/retrieval").Start(bctx, "retrieval.branch."+r.Type())
				defer span.End()

				start := time.Now()
				docs, err := r.Search(bctx, query, schema.SearchOptions{TopK: e.cfg.MaxResults, Filters: filters})
				if err == nil && bctx.Err() != nil {
					err = bctx.Err()
				}
				metrics.ObserveRetriever(r.Type(), start, len(docs), err)

				mu.Lock()
				defer mu.Unlock()
				br := out[r.Type()]
				if err != nil {
					span.RecordError(err)
					if br.err == nil {
						br.err = err
					}
					return
				}
				br.results = append(br.results, docs...)
			}(q, r)
		}
	}
	wg.Wait()
	for _, br := range out {
		if len(br.results) > 0 {
			br.err = nil
		}
		sort.SliceStable(br.results, func(i, j int) bool {
			if br.results[i].Score != br.results[j].Score {
				return br.results[i].Score > br.results[j].Score
			}
			return br.results[i].Document.ID < br.results[j].Document.ID
		})
	}
	return out
}

func (e *Engine) expand(ctx context.Context, query string) []string {
	if e.cfg.Expander == nil || e.cfg.Variants <= 0 {
		return []string{query}
	}
	variants, err := e.cfg.Expander.Expand(ctx, query, e.cfg.Variants)
	if err != nil {
		logger.Warnf("retrieval: query expansion failed: %v", err)
		return []string{query}
	}
	return variants
}

func (e *Engine) weights(override map[string]float64) map[string]float64 {
	w := make(map[string]float64, len(e.cfg.Weights)+len(override))
	for k, v := range e.cfg.Weights {
		w[k] = v
	}
	for k, v := range override {
		w[k] = v
	}
	return w
}

// Ingest adds documents to every configured index and invalidates cached
// results.
func (e *Engine) Ingest(ctx context.Context, docs []schema.Document) error {
	for _, ix := range e.cfg.Indexers {
		if err := ix.Index(ctx, docs); err != nil {
			return fmt.Errorf("retrieval: ingest: %w", err)
		}
	}
	for _, d := range docs {
		e.docs.Store(d.ID, struct{}{})
	}
	if e.cfg.ResultCache != nil {
		e.cfg.ResultCache.Purge()
	}
	return nil
}

func (e *Engine) Delete(ctx context.Context, ids ...string) error {
	for _, ix := range e.cfg.Indexers {
		if err := ix.Remove(ctx, ids...); err != nil {
			return fmt.Errorf("retrieval: delete: %w", err)
		}
	}
	for _, id := range ids {
		e.docs.Delete(id)
	}
	if e.cfg.ResultCache != nil {
		e.cfg.ResultCache.Purge()
	}
	return nil
}

type Stats struct {
	Documents int                `json:"documents"`
	Branches  []string           `json:"branches"`
	Weights   map[string]float64 `json:"weights"`
	Fusion    string             `json:"fusion"`
	Reranker  bool               `json:"reranker"`
}

// Stats reports documents ingested through this engine and its configuration.
func (e *Engine) Stats() Stats {
	n := 0
	e.docs.Range(func(_, _ any) bool { n++; return true })
	branches := make([]string, len(e.cfg.Retrievers))
	for i, r := range e.cfg.Retrievers {
		branches[i] = r.Type()
	}
	return Stats{
		Documents: n,
		Branches:  branches,
		Weights:   e.weights(nil),
		Fusion:    e.cfg.Fusion.Name(),
		Reranker:  e.cfg.Reranker != nil,
	}
}

func head(in []schema.SearchResult, n int) []schema.SearchResult {
	if n > 0 && len(in) > n {
		in = in[:n]
	}
	return append([]schema.SearchResult(nil), in...)
}

func sortedBranches(m map[string]*branchResult) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func cacheKey(query string, topK int, weights map[string]float64, filters map[string]string) string {
	var b strings.Builder
	b.WriteString(query)
	b.WriteString("|k=")
	b.WriteString(strconv.Itoa(topK))
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("|w:" + k + "=" + strconv.FormatFloat(weights[k], 'g', -1, 64))
	}
	keys = keys[:0]
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("|f:" + k + "=" + filters[k])
	}
	return b.String()
}

func cloneResult(r Result) Result {
	out := r
	out.Documents = make([]schema.SearchResult, len(r.Documents))
	for i, d := range r.Documents {
		out.Documents[i] = schema.SearchResult{Document: d.Document.Clone(), Score: d.Score}
	}
	out.Warnings = append([]error(nil), r.Warnings...)
	return out
}
