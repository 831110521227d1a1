// Package rag assembles the onboarding assistant from configuration and
// exposes it to MCP clients.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/creatorlens/onboarding-rag/cache"
	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/embedding"
	"github.com/creatorlens/onboarding-rag/enrichment"
	"github.com/creatorlens/onboarding-rag/fusion"
	"github.com/creatorlens/onboarding-rag/generation"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/orchestrator"
	"github.com/creatorlens/onboarding-rag/post"
	"github.com/creatorlens/onboarding-rag/prompt"
	"github.com/creatorlens/onboarding-rag/quality"
	"github.com/creatorlens/onboarding-rag/refiner"
	"github.com/creatorlens/onboarding-rag/retrieval"
	"github.com/creatorlens/onboarding-rag/retriever"
	"github.com/creatorlens/onboarding-rag/router"
	"github.com/creatorlens/onboarding-rag/session"
	"github.com/creatorlens/onboarding-rag/vectordb"
)

const setupTimeout = 30 * time.Second

// InitError reports a component that could not be built from configuration.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ErrNoProvider is returned when a generation model has no backing provider.
var ErrNoProvider = errors.New("no provider for model")

type options struct {
	providers map[string]llm.Provider
	clock     func() time.Time
}

type Option func(*options)

// WithProvider backs the named generation model with p instead of an
// OpenAI-compatible client. It is required for every model when the LLM
// provider is "mock".
func WithProvider(name string, p llm.Provider) Option {
	return func(o *options) { o.providers[name] = p }
}

// WithClock overrides the orchestrator clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Client owns every component of the engine.
type Client struct {
	config    *config.Config
	embedder  embedding.Provider
	store     vectordb.Store
	index     *retriever.MemoryIndex
	retrieval *retrieval.Engine
	pool      *generation.Pool
	generator *generation.Engine
	semantic  *cache.SemanticCache
	sessions  session.Store
	orch      *orchestrator.Orchestrator
	closers   []io.Closer
}

// NewClient validates cfg and builds the engine. Nothing falls back
// silently: an unusable section yields an *InitError naming it.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	o := options{providers: map[string]llm.Provider{}}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	c := &Client{config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	httpClient := httpx.NewFromConfig(&cfg.HTTP)

	if err := c.initGeneration(o); err != nil {
		return nil, err
	}
	aux := c.auxProvider(generation.RoleFast)

	if err := c.initRetrieval(ctx, httpClient, aux); err != nil {
		return nil, err
	}
	if err := c.initSessions(); err != nil {
		return nil, err
	}
	if cfg.Cache.Enabled {
		c.initCache()
	}

	ref := refiner.New(cfg.Refiner,
		&refiner.LLMPolisher{Provider: aux, Persona: cfg.Refiner.Persona},
		&refiner.LLMVerifier{Provider: aux},
	)
	deps := orchestrator.Deps{
		Classifier: router.New(cfg.Router, httpClient),
		Planner:    c.planner(),
		Retrieval:  c.retrieval,
		Builder:    prompt.NewBuilder(cfg.Prompt, prompt.NewCounter(cfg.Prompt.Tokenizer, cfg.Prompt.Encoding)),
		Generator:  c.generator,
		Refiner:    ref,
		Gate:       quality.New(cfg.Quality, httpClient, aux),
		Sessions:   c.sessions,
		Clock:      o.clock,
	}
	if cfg.Enrichment.Enabled {
		svc, err := enrichment.NewHTTPService(cfg.Enrichment, httpClient)
		if err != nil {
			return nil, &InitError{Component: "enrichment", Err: err}
		}
		deps.Enricher = svc
	}
	if c.semantic != nil {
		deps.Cache = c.semantic
	}

	orch, err := orchestrator.New(deps, orchestrator.NewConfig(cfg))
	if err != nil {
		return nil, &InitError{Component: "orchestrator", Err: err}
	}
	c.orch = orch
	ok = true

	logger.Infof("rag client ready: models=%v vectordb=%s keyword=%s sessions=%s cache=%t enrichment=%t",
		c.pool.Names(), cfg.VectorDB.Provider, cfg.Pipeline.Keyword.Provider, cfg.Session.Store,
		c.semantic != nil, deps.Enricher != nil)
	return c, nil
}

func (c *Client) initGeneration(o options) error {
	cfg := c.config
	c.pool = generation.NewPool(generation.BreakerOptions{
		FailureThreshold: cfg.Generation.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Generation.Breaker.ResetTimeoutSeconds) * time.Second,
	})
	for _, m := range cfg.Generation.Models {
		p, ok := o.providers[m.Name]
		if !ok {
			if strings.EqualFold(cfg.LLM.Provider, "mock") {
				return &InitError{Component: "generation", Err: fmt.Errorf("%w %q", ErrNoProvider, m.Name)}
			}
			p = llm.NewOpenAI(openAIConfig(cfg.LLM, m))
		}
		profile := generation.ModelProfile{
			Name:        m.Name,
			Role:        generation.Role(m.Role),
			MaxTokens:   m.MaxTokens,
			ContextSize: m.ContextSize,
			Cost:        m.Cost,
			Speed:       m.Speed,
			Timeout:     time.Duration(m.TimeoutMs) * time.Millisecond,
			Temperature: m.Temperature,
		}
		if err := c.pool.Register(profile, p); err != nil {
			return &InitError{Component: "generation", Err: err}
		}
	}
	c.generator = generation.NewEngine(c.pool, generation.Options{
		MaxRetries: cfg.Generation.MaxRetries,
		Backoff:    time.Duration(cfg.Generation.BackoffMs) * time.Millisecond,
		MaxBackoff: time.Duration(cfg.Generation.MaxBackoffMs) * time.Millisecond,
		MaxJitter:  time.Duration(cfg.Generation.MaxJitterMs) * time.Millisecond,
	})
	return nil
}

func openAIConfig(shared config.LLMConfig, m config.ModelConfig) llm.OpenAIConfig {
	oc := llm.OpenAIConfig{
		Name:        m.Name,
		Model:       m.Model,
		APIKey:      m.APIKey,
		BaseURL:     m.BaseURL,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
		Timeout:     time.Duration(m.TimeoutMs) * time.Millisecond,
	}
	if oc.Model == "" {
		oc.Model = shared.Model
	}
	if oc.APIKey == "" {
		oc.APIKey = shared.APIKey
	}
	if oc.BaseURL == "" {
		oc.BaseURL = shared.BaseURL
	}
	if oc.MaxTokens == 0 {
		oc.MaxTokens = shared.MaxTokens
	}
	if oc.Temperature == 0 {
		oc.Temperature = shared.Temperature
	}
	return oc
}

// auxProvider returns the model used for side calls (expansion, polish,
// evaluation, planning), preferring role and then the default model.
func (c *Client) auxProvider(role generation.Role) llm.Provider {
	for _, r := range []generation.Role{role, generation.RoleDefault} {
		if prof, ok := c.pool.ByRole(r); ok {
			if p, ok := c.pool.Provider(prof.Name); ok {
				return p
			}
		}
	}
	return nil
}

func (c *Client) planner() orchestrator.Planner {
	heuristic := orchestrator.HeuristicPlanner{}
	if !strings.EqualFold(c.config.Orchestrator.Planner, "llm") {
		return heuristic
	}
	deep := c.auxProvider(generation.RoleDeep)
	if deep == nil {
		logger.Warnf("planner: no model available for llm planning, using heuristic planner")
		return heuristic
	}
	return &orchestrator.LLMPlanner{Provider: deep, Fallback: heuristic}
}

func (c *Client) initRetrieval(ctx context.Context, httpClient *httpx.Client, aux llm.Provider) error {
	cfg := c.config
	pc := cfg.Pipeline

	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return &InitError{Component: "embedding", Err: err}
	}
	c.embedder = emb

	store, err := vectordb.New(ctx, cfg.VectorDB, emb.Dimensions())
	if err != nil {
		return &InitError{Component: "vectordb", Err: err}
	}
	c.store = store
	c.closers = append(c.closers, store)

	vector := &retriever.VectorRetriever{Embed: emb, Store: store, TopK: pc.MaxResults, Threshold: pc.Threshold}
	retrievers := []retriever.Retriever{vector}
	indexers := []retrieval.Indexer{vector}
	weights := map[string]float64{
		retriever.BranchVector:  pc.VectorWeight,
		retriever.BranchKeyword: pc.KeywordWeight,
	}

	keyword, err := c.keywordRetriever(ctx, httpClient)
	if err != nil {
		return err
	}
	retrievers = append(retrievers, keyword)
	if c.index != nil {
		indexers = append(indexers, c.index)
	}
	if pc.EnableGraph {
		if c.index == nil {
			c.index = retriever.NewMemoryIndex()
			indexers = append(indexers, c.index)
		}
		retrievers = append(retrievers, &retriever.GraphRetriever{Index: c.index})
		weights[retriever.BranchGraph] = pc.GraphWeight
	}

	strategy, err := fusion.NewStrategy(pc.Fusion)
	if err != nil {
		return &InitError{Component: "fusion", Err: err}
	}
	rc := retrieval.Config{
		Retrievers:    retrievers,
		Indexers:      indexers,
		Fusion:        strategy,
		Weights:       weights,
		TopK:          pc.TopK,
		MaxResults:    pc.MaxResults,
		BranchTimeout: time.Duration(pc.BranchTimeoutMs) * time.Millisecond,
	}
	if pc.Post.Rerank.Enable {
		rr, err := post.New(pc.Post.Rerank, httpClient, aux)
		if err != nil {
			return &InitError{Component: "rerank", Err: err}
		}
		rc.Reranker = rr
		rc.RerankCandidates = pc.Post.Rerank.Candidates
		rc.RerankThreshold = pc.Post.Rerank.Threshold
	}
	if pc.Expansion.Enabled && aux != nil {
		rc.Expander = &retrieval.LLMExpander{Provider: aux}
		rc.Variants = pc.Expansion.Variants
	}
	if pc.Cache.Enable {
		rc.ResultCache = cache.NewLRU(pc.Cache.MaxEntries, time.Duration(pc.Cache.TTLSeconds)*time.Second)
		rc.CacheTTL = time.Duration(pc.Cache.TTLSeconds) * time.Second
	}
	c.retrieval = retrieval.NewEngine(rc)
	return nil
}

func (c *Client) keywordRetriever(ctx context.Context, httpClient *httpx.Client) (retriever.Retriever, error) {
	kc := c.config.Pipeline.Keyword
	switch strings.ToLower(kc.Provider) {
	case "", "memory":
		c.index = retriever.NewMemoryIndex()
		return &retriever.KeywordRetriever{Index: c.index}, nil
	case "elasticsearch":
		return &retriever.BM25Retriever{
			Endpoint: kc.Endpoint,
			Index:    kc.Index,
			Client:   httpClient,
			MaxTopK:  c.config.Pipeline.MaxResults,
		}, nil
	case "postgres":
		if pg, ok := c.store.(*vectordb.PGVectorStore); ok && kc.DSN == "" {
			return &retriever.PGTextRetriever{Pool: pg.Pool(), Table: pg.Table(), Language: kc.Language}, nil
		}
		if kc.DSN == "" {
			return nil, &InitError{Component: "keyword", Err: errors.New("postgres keyword search needs a dsn or the pgvector store")}
		}
		pool, err := vectordb.NewPool(ctx, kc.DSN)
		if err != nil {
			return nil, &InitError{Component: "keyword", Err: err}
		}
		c.closers = append(c.closers, closerFunc(func() error { pool.Close(); return nil }))
		return &retriever.PGTextRetriever{Pool: pool, Table: kc.Table, Language: kc.Language}, nil
	default:
		return nil, &InitError{Component: "keyword", Err: fmt.Errorf("unsupported provider %q", kc.Provider)}
	}
}

func (c *Client) initSessions() error {
	sc := c.config.Session
	ttl := time.Duration(sc.TTLSeconds) * time.Second
	switch strings.ToLower(sc.Store) {
	case "", "memory":
		c.sessions = session.NewMemoryStore(ttl, sc.MaxTurns)
	case "redis":
		if sc.Redis.Address == "" {
			return &InitError{Component: "session", Err: errors.New("redis address is required")}
		}
		rdb := session.NewRedisClient(sc.Redis)
		c.closers = append(c.closers, rdb)
		c.sessions = session.NewRedisStore(rdb, sc.Redis.Prefix, ttl, sc.MaxTurns)
	default:
		return &InitError{Component: "session", Err: fmt.Errorf("unsupported store %q", sc.Store)}
	}
	return nil
}

func (c *Client) initCache() {
	cc := c.config.Cache
	opts := cache.SemanticOptions{
		Capacity:      cc.Capacity,
		TTL:           time.Duration(cc.TTLSeconds) * time.Second,
		AffectingKeys: cc.AffectingKeys,
	}
	if cc.Redis != nil && cc.Redis.Address != "" {
		rdb := session.NewRedisClient(*cc.Redis)
		c.closers = append(c.closers, rdb)
		opts.L2 = cache.NewRedisStore(rdb, cc.Redis.Prefix)
	}
	c.semantic = cache.NewSemantic(opts)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Process answers one request. It never returns nil.
func (c *Client) Process(ctx context.Context, req orchestrator.Request) *orchestrator.Response {
	return c.orch.Process(ctx, req)
}

// ProcessStream is Process with progress events; see orchestrator.ProcessStream.
func (c *Client) ProcessStream(ctx context.Context, req orchestrator.Request) <-chan orchestrator.StreamEvent {
	return c.orch.ProcessStream(ctx, req)
}

// ClearSession drops the stored history of a session.
func (c *Client) ClearSession(ctx context.Context, id string) error {
	if id == "" {
		return session.ErrEmptyID
	}
	if err := c.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("clear session %s: %w", id, err)
	}
	return nil
}

// Search runs the retrieval engine alone.
func (c *Client) Search(ctx context.Context, query string, topK int) (retrieval.Result, error) {
	return c.retrieval.Search(ctx, query, retrieval.Options{TopK: topK})
}

type ModelStatus struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
}

type Stats struct {
	Retrieval retrieval.Stats `json:"retrieval"`
	Cache     *cache.Stats    `json:"cache,omitempty"`
	Models    []ModelStatus   `json:"models"`
}

func (c *Client) Stats() Stats {
	s := Stats{Retrieval: c.retrieval.Stats()}
	if c.semantic != nil {
		cs := c.semantic.Stats()
		s.Cache = &cs
	}
	for _, name := range c.pool.Names() {
		prof, _ := c.pool.Profile(name)
		snap, _ := c.pool.Breaker(name)
		s.Models = append(s.Models, ModelStatus{
			Name:     name,
			Role:     string(prof.Role),
			State:    snap.State.String(),
			Failures: snap.ConsecutiveFailures,
		})
	}
	return s
}

// Close releases store and Redis connections.
func (c *Client) Close() error {
	var result *multierror.Error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.closers = nil
	return result.ErrorOrNil()
}
