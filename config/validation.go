package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d configuration error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Message))
	}
	return b.String()
}

// Has reports whether any error refers to field.
func (errs ValidationErrors) Has(field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the complete configuration
func (c *Config) Validate() error {
	var errs ValidationErrors
	errs = append(errs, c.validateGeneration()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateVectorDB()...)
	errs = append(errs, c.validatePipeline()...)
	errs = append(errs, c.validatePrompt()...)
	errs = append(errs, c.validateOrchestrator()...)
	errs = append(errs, c.validateServices()...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

var validRoles = map[string]bool{"default": true, "fast": true, "deep": true, "fallback": true}

func (c *Config) validateGeneration() ValidationErrors {
	var errs ValidationErrors
	g := c.Generation
	if len(g.Models) == 0 {
		errs = append(errs, ValidationError{
			Field:   "generation.models",
			Message: "at least one generation model is required",
		})
	}
	seen := map[string]bool{}
	hasDefault := false
	for i, m := range g.Models {
		if m.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("generation.models[%d].name", i),
				Message: "model name is required",
			})
		}
		if seen[m.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("generation.models[%d].name", i),
				Message: fmt.Sprintf("duplicate model name %q", m.Name),
			})
		}
		seen[m.Name] = true
		if !validRoles[m.Role] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("generation.models[%d].role", i),
				Message: fmt.Sprintf("model role must be one of default, fast, deep, fallback, got %q", m.Role),
			})
		}
		if m.Role == "default" {
			hasDefault = true
		}
	}
	if len(g.Models) > 0 && !hasDefault {
		errs = append(errs, ValidationError{
			Field:   "generation.models",
			Message: "one model must have the default role",
		})
	}
	if g.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "generation.max_retries",
			Message: fmt.Sprintf("generation.max_retries must be non-negative, got %d", g.MaxRetries),
		})
	}
	if g.Breaker.FailureThreshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "generation.breaker.failure_threshold",
			Message: fmt.Sprintf("breaker failure threshold must be positive, got %d", g.Breaker.FailureThreshold),
		})
	}
	if g.Breaker.ResetTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "generation.breaker.reset_timeout_seconds",
			Message: fmt.Sprintf("breaker reset timeout must be positive, got %d", g.Breaker.ResetTimeoutSeconds),
		})
	}
	if strings.EqualFold(c.LLM.Provider, "openai") && c.LLM.APIKey == "" {
		for i, m := range g.Models {
			if m.APIKey == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("generation.models[%d].api_key", i),
					Message: fmt.Sprintf("api key is required for model %q (set OPENAI_API_KEY)", m.Name),
				})
			}
		}
	}
	return errs
}

// validateEmbedding validates embedding configuration
func (c *Config) validateEmbedding() ValidationErrors {
	var errs ValidationErrors
	switch strings.ToLower(c.Embedding.Provider) {
	case "hash":
	case "openai":
		if c.Embedding.Model == "" {
			errs = append(errs, ValidationError{
				Field:   "embedding.model",
				Message: "embedding model is required",
			})
		}
	case "":
		errs = append(errs, ValidationError{
			Field:   "embedding.provider",
			Message: "embedding provider is required",
		})
	default:
		errs = append(errs, ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unsupported embedding provider %q", c.Embedding.Provider),
		})
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, ValidationError{
			Field:   "embedding.dimensions",
			Message: fmt.Sprintf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions),
		})
	}
	if c.Embedding.Dimensions > 4096 {
		errs = append(errs, ValidationError{
			Field:   "embedding.dimensions",
			Message: fmt.Sprintf("embedding dimensions %d is outside typical range [1, 4096]", c.Embedding.Dimensions),
		})
	}
	return errs
}

// validateVectorDB validates vector database configuration
func (c *Config) validateVectorDB() ValidationErrors {
	var errs ValidationErrors
	switch strings.ToLower(c.VectorDB.Provider) {
	case "memory":
	case "milvus", "qdrant":
		if c.VectorDB.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "vectordb.host",
				Message: fmt.Sprintf("vectordb host is required for %s provider", c.VectorDB.Provider),
			})
		}
		if c.VectorDB.Collection == "" {
			errs = append(errs, ValidationError{
				Field:   "vectordb.collection",
				Message: fmt.Sprintf("collection name is required for %s provider", c.VectorDB.Provider),
			})
		}
	case "pgvector":
		if c.VectorDB.DSN == "" {
			errs = append(errs, ValidationError{
				Field:   "vectordb.dsn",
				Message: "dsn is required for pgvector provider",
			})
		}
	case "":
		errs = append(errs, ValidationError{
			Field:   "vectordb.provider",
			Message: "vectordb provider is required",
		})
	default:
		errs = append(errs, ValidationError{
			Field:   "vectordb.provider",
			Message: fmt.Sprintf("unsupported vectordb provider %q", c.VectorDB.Provider),
		})
	}
	return errs
}

// validatePipeline validates retrieval pipeline configuration
func (c *Config) validatePipeline() ValidationErrors {
	var errs ValidationErrors
	p := c.Pipeline
	if p.TopK <= 0 || p.TopK > 100 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.top_k",
			Message: fmt.Sprintf("pipeline.top_k must be in [1, 100], got %d", p.TopK),
		})
	}
	if p.VectorWeight < 0 || p.KeywordWeight < 0 || p.GraphWeight < 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.weights",
			Message: "retrieval weights must be non-negative",
		})
	}
	if p.VectorWeight+p.KeywordWeight+p.GraphWeight == 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.weights",
			Message: "at least one retrieval weight must be positive",
		})
	}
	if p.BranchTimeoutMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.branch_timeout_ms",
			Message: fmt.Sprintf("pipeline.branch_timeout_ms must be positive, got %d", p.BranchTimeoutMs),
		})
	}
	switch strings.ToLower(p.Keyword.Provider) {
	case "", "memory":
	case "elasticsearch":
		if p.Keyword.Endpoint == "" {
			errs = append(errs, ValidationError{
				Field:   "pipeline.keyword.endpoint",
				Message: "endpoint is required for elasticsearch keyword provider",
			})
		}
	case "postgres":
		if p.Keyword.DSN == "" && !strings.EqualFold(c.VectorDB.Provider, "pgvector") {
			errs = append(errs, ValidationError{
				Field:   "pipeline.keyword.dsn",
				Message: "dsn is required for postgres keyword provider unless the vector store is pgvector",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "pipeline.keyword.provider",
			Message: fmt.Sprintf("unsupported keyword provider %q", p.Keyword.Provider),
		})
	}
	switch strings.ToLower(p.Fusion.Strategy) {
	case "", "weighted", "rrf":
	default:
		errs = append(errs, ValidationError{
			Field:   "pipeline.fusion.strategy",
			Message: fmt.Sprintf("unsupported fusion strategy %q", p.Fusion.Strategy),
		})
	}
	rr := p.Post.Rerank
	if rr.Enable {
		if strings.EqualFold(rr.Provider, "http") && rr.Endpoint == "" {
			errs = append(errs, ValidationError{
				Field:   "pipeline.post.rerank.endpoint",
				Message: "endpoint is required for http reranker",
			})
		}
		if rr.Threshold < 0 || rr.Threshold > 1 {
			errs = append(errs, ValidationError{
				Field:   "pipeline.post.rerank.threshold",
				Message: fmt.Sprintf("rerank threshold must be in [0, 1], got %.2f", rr.Threshold),
			})
		}
	}
	return errs
}

func (c *Config) validatePrompt() ValidationErrors {
	var errs ValidationErrors
	if c.Prompt.MaxContextTokens <= c.Prompt.ReservedOutput {
		errs = append(errs, ValidationError{
			Field:   "prompt.max_context_tokens",
			Message: fmt.Sprintf("prompt.max_context_tokens (%d) must exceed reserved output tokens (%d)", c.Prompt.MaxContextTokens, c.Prompt.ReservedOutput),
		})
	}
	switch strings.ToLower(c.Prompt.Tokenizer) {
	case "", "approx", "tiktoken":
	default:
		errs = append(errs, ValidationError{
			Field:   "prompt.tokenizer",
			Message: fmt.Sprintf("unsupported tokenizer %q", c.Prompt.Tokenizer),
		})
	}
	return errs
}

func (c *Config) validateOrchestrator() ValidationErrors {
	var errs ValidationErrors
	if c.Orchestrator.MaxLoops < 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.max_loops",
			Message: fmt.Sprintf("orchestrator.max_loops must be non-negative, got %d", c.Orchestrator.MaxLoops),
		})
	}
	switch c.Orchestrator.Planner {
	case "", "heuristic", "llm":
	default:
		errs = append(errs, ValidationError{
			Field:   "orchestrator.planner",
			Message: fmt.Sprintf("unsupported planner %q", c.Orchestrator.Planner),
		})
	}
	return errs
}

func (c *Config) validateServices() ValidationErrors {
	var errs ValidationErrors
	if c.Enrichment.Enabled && c.Enrichment.Endpoint == "" {
		errs = append(errs, ValidationError{
			Field:   "enrichment.endpoint",
			Message: "enrichment endpoint is required when enrichment is enabled",
		})
	}
	if c.Enrichment.MaxConcurrency < 0 {
		errs = append(errs, ValidationError{
			Field:   "enrichment.max_concurrency",
			Message: "enrichment max_concurrency must not be negative",
		})
	}
	switch strings.ToLower(c.Router.Provider) {
	case "", "rule":
	case "http", "hybrid":
		if c.Router.Endpoint == "" {
			errs = append(errs, ValidationError{
				Field:   "router.endpoint",
				Message: fmt.Sprintf("router endpoint is required for %s provider", c.Router.Provider),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "router.provider",
			Message: fmt.Sprintf("unsupported router provider %q", c.Router.Provider),
		})
	}
	switch strings.ToLower(c.Quality.Mode) {
	case "", "basic", "llm":
	case "http":
		if c.Quality.Endpoint == "" {
			errs = append(errs, ValidationError{
				Field:   "quality.endpoint",
				Message: "quality endpoint is required for http mode",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "quality.mode",
			Message: fmt.Sprintf("unsupported quality mode %q", c.Quality.Mode),
		})
	}
	if c.Quality.Correct > 0 && c.Quality.Incorrect > c.Quality.Correct {
		errs = append(errs, ValidationError{
			Field:   "quality.incorrect",
			Message: "quality.incorrect must not exceed quality.correct",
		})
	}
	switch strings.ToLower(c.Session.Store) {
	case "", "memory":
	case "redis":
		if c.Session.Redis.Address == "" {
			errs = append(errs, ValidationError{
				Field:   "session.redis.address",
				Message: "redis address is required for redis session store",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "session.store",
			Message: fmt.Sprintf("unsupported session store %q", c.Session.Store),
		})
	}
	return errs
}
