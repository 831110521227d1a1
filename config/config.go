package config

// Config is the single settings source for the engine. Every component is
// built from a section of it; nothing reads ambient globals.
type Config struct {
	Server       ServerConfig        `json:"server" yaml:"server"`
	Log          LogConfig           `json:"log" yaml:"log"`
	LLM          LLMConfig           `json:"llm" yaml:"llm"`
	Generation   GenerationConfig    `json:"generation" yaml:"generation"`
	Embedding    EmbeddingConfig     `json:"embedding" yaml:"embedding"`
	VectorDB     VectorDBConfig      `json:"vectordb" yaml:"vectordb"`
	Pipeline     PipelineConfig      `json:"pipeline" yaml:"pipeline"`
	Prompt       PromptConfig        `json:"prompt" yaml:"prompt"`
	Refiner      RefinerConfig       `json:"refiner" yaml:"refiner"`
	Enrichment   EnrichmentConfig    `json:"enrichment" yaml:"enrichment"`
	Router       RouterConfig        `json:"router" yaml:"router"`
	Quality      QualityConfig       `json:"quality" yaml:"quality"`
	Orchestrator OrchestratorConfig  `json:"orchestrator" yaml:"orchestrator"`
	Cache        SemanticCacheConfig `json:"cache" yaml:"cache"`
	Session      SessionConfig       `json:"session" yaml:"session"`
	HTTP         HTTPClientConfig    `json:"http" yaml:"http"`
}

// ServerConfig controls the MCP and metrics listeners.
type ServerConfig struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Transport   string `json:"transport" yaml:"transport"` // stdio | http
	Addr        string `json:"addr,omitempty" yaml:"addr,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

// LogConfig mirrors logger.Options.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	JSON       bool   `json:"json,omitempty" yaml:"json,omitempty"`
}

// LLMConfig holds shared credentials for OpenAI-compatible endpoints and the
// model used by auxiliary calls (planner, expander, polisher, evaluator).
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // openai | mock
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// ModelConfig registers one generation model in the provider pool.
type ModelConfig struct {
	Name        string  `json:"name" yaml:"name"`
	Role        string  `json:"role" yaml:"role"` // default | fast | deep | fallback
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	ContextSize int     `json:"context_size,omitempty" yaml:"context_size,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TimeoutMs   int     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Cost        float64 `json:"cost,omitempty" yaml:"cost,omitempty"`
	Speed       float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
}

// GenerationConfig controls retries, backoff and circuit breaking.
type GenerationConfig struct {
	Models       []ModelConfig `json:"models" yaml:"models"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	BackoffMs    int           `json:"backoff_ms" yaml:"backoff_ms"`
	MaxBackoffMs int           `json:"max_backoff_ms,omitempty" yaml:"max_backoff_ms,omitempty"`
	MaxJitterMs  int           `json:"max_jitter_ms,omitempty" yaml:"max_jitter_ms,omitempty"`
	Breaker      BreakerConfig `json:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold    int `json:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeoutSeconds int `json:"reset_timeout_seconds" yaml:"reset_timeout_seconds"`
}

// EmbeddingConfig defines configuration for embedding models
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // openai | hash
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	// Fallback to the deterministic hash embedder when the provider fails.
	Fallback bool             `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Cache    CacheLayerConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// VectorDBConfig defines configuration for vector databases
type VectorDBConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // memory | milvus | qdrant | pgvector
	Host       string `json:"host,omitempty" yaml:"host,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	Database   string `json:"database,omitempty" yaml:"database,omitempty"`
	Collection string `json:"collection,omitempty" yaml:"collection,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	UseTLS     bool   `json:"use_tls,omitempty" yaml:"use_tls,omitempty"`
	// DSN is used by the pgvector provider.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// MetricType is used by milvus: IP | L2 | COSINE.
	MetricType string `json:"metric_type,omitempty" yaml:"metric_type,omitempty"`
}

// PromptConfig bounds the context window.
type PromptConfig struct {
	MaxContextTokens   int    `json:"max_context_tokens" yaml:"max_context_tokens"`
	ReservedOutput     int    `json:"reserved_output_tokens" yaml:"reserved_output_tokens"`
	MaxDocTokens       int    `json:"max_doc_tokens" yaml:"max_doc_tokens"`
	MaxHistoryTurns    int    `json:"max_history_turns" yaml:"max_history_turns"`
	Tokenizer          string `json:"tokenizer" yaml:"tokenizer"` // approx | tiktoken
	Encoding           string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	SystemInstructions string `json:"system_instructions,omitempty" yaml:"system_instructions,omitempty"`
}

// RefinerConfig controls the response post-processing.
type RefinerConfig struct {
	FallbackMessage string `json:"fallback_message" yaml:"fallback_message"`
	Polish          bool   `json:"polish,omitempty" yaml:"polish,omitempty"`
	Persona         string `json:"persona,omitempty" yaml:"persona,omitempty"`
	MinPolishChars  int    `json:"min_polish_chars,omitempty" yaml:"min_polish_chars,omitempty"`
	// VerifyGrounding asks a fast model whether the answer is supported by the
	// cited documents and appends a caution note when it is not.
	VerifyGrounding bool `json:"verify_grounding,omitempty" yaml:"verify_grounding,omitempty"`
}

// EnrichmentConfig points at the external tool service.
type EnrichmentConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Endpoint   string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	TimeoutMs  int    `json:"timeout_ms" yaml:"timeout_ms"`
	WebResults int    `json:"web_results" yaml:"web_results"`
	Videos     int    `json:"videos" yaml:"videos"`

	// MaxConcurrency bounds in-flight tool calls per request; 0 means one
	// per requested source.
	MaxConcurrency int `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
}

// RouterConfig defines the query routing configuration
type RouterConfig struct {
	// Provider: "rule" (default), "http", "hybrid"
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	// Endpoint: HTTP endpoint for external classification service
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// MinConfidence below which the decision is treated as ambiguous.
	MinConfidence float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	// Rules add keywords to a workflow on top of the built-in lists.
	Rules []RouterRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

type RouterRule struct {
	Workflow string   `json:"workflow" yaml:"workflow"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// QualityConfig controls the quality gate.
type QualityConfig struct {
	// Mode: "basic" (default), "llm", "http"
	Mode           string  `json:"mode,omitempty" yaml:"mode,omitempty"`
	Endpoint       string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Correct        float64 `json:"correct,omitempty" yaml:"correct,omitempty"`
	Incorrect      float64 `json:"incorrect,omitempty" yaml:"incorrect,omitempty"`
	MinOutputChars int     `json:"min_output_chars,omitempty" yaml:"min_output_chars,omitempty"`
	// MinAnswerChars flags short answers when several documents were retrieved.
	MinAnswerChars int `json:"min_answer_chars,omitempty" yaml:"min_answer_chars,omitempty"`
}

// OrchestratorConfig controls the request state machine.
type OrchestratorConfig struct {
	MaxLoops            int     `json:"max_loops" yaml:"max_loops"`
	Planner             string  `json:"planner" yaml:"planner"` // heuristic | llm
	PlanConfidence      float64 `json:"plan_confidence" yaml:"plan_confidence"`
	PlanLengthThreshold int     `json:"plan_length_threshold" yaml:"plan_length_threshold"`
	RequestTimeoutMs    int     `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	DefaultWorkflow     string  `json:"default_workflow" yaml:"default_workflow"`
}

// SemanticCacheConfig controls the response cache.
type SemanticCacheConfig struct {
	Enabled       bool         `json:"enabled" yaml:"enabled"`
	Capacity      int          `json:"capacity" yaml:"capacity"`
	TTLSeconds    int          `json:"ttl_seconds" yaml:"ttl_seconds"`
	AffectingKeys []string     `json:"affecting_keys,omitempty" yaml:"affecting_keys,omitempty"`
	Redis         *RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// SessionConfig controls session persistence.
// Store: "memory" (default) or "redis".
type SessionConfig struct {
	Store      string      `json:"store,omitempty" yaml:"store,omitempty"`
	TTLSeconds int         `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	MaxTurns   int         `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`
	Redis      RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// HTTPClientConfig defines common options for outbound HTTP calls.
type HTTPClientConfig struct {
	TimeoutMs              int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry                  int      `json:"retry,omitempty" yaml:"retry,omitempty"`
	BackoffMinMs           int      `json:"backoff_min_ms,omitempty" yaml:"backoff_min_ms,omitempty"`
	BackoffMaxMs           int      `json:"backoff_max_ms,omitempty" yaml:"backoff_max_ms,omitempty"`
	HostAllowlist          []string `json:"host_allowlist,omitempty" yaml:"host_allowlist,omitempty"`
	MaxConsecutiveFailures int      `json:"max_consecutive_failures,omitempty" yaml:"max_consecutive_failures,omitempty"`
	CircuitOpenSeconds     int      `json:"circuit_open_seconds,omitempty" yaml:"circuit_open_seconds,omitempty"`
}
