package config

// PipelineConfig defines the retrieval pipeline: branch weights and
// timeouts, keyword backend, fusion, rerank, expansion and result caching.
type PipelineConfig struct {
	TopK          int     `json:"top_k" yaml:"top_k"`
	VectorWeight  float64 `json:"vector_weight" yaml:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight" yaml:"keyword_weight"`
	GraphWeight   float64 `json:"graph_weight,omitempty" yaml:"graph_weight,omitempty"`
	EnableGraph   bool    `json:"enable_graph,omitempty" yaml:"enable_graph,omitempty"`
	// Candidates fetched from each branch before fusion.
	MaxResults int `json:"max_results" yaml:"max_results"`
	// BranchTimeoutMs caps each retrieval branch.
	BranchTimeoutMs int `json:"branch_timeout_ms" yaml:"branch_timeout_ms"`
	// Threshold applied by vector stores that support score cutoffs.
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	Keyword   KeywordConfig   `json:"keyword" yaml:"keyword"`
	Fusion    FusionConfig    `json:"fusion" yaml:"fusion"`
	Post      PostConfig      `json:"post" yaml:"post"`
	Expansion ExpansionConfig `json:"expansion" yaml:"expansion"`
	// Cache controls L1 caching of raw retrieval results.
	Cache CacheLayerConfig `json:"cache" yaml:"cache"`
}

// KeywordConfig selects the keyword branch backend.
// Provider: "memory" (default), "elasticsearch", "postgres".
type KeywordConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Index    string `json:"index,omitempty" yaml:"index,omitempty"`
	DSN      string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Table    string `json:"table,omitempty" yaml:"table,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

// FusionConfig defines the fusion strategy configuration
type FusionConfig struct {
	// Strategy: "weighted" (default) or "rrf"
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	RRFK     int    `json:"rrf_k,omitempty" yaml:"rrf_k,omitempty"`
}

type PostConfig struct {
	Rerank RerankConfig `json:"rerank" yaml:"rerank"`
}

type RerankConfig struct {
	Enable   bool   `json:"enable,omitempty" yaml:"enable,omitempty"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"` // "http", "keyword"
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// Candidates is how many fused results are sent to the reranker.
	Candidates int `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	// Threshold drops reranked documents scoring below it.
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// ExpansionConfig enables LLM query variants.
type ExpansionConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	Variants int  `json:"variants,omitempty" yaml:"variants,omitempty"`
}

type CacheLayerConfig struct {
	Enable     bool `json:"enable,omitempty" yaml:"enable,omitempty"`
	MaxEntries int  `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	TTLSeconds int  `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}
