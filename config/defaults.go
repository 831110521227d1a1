package config

// Default returns a configuration that runs fully in memory: hash
// embeddings, the in-memory vector and keyword indexes, the rule router and
// the basic quality gate. Generation models still need credentials.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        "onboarding-rag",
			Version:     "1.0.0",
			Transport:   "stdio",
			Addr:        ":8090",
			MetricsAddr: ":9090",
		},
		Log: LogConfig{Level: "info"},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Generation: GenerationConfig{
			Models: []ModelConfig{
				{Name: "default", Role: "default", Model: "gpt-4o-mini", MaxTokens: 1024, ContextSize: 16000, Cost: 1, Speed: 1},
				{Name: "fast", Role: "fast", Model: "gpt-4o-mini", MaxTokens: 512, ContextSize: 16000, Cost: 0.5, Speed: 2},
				{Name: "deep", Role: "deep", Model: "gpt-4o", MaxTokens: 2048, ContextSize: 64000, Cost: 5, Speed: 0.5},
			},
			MaxRetries:   2,
			BackoffMs:    250,
			MaxBackoffMs: 4000,
			MaxJitterMs:  100,
			Breaker:      BreakerConfig{FailureThreshold: 5, ResetTimeoutSeconds: 30},
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Dimensions: 128,
			Cache:      CacheLayerConfig{Enable: true, MaxEntries: 1024, TTLSeconds: 3600},
		},
		VectorDB: VectorDBConfig{Provider: "memory", Collection: "knowledge", MetricType: "COSINE"},
		Pipeline: PipelineConfig{
			TopK:            5,
			VectorWeight:    0.5,
			KeywordWeight:   0.5,
			GraphWeight:     0.3,
			MaxResults:      20,
			BranchTimeoutMs: 1500,
			Keyword:         KeywordConfig{Provider: "memory", Language: "simple"},
			Fusion:          FusionConfig{Strategy: "weighted", RRFK: 60},
			Post: PostConfig{Rerank: RerankConfig{
				Provider:   "keyword",
				Candidates: 20,
				Threshold:  0.5,
			}},
			Expansion: ExpansionConfig{Variants: 3},
			Cache:     CacheLayerConfig{Enable: true, MaxEntries: 512, TTLSeconds: 60},
		},
		Prompt: PromptConfig{
			MaxContextTokens: 8000,
			ReservedOutput:   1024,
			MaxDocTokens:     1200,
			MaxHistoryTurns:  20,
			Tokenizer:        "approx",
			Encoding:         "cl100k_base",
		},
		Refiner: RefinerConfig{
			FallbackMessage: "[fallback] A complete answer could not be generated right now. Please try again shortly.",
			MinPolishChars:  50,
		},
		Enrichment: EnrichmentConfig{TimeoutMs: 3000, WebResults: 5, Videos: 3},
		Router:     RouterConfig{Provider: "rule", MinConfidence: 0.3},
		Quality: QualityConfig{
			Mode:           "basic",
			Correct:        0.7,
			Incorrect:      0.3,
			MinOutputChars: 10,
			MinAnswerChars: 120,
		},
		Orchestrator: OrchestratorConfig{
			MaxLoops:            2,
			Planner:             "heuristic",
			PlanConfidence:      0.65,
			PlanLengthThreshold: 200,
			RequestTimeoutMs:    60000,
			DefaultWorkflow:     "general",
		},
		Cache:   SemanticCacheConfig{Enabled: true, Capacity: 1024, TTLSeconds: 3600},
		Session: SessionConfig{Store: "memory", TTLSeconds: 86400, MaxTurns: 50},
		HTTP: HTTPClientConfig{
			TimeoutMs:              3000,
			Retry:                  1,
			BackoffMinMs:           100,
			BackoffMaxMs:           800,
			MaxConsecutiveFailures: 5,
			CircuitOpenSeconds:     5,
		},
	}
}
