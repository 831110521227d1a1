package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML or JSON file on top of Default, then applies .env and
// environment overrides. An empty path yields the defaults plus overrides.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = json.Unmarshal(raw, cfg)
		default:
			err = yaml.Unmarshal(raw, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	if len(files) == 0 {
		return nil
	}
	// godotenv.Load never overrides variables already set in the process.
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.LLM.APIKey, "OPENAI_API_KEY")
	set(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	set(&c.Embedding.APIKey, "OPENAI_API_KEY")
	set(&c.Embedding.BaseURL, "OPENAI_BASE_URL")
	set(&c.VectorDB.APIKey, "QDRANT_API_KEY")
	set(&c.VectorDB.Password, "MILVUS_PASSWORD")
	set(&c.VectorDB.DSN, "PG_DSN")
	set(&c.Pipeline.Keyword.DSN, "PG_DSN")
	set(&c.Pipeline.Keyword.Endpoint, "ES_ENDPOINT")
	set(&c.Pipeline.Post.Rerank.APIKey, "RERANK_API_KEY")
	set(&c.Enrichment.Endpoint, "TOOL_SERVICE_URL")
	set(&c.Enrichment.APIKey, "TOOL_SERVICE_API_KEY")
	set(&c.Session.Redis.Address, "REDIS_ADDR")
	set(&c.Session.Redis.Password, "REDIS_PASSWORD")
	set(&c.Log.Level, "LOG_LEVEL")
	if c.Cache.Redis != nil {
		set(&c.Cache.Redis.Address, "REDIS_ADDR")
		set(&c.Cache.Redis.Password, "REDIS_PASSWORD")
	}
	if v := getenv("RAG_MAX_LOOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.MaxLoops = n
		}
	}
	for i := range c.Generation.Models {
		if c.Generation.Models[i].APIKey == "" {
			c.Generation.Models[i].APIKey = c.LLM.APIKey
		}
		if c.Generation.Models[i].BaseURL == "" {
			c.Generation.Models[i].BaseURL = c.LLM.BaseURL
		}
	}
}
