package metrics

import (
	"encoding/json"
	"time"

	"github.com/creatorlens/onboarding-rag/common/logger"
)

// RequestTrace is a per-request record emitted as one JSON log line.
type RequestTrace struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id,omitempty"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`

	Workflow          string   `json:"workflow"`
	RouteConfidence   float64  `json:"route_confidence"`
	Planned           bool     `json:"planned"`
	States            []string `json:"states"`
	Loops             int      `json:"loops"`
	CacheHit          bool     `json:"cache_hit"`
	ToolSources       []string `json:"tool_sources,omitempty"`
	RetrievedDocs     int      `json:"retrieved_docs"`
	UsedDocs          int      `json:"used_docs"`
	RerankFallback    bool     `json:"rerank_fallback,omitempty"`
	Model             string   `json:"model,omitempty"`
	GenerationRetries int      `json:"generation_retries,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`

	TotalLatencyMs int64  `json:"total_latency_ms"`
	Outcome        string `json:"outcome"`
	ErrorMsg       string `json:"error_msg,omitempty"`
}

func NewRequestTrace(requestID, query string) *RequestTrace {
	return &RequestTrace{RequestID: requestID, Query: query, Timestamp: time.Now()}
}

// AddState appends a visited state name.
func (t *RequestTrace) AddState(s string) {
	t.States = append(t.States, s)
}

// Finish stamps the latency and outcome.
func (t *RequestTrace) Finish(outcome string) {
	t.TotalLatencyMs = time.Since(t.Timestamp).Milliseconds()
	t.Outcome = outcome
}

// Log writes the trace as JSON at info level.
func (t *RequestTrace) Log() {
	if data, err := json.Marshal(t); err == nil {
		logger.Infof("[RAG_TRACE] %s", string(data))
	}
}
