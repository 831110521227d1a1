package post

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/schema"
)

// Reranker rescores candidates, typically with a cross-encoder. Returned
// results carry the new score in both Score and Document.RerankScore.
// Errors are returned to the caller, which decides how to degrade.
type Reranker interface {
	Rerank(ctx context.Context, query string, in []schema.SearchResult) ([]schema.SearchResult, error)
}

// New builds the reranker named by cfg.Provider. gen is only needed for the
// "llm" provider.
func New(cfg config.RerankConfig, client *httpx.Client, gen llm.Provider) (Reranker, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "keyword":
		return &KeywordReranker{}, nil
	case "http":
		return &HTTPReranker{Endpoint: cfg.Endpoint, APIKey: cfg.APIKey, Client: client}, nil
	case "model":
		return &ModelReranker{Endpoint: cfg.Endpoint, Model: cfg.Model, APIKey: cfg.APIKey, Client: client}, nil
	case "llm":
		if gen == nil {
			return nil, fmt.Errorf("llm reranker needs a provider")
		}
		return &LLMReranker{Provider: gen}, nil
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", cfg.Provider)
	}
}

// HTTPReranker posts a JSON payload to an external service for reranking.
// Expected request body:
// {"query":"...","candidates":[{"id":"","text":"..."}]}
// Expected response body:
// {"ranking":[{"id":"","score":0.9}]}
type HTTPReranker struct {
	Endpoint string
	APIKey   string
	Client   *httpx.Client
}

type rerankReq struct {
	Query      string            `json:"query"`
	Candidates []rerankCandidate `json:"candidates"`
}

type rerankCandidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (h *HTTPReranker) Rerank(ctx context.Context, query string, in []schema.SearchResult) ([]schema.SearchResult, error) {
	if h.Endpoint == "" {
		return nil, fmt.Errorf("http reranker endpoint not configured")
	}
	if len(in) == 0 {
		return nil, nil
	}
	req := rerankReq{Query: query, Candidates: make([]rerankCandidate, 0, len(in))}
	idx := make(map[string]int, len(in))
	for i, c := range in {
		idx[c.Document.ID] = i
		req.Candidates = append(req.Candidates, rerankCandidate{ID: c.Document.ID, Text: c.Document.Content})
	}
	body, err := h.Client.PostJSON(ctx, h.Endpoint, bearer(h.APIKey), req)
	if err != nil {
		return nil, fmt.Errorf("http rerank: %w", err)
	}
	ranking := gjson.GetBytes(body, "ranking").Array()
	if len(ranking) == 0 {
		return nil, fmt.Errorf("http rerank: empty ranking")
	}
	out := make([]schema.SearchResult, 0, len(ranking))
	for _, r := range ranking {
		if i, ok := idx[r.Get("id").String()]; ok {
			out = append(out, rescored(in[i], r.Get("score").Float()))
		}
	}
	sortDesc(out)
	return out, nil
}

// ModelReranker calls a hosted cross-encoder with the Cohere/Jina style
// protocol: {"query","documents","model"} -> {"results":[{"index","relevance_score"}]}.
type ModelReranker struct {
	Endpoint string
	Model    string // e.g., "bge-reranker-large", "rerank-multilingual-v2.0"
	APIKey   string
	Client   *httpx.Client
}

type modelRerankReq struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

func (m *ModelReranker) Rerank(ctx context.Context, query string, in []schema.SearchResult) ([]schema.SearchResult, error) {
	if m.Endpoint == "" {
		return nil, fmt.Errorf("model reranker endpoint not configured")
	}
	if len(in) == 0 {
		return nil, nil
	}
	documents := make([]string, len(in))
	for i, result := range in {
		documents[i] = result.Document.Content
	}
	body, err := m.Client.PostJSON(ctx, m.Endpoint, bearer(m.APIKey), modelRerankReq{Query: query, Documents: documents, Model: m.Model})
	if err != nil {
		return nil, fmt.Errorf("model rerank: %w", err)
	}
	results := gjson.GetBytes(body, "results").Array()
	if len(results) == 0 {
		return nil, fmt.Errorf("model rerank: empty results")
	}
	out := make([]schema.SearchResult, 0, len(results))
	for _, r := range results {
		i := int(r.Get("index").Int())
		if i >= 0 && i < len(in) {
			out = append(out, rescored(in[i], r.Get("relevance_score").Float()))
		}
	}
	sortDesc(out)
	return out, nil
}

// LLMReranker asks a model to rate each candidate from 0 to 10 and scales the
// rating into [0,1]. Unparseable answers keep the candidate's prior score.
type LLMReranker struct {
	Provider llm.Provider
}

const llmRerankSystemPrompt = `You are an expert at evaluating document relevance for search queries.
Rate the document on a scale from 0 to 10 based on how well it answers the query.

- 0-2: completely irrelevant
- 3-5: some relevant information but does not answer the query
- 6-8: relevant and partially answers the query
- 9-10: highly relevant and directly answers the query

Respond with ONLY a single integer between 0 and 10.`

var scoreRegex = regexp.MustCompile(`\b(10|[0-9])\b`)

func (l *LLMReranker) Rerank(ctx context.Context, query string, in []schema.SearchResult) ([]schema.SearchResult, error) {
	out := make([]schema.SearchResult, 0, len(in))
	for i, result := range in {
		user := fmt.Sprintf("Query: %s\nDocument:\n%s\n\nRate this document's relevance to the query on a scale from 0 to 10:", query, result.Document.Content)
		resp, err := llm.Complete(ctx, l.Provider, llmRerankSystemPrompt, user)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warnf("llm rerank: scoring document %d failed: %v", i, err)
			out = append(out, rescored(result, result.Score))
			continue
		}
		match := scoreRegex.FindStringSubmatch(strings.TrimSpace(resp))
		if match == nil {
			logger.Warnf("llm rerank: no score in response %q", resp)
			out = append(out, rescored(result, result.Score))
			continue
		}
		score, _ := strconv.ParseFloat(match[1], 64)
		out = append(out, rescored(result, score/10))
	}
	sortDesc(out)
	return out, nil
}

// KeywordReranker performs reranking based on keyword matching and positioning.
// It needs no external service and is the default.
type KeywordReranker struct {
	MinKeywordLength int     // words of at most this length are ignored (default: 3)
	BaseScoreWeight  float64 // weight for the incoming score (default: 0.5)
}

func (k *KeywordReranker) Rerank(_ context.Context, query string, in []schema.SearchResult) ([]schema.SearchResult, error) {
	minLen := k.MinKeywordLength
	if minLen == 0 {
		minLen = 3
	}
	baseWeight := k.BaseScoreWeight
	if baseWeight == 0 {
		baseWeight = 0.5
	}

	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if len([]rune(word)) > minLen {
			keywords = append(keywords, word)
		}
	}

	out := make([]schema.SearchResult, 0, len(in))
	for _, result := range in {
		text := strings.ToLower(result.Document.Content)
		var kw float64
		for _, keyword := range keywords {
			first := strings.Index(text, keyword)
			if first < 0 {
				continue
			}
			kw += 0.1
			// position bonus for the first quarter
			if first < len(text)/4 {
				kw += 0.1
			}
			kw += minFloat(0.05*float64(strings.Count(text, keyword)), 0.2)
		}
		score := result.Score*baseWeight + kw
		if score > 1 {
			score = 1
		}
		out = append(out, rescored(result, score))
	}
	sortDesc(out)
	return out, nil
}

// Filter drops results scoring below threshold. When nothing survives it
// returns the first fallbackK entries of before (the pre-rerank ranking) and
// reports the fallback, so a rerank pass never empties a non-empty list.
func Filter(reranked, before []schema.SearchResult, threshold float64, fallbackK int) ([]schema.SearchResult, bool) {
	out := make([]schema.SearchResult, 0, len(reranked))
	for _, r := range reranked {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	if len(out) > 0 || len(before) == 0 {
		return out, false
	}
	if fallbackK <= 0 || fallbackK > len(before) {
		fallbackK = len(before)
	}
	return append([]schema.SearchResult(nil), before[:fallbackK]...), true
}

func rescored(r schema.SearchResult, score float64) schema.SearchResult {
	r.Document = r.Document.Clone()
	r.Document.RerankScore = schema.Score(score)
	r.Score = score
	return r
}

func sortDesc(out []schema.SearchResult) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.ID < out[j].Document.ID
	})
}

func bearer(key string) map[string]string {
	if key == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + key}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
