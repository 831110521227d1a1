// Package router classifies a request into the workflow that should serve it.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
)

const (
	WorkflowQA             = "qa"
	WorkflowRecommendation = "recommendation"
	WorkflowAnalytics      = "analytics"
	WorkflowDeepReasoning  = "deep_reasoning"
	WorkflowGeneral        = "general"
)

// Ties between workflows with the same number of keyword hits resolve in
// this order.
var priority = []string{WorkflowDeepReasoning, WorkflowAnalytics, WorkflowRecommendation, WorkflowQA}

const complexLength = 200

// Input is what the classifier sees. Hint, when it names a workflow, wins.
type Input struct {
	Query string
	Hint  string
}

// Decision is the routing outcome.
type Decision struct {
	Workflow   string   `json:"workflow"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale"`
	Ambiguous  bool     `json:"ambiguous"`
	Complex    bool     `json:"complex"`
	Matched    []string `json:"matched,omitempty"`
	Strategy   string   `json:"strategy"`
}

// Classifier never fails: malformed or empty text routes to general.
type Classifier interface {
	Classify(ctx context.Context, in Input) Decision
}

// Workflows lists the built-in workflow names.
func Workflows() []string {
	return append(append([]string(nil), priority...), WorkflowGeneral)
}

// Known reports whether w is a built-in workflow.
func Known(w string) bool {
	for _, x := range Workflows() {
		if x == w {
			return true
		}
	}
	return false
}

var builtinKeywords = map[string][]string{
	WorkflowDeepReasoning: {
		"step by step", "in depth", "in-depth", "deep dive", "trade-off", "tradeoff", "pros and cons",
		"root cause", "comprehensive", "reason through",
		"심층", "깊이", "단계별", "근본 원인", "장단점", "종합적",
	},
	WorkflowAnalytics: {
		"analytics", "analysis", "analyze", "metric", "statistic", "stats", "performance", "views",
		"subscriber", "engagement", "growth rate", "ctr", "retention", "trend",
		"분석", "통계", "지표", "성과", "조회수", "구독자", "참여율", "추세",
	},
	WorkflowRecommendation: {
		"recommend", "suggest", "which should", "best for me", "ideas for", "mission", "campaign",
		"추천", "제안", "미션", "캠페인",
	},
	WorkflowQA: {
		"what is", "what are", "how do", "how to", "how can", "explain", "guide", "policy", "rule",
		"requirement", "onboarding",
		"무엇", "어떻게", "방법", "설명", "가이드", "정책", "규정", "온보딩",
	},
}

var complexKeywords = []string{
	"design", "strategy", "architecture", "roadmap", "long-term", "plan for",
	"설계", "전략", "로드맵", "장기",
}

var questionWords = []string{
	"what", "how", "why", "when", "where", "which", "who", "can", "could", "is", "are", "do", "does", "should",
	"왜", "언제", "어디", "누가", "무슨",
}

var questionEndings = []string{"인가요", "나요", "까요", "까", "니"}

// RuleClassifier routes on bilingual keyword lists.
type RuleClassifier struct {
	keywords      map[string][]string
	order         []string
	minConfidence float64
}

// NewRuleClassifier merges rules on top of the built-in keyword lists.
// Workflows that only appear in rules rank after the built-in ones.
func NewRuleClassifier(rules []config.RouterRule, minConfidence float64) *RuleClassifier {
	kw := make(map[string][]string, len(builtinKeywords))
	for w, list := range builtinKeywords {
		kw[w] = append([]string(nil), list...)
	}
	order := append([]string(nil), priority...)
	for _, r := range rules {
		w := strings.ToLower(strings.TrimSpace(r.Workflow))
		if w == "" {
			continue
		}
		if _, ok := kw[w]; !ok {
			order = append(order, w)
		}
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw[w] = append(kw[w], k)
			}
		}
	}
	return &RuleClassifier{keywords: kw, order: order, minConfidence: minConfidence}
}

func (r *RuleClassifier) Classify(_ context.Context, in Input) Decision {
	query := strings.TrimSpace(in.Query)
	if h := strings.ToLower(strings.TrimSpace(in.Hint)); h != "" {
		if _, ok := r.keywords[h]; ok || h == WorkflowGeneral {
			return Decision{Workflow: h, Confidence: 1, Rationale: "workflow hint", Complex: isComplex(query), Strategy: "hint"}
		}
	}
	if query == "" {
		return Decision{Workflow: WorkflowGeneral, Confidence: 0, Rationale: "empty query", Ambiguous: true, Strategy: "rule"}
	}

	norm := normalize(query)
	hits := map[string][]string{}
	for _, w := range r.order {
		for _, k := range r.keywords[w] {
			if matchKeyword(norm, k) {
				hits[w] = append(hits[w], k)
			}
		}
	}

	d := Decision{Complex: isComplex(query), Strategy: "rule"}
	best, tie := "", false
	for _, w := range r.order {
		n := len(hits[w])
		if n == 0 {
			continue
		}
		switch {
		case best == "" || n > len(hits[best]):
			best, tie = w, false
		case n == len(hits[best]):
			tie = true
		}
	}

	switch {
	case best != "":
		d.Workflow = best
		d.Matched = hits[best]
		d.Confidence = 0.6 + 0.1*float64(len(hits[best])-1)
		if d.Confidence > 0.95 {
			d.Confidence = 0.95
		}
		d.Rationale = fmt.Sprintf("matched %d %s keyword(s)", len(hits[best]), best)
		if tie {
			d.Confidence -= 0.1
			d.Rationale += ", tie resolved by priority"
		}
	case questionShaped(query, norm):
		d.Workflow = WorkflowQA
		d.Confidence = 0.5
		d.Rationale = "question without workflow keywords"
	default:
		d.Workflow = WorkflowGeneral
		d.Confidence = 0.2
		d.Rationale = "no workflow keywords"
		d.Ambiguous = true
	}
	if d.Confidence < r.minConfidence {
		d.Ambiguous = true
	}
	return d
}

// normalize lower-cases and replaces punctuation with spaces so keywords
// match on word starts.
func normalize(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte(' ')
	return strings.Join(strings.Fields(b.String()), " ")
}

func matchKeyword(norm, kw string) bool {
	if !isASCII(kw) {
		return strings.Contains(norm, kw)
	}
	padded := " " + norm
	return strings.Contains(padded, " "+kw)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func isComplex(query string) bool {
	if len([]rune(query)) > complexLength {
		return true
	}
	norm := normalize(query)
	for _, k := range complexKeywords {
		if matchKeyword(norm, k) {
			return true
		}
	}
	return false
}

func questionShaped(query, norm string) bool {
	if strings.ContainsAny(query, "?？") {
		return true
	}
	first := norm
	if i := strings.IndexByte(norm, ' '); i >= 0 {
		first = norm[:i]
	}
	for _, w := range questionWords {
		if first == w || (!isASCII(w) && strings.Contains(norm, w)) {
			return true
		}
	}
	trimmed := strings.TrimRight(strings.TrimSpace(query), ".!~ ")
	for _, e := range questionEndings {
		if strings.HasSuffix(trimmed, e) {
			return true
		}
	}
	return false
}

// HTTPClassifier asks an external model service and falls back to rules
// when the service fails or answers without a workflow.
type HTTPClassifier struct {
	Endpoint string
	Client   *httpx.Client
	Fallback Classifier
}

func NewHTTPClassifier(endpoint string, client *httpx.Client, fallback Classifier) *HTTPClassifier {
	if client == nil {
		client = httpx.NewFromConfig(nil)
	}
	if fallback == nil {
		fallback = NewRuleClassifier(nil, 0)
	}
	return &HTTPClassifier{Endpoint: endpoint, Client: client, Fallback: fallback}
}

func (h *HTTPClassifier) Classify(ctx context.Context, in Input) Decision {
	d, err := h.remote(ctx, in)
	if err != nil {
		logger.Warnf("router: classification service failed, using rules: %v", err)
		return h.Fallback.Classify(ctx, in)
	}
	return d
}

func (h *HTTPClassifier) remote(ctx context.Context, in Input) (Decision, error) {
	body, err := h.Client.PostJSON(ctx, h.Endpoint, nil, map[string]string{"query": in.Query, "hint": in.Hint})
	if err != nil {
		return Decision{}, err
	}
	res := gjson.ParseBytes(body)
	w := firstString(res, "workflow", "intent")
	if w == "" {
		return Decision{}, fmt.Errorf("router: response without workflow: %.120s", string(body))
	}
	d := Decision{
		Workflow:   strings.ToLower(w),
		Confidence: res.Get("confidence").Float(),
		Rationale:  firstString(res, "rationale", "reason"),
		Complex:    res.Get("complex").Bool() || isComplex(in.Query),
		Strategy:   "http",
	}
	d.Ambiguous = res.Get("ambiguous").Bool() || d.Confidence < 0.3
	logger.Debugf("router: remote decision workflow=%s confidence=%.2f", d.Workflow, d.Confidence)
	return d, nil
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(res.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

// Hybrid trusts the rule classifier when it is confident and consults the
// remote classifier only for ambiguous requests.
type Hybrid struct {
	Rules  Classifier
	Remote Classifier
}

func (h *Hybrid) Classify(ctx context.Context, in Input) Decision {
	d := h.Rules.Classify(ctx, in)
	if !d.Ambiguous || h.Remote == nil {
		return d
	}
	remote := h.Remote.Classify(ctx, in)
	if remote.Strategy == "http" && remote.Confidence > d.Confidence {
		remote.Strategy = "hybrid"
		return remote
	}
	return d
}

// New builds the classifier selected by cfg.Provider.
func New(cfg config.RouterConfig, client *httpx.Client) Classifier {
	rules := NewRuleClassifier(cfg.Rules, cfg.MinConfidence)
	switch strings.ToLower(cfg.Provider) {
	case "http":
		if cfg.Endpoint != "" {
			return NewHTTPClassifier(cfg.Endpoint, client, rules)
		}
		logger.Warnf("router: http provider without endpoint, using rules")
	case "hybrid":
		if cfg.Endpoint != "" {
			return &Hybrid{Rules: rules, Remote: NewHTTPClassifier(cfg.Endpoint, client, rules)}
		}
	}
	return rules
}

// KeywordsFor returns the keywords a rule classifier uses for workflow w,
// sorted. Used by the validate command.
func (r *RuleClassifier) KeywordsFor(w string) []string {
	out := append([]string(nil), r.keywords[w]...)
	sort.Strings(out)
	return out
}
