package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/quality"
	"github.com/creatorlens/onboarding-rag/router"
)

const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"

	CostBudget      = "budget"
	CostBalanced    = "balanced"
	CostPerformance = "performance"
	CostSpeed       = "speed"
)

// PlanRequest carries everything a planner may look at. Prior and
// PriorOutput are set when replanning.
type PlanRequest struct {
	Query       string
	Workflow    string
	UserContext map[string]string
	Routing     router.Decision

	Prior       *Plan
	PriorOutput string
	// Reason is the quality gate's rejection reason, or "tools_failed".
	Reason      string
	ToolsFailed bool
	Retrieved   int
}

// Replanning reports whether this is a replan request.
func (r PlanRequest) Replanning() bool { return r.Prior != nil || r.PriorOutput != "" || r.Reason != "" }

type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (Plan, error)
}

// ReasonToolsFailed is the replan reason used when every tool source failed.
const ReasonToolsFailed = "tools_failed"

// PlanTrigger decides whether a request goes through Planning.
type PlanTrigger struct {
	Confidence   float64
	LengthLimit  int
	MinWordCount int
}

func (t PlanTrigger) ShouldPlan(query string, d router.Decision) bool {
	switch {
	case d.Workflow == router.WorkflowDeepReasoning, d.Complex:
		return true
	case t.LengthLimit > 0 && utf8.RuneCountInString(query) > t.LengthLimit:
		return true
	case d.Workflow == router.WorkflowGeneral && d.Confidence < t.Confidence:
		return len(strings.Fields(query)) >= t.MinWordCount
	}
	return false
}

var (
	urlRe      = regexp.MustCompile(`https?://[^\s"'<>]+`)
	sentenceRe = regexp.MustCompile(`[^.?!。？！\n]+[.?!。？！]?`)

	temporalKeywords = []string{"latest", "recent", "news", "today", "this week", "trend", "최신", "최근", "뉴스", "오늘", "트렌드", "요즘"}
)

// HeuristicPlanner builds plans without calling a model.
type HeuristicPlanner struct {
	// MaxRetrievalSteps bounds the per-sentence retrieval steps.
	MaxRetrievalSteps int
}

func (p HeuristicPlanner) Plan(_ context.Context, req PlanRequest) (Plan, error) {
	maxSteps := p.MaxRetrievalSteps
	if maxSteps <= 0 {
		maxSteps = 3
	}
	var steps []PlanStep
	for _, s := range splitSentences(req.Query) {
		if len(steps) == maxSteps {
			break
		}
		steps = append(steps, PlanStep{
			Description:    s,
			ToolOrAgent:    "retrieval",
			ExpectedOutput: "relevant knowledge base passages",
		})
	}
	needsTools := mentionsFreshData(req.Query)
	if req.Replanning() {
		steps = append(steps, PlanStep{
			Description:    gapStep(req.Reason),
			ToolOrAgent:    "reasoning",
			ExpectedOutput: "answer covering what the previous attempt missed",
		})
		switch req.Reason {
		case quality.ReasonNoDocuments, quality.ReasonUncertain:
			needsTools = true
		}
		if req.ToolsFailed || req.Reason == ReasonToolsFailed {
			needsTools = false
		}
	}
	steps = append(steps, PlanStep{
		Description:    "compose the final answer for the creator",
		ToolOrAgent:    "generation",
		ExpectedOutput: "grounded answer with citations",
	})
	plan := NewPlan(steps, needsTools, complexityOf(req), costPreference(req.UserContext))
	plan.Source = "heuristic"
	if req.Replanning() {
		plan.Rationale = "replan: " + req.Reason
	}
	return plan, nil
}

func gapStep(reason string) string {
	switch reason {
	case quality.ReasonNoDocuments:
		return "search wider: related terms and broader topics"
	case quality.ReasonUncertain, quality.ReasonTooShort:
		return "address the gaps of the previous answer with concrete details"
	case ReasonToolsFailed:
		return "continue without external tools using the knowledge base"
	}
	return "revise the previous answer"
}

func splitSentences(q string) []string {
	var out []string
	for _, m := range sentenceRe.FindAllString(q, -1) {
		if s := strings.TrimSpace(m); utf8.RuneCountInString(s) > 3 {
			out = append(out, s)
		}
	}
	if len(out) == 0 && strings.TrimSpace(q) != "" {
		out = []string{strings.TrimSpace(q)}
	}
	return out
}

func mentionsFreshData(q string) bool {
	if urlRe.MatchString(q) {
		return true
	}
	lower := strings.ToLower(q)
	for _, k := range temporalKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func complexityOf(req PlanRequest) string {
	n := utf8.RuneCountInString(req.Query)
	switch {
	case req.Workflow == router.WorkflowDeepReasoning, n > 400:
		return ComplexityHigh
	case req.Routing.Complex, n > 120:
		return ComplexityMedium
	}
	return ComplexityLow
}

func costPreference(uc map[string]string) string {
	switch v := strings.ToLower(strings.TrimSpace(uc["cost_preference"])); v {
	case CostBudget, CostPerformance, CostSpeed, CostBalanced:
		return v
	}
	return CostBalanced
}

// LLMPlanner asks a model for a JSON plan and falls back to the heuristic
// planner when the call or the parse fails.
type LLMPlanner struct {
	Provider llm.Provider
	Fallback Planner
}

const planSystem = `You are a planner for a creator onboarding assistant.
Create a concise execution plan ONLY in JSON (no markdown, no prose).

Output schema:
{
  "steps": [{"description": "string", "tool_or_agent": "retrieval|web|video|profile|scrape|reasoning|generation", "expected_output": "string"}],
  "needs_tools": boolean,
  "complexity": "low|medium|high",
  "cost_preference": "budget|balanced|performance|speed",
  "rationale": "short string"
}
Rules:
- Do NOT answer the user. Only produce the plan JSON.
- At most 5 steps.
- When replanning and tools failed, set needs_tools=false.`

func (p *LLMPlanner) Plan(ctx context.Context, req PlanRequest) (Plan, error) {
	fallback := p.Fallback
	if fallback == nil {
		fallback = HeuristicPlanner{}
	}
	out, err := llm.Complete(ctx, p.Provider, planSystem, planPrompt(req))
	if err != nil {
		logger.Warnf("planner call failed, using heuristic plan: %v", err)
		return fallback.Plan(ctx, req)
	}
	plan, ok := parsePlan(out, req)
	if !ok {
		logger.Warnf("planner returned unparseable plan, using heuristic plan")
		return fallback.Plan(ctx, req)
	}
	return plan, nil
}

func planPrompt(req PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request:\n%s\n\nCurrent route: %s\nRouter confidence: %.2f\n", req.Query, req.Workflow, req.Routing.Confidence)
	if req.Prior != nil {
		fmt.Fprintf(&b, "\nPrevious plan steps:\n- %s\n", strings.Join(req.Prior.Descriptions(), "\n- "))
	}
	if req.Replanning() {
		fmt.Fprintf(&b, "\nRejected because: %s\nTools failed: %t\nRetrieved documents: %d\n", req.Reason, req.ToolsFailed, req.Retrieved)
	}
	if req.PriorOutput != "" {
		prior := []rune(req.PriorOutput)
		if len(prior) > 500 {
			prior = prior[:500]
		}
		fmt.Fprintf(&b, "\nPrevious answer:\n%s\n", string(prior))
	}
	return b.String()
}

func parsePlan(out string, req PlanRequest) (Plan, bool) {
	cleaned := strings.TrimSpace(strings.NewReplacer("```json", "", "```", "").Replace(out))
	if start := strings.Index(cleaned, "{"); start > 0 {
		cleaned = cleaned[start:]
	}
	if !gjson.Valid(cleaned) {
		return Plan{}, false
	}
	parsed := gjson.Parse(cleaned)
	var steps []PlanStep
	parsed.Get("steps").ForEach(func(_, v gjson.Result) bool {
		if d := strings.TrimSpace(v.Get("description").String()); d != "" {
			steps = append(steps, PlanStep{
				Description:    d,
				ToolOrAgent:    v.Get("tool_or_agent").String(),
				ExpectedOutput: v.Get("expected_output").String(),
			})
		}
		return len(steps) < 5
	})
	if len(steps) == 0 {
		return Plan{}, false
	}
	complexity := parsed.Get("complexity").String()
	switch complexity {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
	case "simple":
		complexity = ComplexityLow
	default:
		complexity = complexityOf(req)
	}
	cost := parsed.Get("cost_preference").String()
	if cost == "" {
		cost = costPreference(req.UserContext)
	}
	needsTools := parsed.Get("needs_tools").Bool()
	if req.ToolsFailed {
		needsTools = false
	}
	plan := NewPlan(steps, needsTools, complexity, costPreference(map[string]string{"cost_preference": cost}))
	plan.Rationale = parsed.Get("rationale").String()
	plan.Source = "llm"
	return plan, true
}
