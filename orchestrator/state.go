package orchestrator

import (
	"fmt"
	"time"

	"github.com/creatorlens/onboarding-rag/enrichment"
	"github.com/creatorlens/onboarding-rag/router"
	"github.com/creatorlens/onboarding-rag/schema"
)

// State is a node of the request state machine.
type State int

const (
	StateRouting State = iota
	StatePlanning
	StateToolEnrichment
	StateWorkflowExecution
	StateQualityGate
	StateReplanning
	StateFinalSynthesis
	StateAborted
)

var stateNames = [...]string{
	StateRouting:           "routing",
	StatePlanning:          "planning",
	StateToolEnrichment:    "tool_enrichment",
	StateWorkflowExecution: "workflow_execution",
	StateQualityGate:       "quality_gate",
	StateReplanning:        "replanning",
	StateFinalSynthesis:    "final_synthesis",
	StateAborted:           "aborted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateFinalSynthesis || s == StateAborted }

// Event drives a transition.
type Event int

const (
	EventRouted Event = iota
	EventNeedsPlan
	EventCacheHit
	EventPlanned
	EventEnriched
	EventToolsFailed
	EventExecuted
	EventExecutionFailed
	EventAccepted
	EventRejected
	EventExhausted
	EventReplanned
	EventReplannedWithTools
	EventFatal
)

var eventNames = [...]string{
	EventRouted:             "routed",
	EventNeedsPlan:          "needs_plan",
	EventCacheHit:           "cache_hit",
	EventPlanned:            "planned",
	EventEnriched:           "enriched",
	EventToolsFailed:        "tools_failed",
	EventExecuted:           "executed",
	EventExecutionFailed:    "execution_failed",
	EventAccepted:           "accepted",
	EventRejected:           "rejected",
	EventExhausted:          "exhausted",
	EventReplanned:          "replanned",
	EventReplannedWithTools: "replanned_with_tools",
	EventFatal:              "fatal",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type transition struct {
	from State
	on   Event
}

var transitions = map[transition]State{
	{StateRouting, EventRouted}:    StateToolEnrichment,
	{StateRouting, EventNeedsPlan}: StatePlanning,
	{StateRouting, EventCacheHit}:  StateFinalSynthesis,
	{StateRouting, EventFatal}:     StateAborted,

	{StatePlanning, EventPlanned}: StateToolEnrichment,
	{StatePlanning, EventFatal}:   StateAborted,

	{StateToolEnrichment, EventEnriched}:    StateWorkflowExecution,
	{StateToolEnrichment, EventToolsFailed}: StateReplanning,
	{StateToolEnrichment, EventFatal}:       StateAborted,

	{StateWorkflowExecution, EventExecuted}:        StateQualityGate,
	{StateWorkflowExecution, EventExecutionFailed}: StateAborted,
	{StateWorkflowExecution, EventFatal}:           StateAborted,

	{StateQualityGate, EventAccepted}:  StateFinalSynthesis,
	{StateQualityGate, EventRejected}:  StateReplanning,
	{StateQualityGate, EventExhausted}: StateAborted,
	{StateQualityGate, EventFatal}:     StateAborted,

	{StateReplanning, EventReplanned}:          StateWorkflowExecution,
	{StateReplanning, EventReplannedWithTools}: StateToolEnrichment,
	{StateReplanning, EventExhausted}:          StateAborted,
	{StateReplanning, EventFatal}:              StateAborted,
}

// ErrInvalidTransition is returned by Next for pairs missing from the table.
type ErrInvalidTransition struct {
	From State
	On   Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("orchestrator: no transition from %s on %s", e.From, e.On)
}

// Next looks up the transition table.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[transition{s, e}]; ok {
		return to, nil
	}
	return s, &ErrInvalidTransition{From: s, On: e}
}

// PlanStep is one advisory step of a plan.
type PlanStep struct {
	Description    string `json:"description"`
	ToolOrAgent    string `json:"tool_or_agent"`
	ExpectedOutput string `json:"expected_output"`
}

// Plan is immutable: steps are copied in and out. A replan builds a new Plan.
type Plan struct {
	steps          []PlanStep
	NeedsTools     bool
	Complexity     string
	CostPreference string
	Rationale      string
	// Source is the planner that produced the plan.
	Source string
}

func NewPlan(steps []PlanStep, needsTools bool, complexity, costPreference string) Plan {
	return Plan{
		steps:          append([]PlanStep(nil), steps...),
		NeedsTools:     needsTools,
		Complexity:     complexity,
		CostPreference: costPreference,
	}
}

func (p Plan) Steps() []PlanStep { return append([]PlanStep(nil), p.steps...) }

func (p Plan) Len() int { return len(p.steps) }

// Descriptions lists step descriptions for the prompt.
func (p Plan) Descriptions() []string {
	out := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		if s.ToolOrAgent != "" {
			out = append(out, fmt.Sprintf("%s (%s)", s.Description, s.ToolOrAgent))
		} else {
			out = append(out, s.Description)
		}
	}
	return out
}

// Attempt is one workflow execution that reached the quality gate.
type Attempt struct {
	Loop       int
	Text       string
	Raw        string
	Citations  []schema.Citation
	Used       []schema.Document
	Model      string
	Score      float64
	Accepted   bool
	Reason     string
	Degenerate bool
}

// RequestState is owned by a single orchestration run.
type RequestState struct {
	ID          string
	SessionID   string
	Query       string
	UserContext map[string]string
	History     schema.History
	StartedAt   time.Time

	WorkflowType string
	Routing      router.Decision
	Plan         *Plan

	LoopCount int
	MaxLoops  int

	Documents  []schema.Document
	Enrichment *enrichment.Result
	ToolsRan   bool
	Output     string
	Attempts   []Attempt
	Errors     []error

	Visited []State

	// Cached is set when the response was served from the semantic cache.
	Cached      bool
	cachedModel string
	cachedCites []schema.Citation

	onError func(error)
}

// ErrLoopLimit is returned by IncLoop once MaxLoops replans happened.
var ErrLoopLimit = fmt.Errorf("orchestrator: loop limit reached")

// IncLoop counts a replan, refusing to exceed MaxLoops.
func (s *RequestState) IncLoop() error {
	if s.LoopCount >= s.MaxLoops {
		return ErrLoopLimit
	}
	s.LoopCount++
	return nil
}

// CanReplan reports whether another replan is allowed.
func (s *RequestState) CanReplan() bool { return s.LoopCount < s.MaxLoops }

// AddError records a non-fatal error. Errors are never removed.
func (s *RequestState) AddError(err error) {
	if err == nil {
		return
	}
	s.Errors = append(s.Errors, err)
	if s.onError != nil {
		s.onError(err)
	}
}

// LastAttempt returns the most recent attempt, if any.
func (s *RequestState) LastAttempt() (Attempt, bool) {
	if len(s.Attempts) == 0 {
		return Attempt{}, false
	}
	return s.Attempts[len(s.Attempts)-1], true
}

// BestAttempt prefers non-degenerate attempts, then the highest gate score,
// then the later attempt.
func (s *RequestState) BestAttempt() (Attempt, bool) {
	best, found := Attempt{}, false
	for _, a := range s.Attempts {
		switch {
		case !found:
			best, found = a, true
		case best.Degenerate && !a.Degenerate:
			best = a
		case a.Degenerate && !best.Degenerate:
		case a.Score >= best.Score:
			best = a
		}
	}
	return best, found
}
