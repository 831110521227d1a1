// Package orchestrator drives a request through routing, planning, tool
// enrichment, workflow execution and the quality gate as an explicit state
// machine, and synthesizes the caller-facing response.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/creatorlens/onboarding-rag/cache"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/enrichment"
	"github.com/creatorlens/onboarding-rag/generation"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/metrics"
	"github.com/creatorlens/onboarding-rag/prompt"
	"github.com/creatorlens/onboarding-rag/quality"
	"github.com/creatorlens/onboarding-rag/refiner"
	"github.com/creatorlens/onboarding-rag/retrieval"
	"github.com/creatorlens/onboarding-rag/router"
	"github.com/creatorlens/onboarding-rag/schema"
	"github.com/creatorlens/onboarding-rag/session"
)

type Retriever interface {
	Search(ctx context.Context, query string, opts retrieval.Options) (retrieval.Result, error)
}

type PromptBuilder interface {
	Build(in prompt.Input) prompt.Prompt
}

type Generator interface {
	// Select reports the model the hint resolves to first.
	Select(h generation.Hint) (generation.ModelProfile, bool)
	Generate(ctx context.Context, req llm.Request, h generation.Hint) (generation.Result, error)
	Stream(ctx context.Context, req llm.Request, h generation.Hint, onDelta func(generation.Delta)) (generation.Result, error)
}

type Refiner interface {
	Refine(ctx context.Context, text string, used []schema.Document) refiner.Refined
	Fallback() string
}

type Cache interface {
	Get(ctx context.Context, query string, c cache.Context) (cache.Entry, bool, error)
	Put(ctx context.Context, query string, c cache.Context, resp cache.Response) error
}

// Deps holds every collaborator of a run. Enricher, Retrieval, Cache and
// Sessions are optional.
type Deps struct {
	Classifier router.Classifier
	Planner    Planner
	Enricher   enrichment.Service
	Retrieval  Retriever
	Builder    PromptBuilder
	Generator  Generator
	Refiner    Refiner
	Gate       quality.Gate
	Cache      Cache
	Sessions   session.Store
	Clock      func() time.Time
}

type Config struct {
	MaxLoops        int
	DefaultWorkflow string
	RequestTimeout  time.Duration
	Trigger         PlanTrigger
	ToolLimits      enrichment.Limits
	Generation      GenerationSettings
}

// NewConfig derives the orchestrator settings from the application config.
func NewConfig(c *config.Config) Config {
	o := c.Orchestrator
	return Config{
		MaxLoops:        o.MaxLoops,
		DefaultWorkflow: o.DefaultWorkflow,
		RequestTimeout:  time.Duration(o.RequestTimeoutMs) * time.Millisecond,
		Trigger: PlanTrigger{
			Confidence:   o.PlanConfidence,
			LengthLimit:  o.PlanLengthThreshold,
			MinWordCount: 8,
		},
		ToolLimits: enrichment.Limits{
			WebResults: c.Enrichment.WebResults,
			Videos:     c.Enrichment.Videos,
			Timeout:    time.Duration(c.Enrichment.TimeoutMs) * time.Millisecond,
		},
		Generation: GenerationSettings{
			MaxTokens:   c.LLM.MaxTokens,
			Temperature: c.LLM.Temperature,
			TopK:        c.Pipeline.TopK,
			TopKStep:    5,
		},
	}
}

// Request is one call to Process.
type Request struct {
	Query        string            `json:"query"`
	WorkflowHint string            `json:"workflow_hint,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	UserContext  map[string]string `json:"user_context,omitempty"`
	// History is prepended to the stored session history.
	History schema.History `json:"-"`
}

type Orchestrator struct {
	deps     Deps
	cfg      Config
	handlers map[string]WorkflowHandler
}

var ErrMissingDependency = errors.New("orchestrator: missing dependency")

// New validates deps and registers the built-in workflow handlers.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	var missing []string
	if deps.Classifier == nil {
		missing = append(missing, "classifier")
	}
	if deps.Builder == nil {
		missing = append(missing, "prompt builder")
	}
	if deps.Generator == nil {
		missing = append(missing, "generator")
	}
	if deps.Refiner == nil {
		missing = append(missing, "refiner")
	}
	if deps.Gate == nil {
		missing = append(missing, "quality gate")
	}
	if len(missing) > 0 {
		return nil, errors.Join(ErrMissingDependency, errors.New(strings.Join(missing, ", ")))
	}
	if deps.Planner == nil {
		deps.Planner = HeuristicPlanner{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.MaxLoops < 0 {
		cfg.MaxLoops = 0
	}
	if cfg.DefaultWorkflow == "" {
		cfg.DefaultWorkflow = router.WorkflowGeneral
	}
	rag := &RAGWorkflow{Settings: cfg.Generation}
	direct := &DirectWorkflow{Settings: cfg.Generation}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		handlers: map[string]WorkflowHandler{
			router.WorkflowQA:             rag,
			router.WorkflowDeepReasoning:  rag,
			router.WorkflowGeneral:        direct,
			router.WorkflowRecommendation: direct,
			router.WorkflowAnalytics:      direct,
		},
	}, nil
}

// Register installs or replaces the handler for a workflow.
func (o *Orchestrator) Register(workflow string, h WorkflowHandler) {
	o.handlers[workflow] = h
}

func (o *Orchestrator) handler(workflow string) WorkflowHandler {
	if h, ok := o.handlers[workflow]; ok {
		return h
	}
	if h, ok := o.handlers[o.cfg.DefaultWorkflow]; ok {
		return h
	}
	return o.handlers[router.WorkflowGeneral]
}

// Process runs the request to a terminal state. It always returns a
// response; failures are reported through Warnings and Failure.
func (o *Orchestrator) Process(ctx context.Context, req Request) *Response {
	return o.run(ctx, req, nil)
}

// sink receives progress of a streaming run.
type sink struct {
	state   func(s State, loop int)
	warning func(w Warning)
	token   func(d generation.Delta)
}

// runState carries per-request state through the machine.
type runState struct {
	st          *RequestState
	hint        string
	trace       *metrics.RequestTrace
	log         *logger.ContextLogger
	pending     Output
	toolsFailed bool
	rejection   string
	cacheCtx    cache.Context
	useCache    bool
}

func (o *Orchestrator) run(ctx context.Context, req Request, sk *sink) *Response {
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("rag/orchestrator").Start(ctx, "orchestrator.process")
	defer span.End()

	r := &runState{st: o.newState(req), hint: req.WorkflowHint}
	r.trace = metrics.NewRequestTrace(r.st.ID, req.Query)
	r.trace.SessionID = req.SessionID
	r.log = logger.With(map[string]interface{}{"request_id": r.st.ID, "session_id": req.SessionID})
	if sk != nil && sk.warning != nil {
		r.st.onError = func(err error) { sk.warning(toWarning(err)) }
	}

	if strings.TrimSpace(req.Query) == "" {
		r.st.AddError(ErrEmptyQuery)
		return o.synthesize(ctx, r, StateAborted)
	}
	o.loadSession(ctx, r, req)

	env := Env{Deps: &o.deps}
	if sk != nil {
		env.OnToken = sk.token
	}

	state := StateRouting
	for {
		r.st.Visited = append(r.st.Visited, state)
		r.trace.AddState(state.String())
		if sk != nil && sk.state != nil {
			sk.state(state, r.st.LoopCount)
		}
		if state.Terminal() {
			break
		}
		ev := o.step(ctx, r, env, state)
		next, err := Next(state, ev)
		if err != nil {
			r.log.Errorf("[orchestrator] %v", err)
			r.st.AddError(err)
			next = StateAborted
		}
		r.log.Debugf("[orchestrator] %s --%s--> %s (loop %d)", state, ev, next, r.st.LoopCount)
		state = next
	}
	resp := o.synthesize(ctx, r, state)
	span.SetAttributes(
		attribute.String("workflow", resp.WorkflowUsed),
		attribute.Int("loops", resp.Loops),
		attribute.Bool("cached", resp.Cached),
		attribute.Bool("aborted", resp.Aborted),
	)
	return resp
}

func (o *Orchestrator) newState(req Request) *RequestState {
	uc := make(map[string]string, len(req.UserContext))
	for k, v := range req.UserContext {
		uc[k] = v
	}
	return &RequestState{
		ID:          uuid.NewString(),
		SessionID:   req.SessionID,
		Query:       strings.TrimSpace(req.Query),
		UserContext: uc,
		History:     req.History,
		StartedAt:   o.deps.Clock(),
		MaxLoops:    o.cfg.MaxLoops,
	}
}

func (o *Orchestrator) loadSession(ctx context.Context, r *runState, req Request) {
	if req.SessionID == "" || o.deps.Sessions == nil {
		return
	}
	snap, ok, err := o.deps.Sessions.Load(ctx, req.SessionID)
	if err != nil {
		r.st.AddError(&SessionError{Op: "load", Err: err})
		return
	}
	if ok {
		r.st.History = schema.Merge(snap.History, req.History)
	}
}

func (o *Orchestrator) step(ctx context.Context, r *runState, env Env, s State) Event {
	if err := ctx.Err(); err != nil {
		r.st.AddError(err)
		return EventFatal
	}
	ctx, span := otel.Tracer("rag/orchestrator").Start(ctx, "orchestrator."+s.String(),
		trace.WithAttributes(attribute.Int("loop", r.st.LoopCount)))
	defer span.End()

	switch s {
	case StateRouting:
		return o.route(ctx, r)
	case StatePlanning:
		return o.plan(ctx, r)
	case StateToolEnrichment:
		return o.enrich(ctx, r)
	case StateWorkflowExecution:
		return o.execute(ctx, r, env)
	case StateQualityGate:
		return o.gate(ctx, r)
	case StateReplanning:
		return o.replan(ctx, r)
	}
	return EventFatal
}

func (o *Orchestrator) route(ctx context.Context, r *runState) Event {
	st := r.st
	d := o.deps.Classifier.Classify(ctx, router.Input{Query: st.Query, Hint: r.hint})
	st.Routing = d
	st.WorkflowType = d.Workflow
	if d.Ambiguous {
		st.AddError(ErrRoutingAmbiguity)
		st.WorkflowType = o.cfg.DefaultWorkflow
	}
	if _, ok := o.handlers[st.WorkflowType]; !ok {
		r.log.Warnf("[orchestrator] no handler for workflow %q, using %s", st.WorkflowType, o.cfg.DefaultWorkflow)
		st.WorkflowType = o.cfg.DefaultWorkflow
	}
	r.trace.Workflow = st.WorkflowType
	r.trace.RouteConfidence = d.Confidence

	r.cacheCtx = cache.Context{Workflow: st.WorkflowType, User: st.UserContext}
	r.useCache = o.deps.Cache != nil && st.History.Len() == 0
	if r.useCache {
		entry, ok, err := o.deps.Cache.Get(ctx, st.Query, r.cacheCtx)
		switch {
		case err != nil:
			st.AddError(err)
			r.useCache = false
		case ok:
			st.Cached = true
			st.Output = entry.Response.Text
			st.cachedModel = entry.Response.Model
			st.cachedCites = entry.Response.Citations
			r.trace.CacheHit = true
			return EventCacheHit
		}
	}
	if o.cfg.Trigger.ShouldPlan(st.Query, d) {
		return EventNeedsPlan
	}
	return EventRouted
}

func (o *Orchestrator) plan(ctx context.Context, r *runState) Event {
	st := r.st
	p, err := o.deps.Planner.Plan(ctx, PlanRequest{
		Query:       st.Query,
		Workflow:    st.WorkflowType,
		UserContext: st.UserContext,
		Routing:     st.Routing,
	})
	if err != nil {
		r.log.Warnf("[orchestrator] planning failed, continuing without a plan: %v", err)
		return EventPlanned
	}
	st.Plan = &p
	r.trace.Planned = true
	return EventPlanned
}

func (o *Orchestrator) enrich(ctx context.Context, r *runState) Event {
	st := r.st
	if o.deps.Enricher == nil {
		return EventEnriched
	}
	in := enrichment.PlanInput{Workflow: st.WorkflowType, Query: st.Query, UserContext: st.UserContext}
	if st.Plan != nil {
		in.NeedsTools = st.Plan.NeedsTools
		in.CostPreference = st.Plan.CostPreference
	}
	if r.toolsFailed {
		in.NeedsTools = false
	}
	spec := enrichment.PlanSpec(in, o.cfg.ToolLimits)
	if spec.Empty() {
		return EventEnriched
	}
	res := o.deps.Enricher.Enrich(ctx, spec)
	st.ToolsRan = true
	for _, e := range res.Errors {
		st.AddError(e)
	}
	if !res.Empty() {
		st.Enrichment = &res
		r.trace.ToolSources = sourceNames(res.Sources())
	}
	if res.Empty() && len(res.Errors) > 0 {
		r.toolsFailed = true
		if st.CanReplan() {
			r.rejection = ReasonToolsFailed
			return EventToolsFailed
		}
	}
	return EventEnriched
}

func sourceNames(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, r *runState, env Env) Event {
	st := r.st
	out, err := runHandler(ctx, o.handler(st.WorkflowType), env, st)
	if err != nil {
		st.AddError(err)
		var genErr *generation.GenerationError
		if errors.As(err, &genErr) {
			return EventExecutionFailed
		}
		return EventFatal
	}
	r.pending = out
	r.trace.RetrievedDocs = len(st.Documents)
	r.trace.UsedDocs = len(out.Used)
	r.trace.Model = out.Model
	r.trace.GenerationRetries += out.Retries
	return EventExecuted
}

func (o *Orchestrator) gate(ctx context.Context, r *runState) Event {
	st := r.st
	out := r.pending
	refined := o.deps.Refiner.Refine(ctx, out.Text, out.Used)
	d := o.deps.Gate.Check(ctx, quality.Input{
		Query:     st.Query,
		Output:    refined.Text,
		Documents: out.Used,
	})
	if refined.Degenerate {
		d = quality.Decision{Accept: false, Score: 0, Reason: quality.ReasonDegenerate}
	}
	st.Attempts = append(st.Attempts, Attempt{
		Loop:       st.LoopCount,
		Text:       refined.Text,
		Raw:        out.Text,
		Citations:  refined.Citations,
		Used:       out.Used,
		Model:      out.Model,
		Score:      d.Score,
		Accepted:   d.Accept,
		Reason:     d.Reason,
		Degenerate: refined.Degenerate,
	})
	if d.Accept {
		st.Output = refined.Text
		return EventAccepted
	}
	r.log.Infof("[orchestrator] attempt %d rejected: %s", st.LoopCount, d.Reason)
	r.rejection = d.Reason
	if st.CanReplan() {
		return EventRejected
	}
	st.AddError(ErrReplanExhausted)
	return EventExhausted
}

func (o *Orchestrator) replan(ctx context.Context, r *runState) Event {
	st := r.st
	if err := st.IncLoop(); err != nil {
		st.AddError(ErrReplanExhausted)
		return EventExhausted
	}
	metrics.IncReplan()
	if last, ok := st.LastAttempt(); ok {
		st.Output = last.Raw
		if last.Degenerate {
			st.Output = ""
		}
	}
	r.trace.Loops = st.LoopCount
	p, err := o.deps.Planner.Plan(ctx, PlanRequest{
		Query:       st.Query,
		Workflow:    st.WorkflowType,
		UserContext: st.UserContext,
		Routing:     st.Routing,
		Prior:       st.Plan,
		PriorOutput: st.Output,
		Reason:      r.rejection,
		ToolsFailed: r.toolsFailed,
		Retrieved:   len(st.Documents),
	})
	if err != nil {
		r.log.Warnf("[orchestrator] replanning failed, retrying with the previous plan: %v", err)
		return EventReplanned
	}
	st.Plan = &p
	r.trace.Planned = true
	if p.NeedsTools && o.deps.Enricher != nil && !r.toolsFailed && !st.ToolsRan {
		return EventReplannedWithTools
	}
	return EventReplanned
}
