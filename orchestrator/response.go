package orchestrator

import (
	"context"
	"errors"

	"github.com/creatorlens/onboarding-rag/cache"
	"github.com/creatorlens/onboarding-rag/generation"
	"github.com/creatorlens/onboarding-rag/metrics"
	"github.com/creatorlens/onboarding-rag/schema"
	"github.com/creatorlens/onboarding-rag/session"
)

// Response is the caller-facing result of Process.
type Response struct {
	Text         string            `json:"text"`
	Citations    []schema.Citation `json:"citations"`
	Warnings     []Warning         `json:"warnings"`
	WorkflowUsed string            `json:"workflow_used"`
	SessionID    string            `json:"session_id,omitempty"`
	RequestID    string            `json:"request_id"`
	Model        string            `json:"model,omitempty"`
	Cached       bool              `json:"cached"`
	Aborted      bool              `json:"aborted"`
	Loops        int               `json:"loops"`
	Provenance   Provenance        `json:"provenance"`
	// Failure is set when no usable output was produced.
	Failure *Failure `json:"failure,omitempty"`
}

type Provenance struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
	ToolSources []string `json:"tool_sources,omitempty"`
}

// Failure describes a hard failure. Reasons lists per-provider messages for
// generation failures.
type Failure struct {
	Kind    Kind     `json:"kind"`
	Message string   `json:"message"`
	Reasons []string `json:"reasons,omitempty"`
}

// HasWarning reports whether a warning of kind k is present.
func (r *Response) HasWarning(k Kind) bool {
	for _, w := range r.Warnings {
		if w.Kind == k {
			return true
		}
	}
	return false
}

func (o *Orchestrator) synthesize(ctx context.Context, r *runState, final State) *Response {
	st := r.st
	resp := &Response{
		WorkflowUsed: st.WorkflowType,
		SessionID:    st.SessionID,
		RequestID:    st.ID,
		Cached:       st.Cached,
		Aborted:      final == StateAborted,
		Loops:        st.LoopCount,
		Citations:    []schema.Citation{},
	}
	if resp.WorkflowUsed == "" {
		resp.WorkflowUsed = o.cfg.DefaultWorkflow
	}
	var chosen *Attempt
	switch {
	case st.Cached:
		resp.Text = st.Output
		resp.Model = st.cachedModel
		resp.Citations = append(resp.Citations, st.cachedCites...)
	case final == StateFinalSynthesis:
		if a, ok := st.LastAttempt(); ok {
			chosen = &a
		}
	default:
		if a, ok := st.BestAttempt(); ok && !a.Degenerate {
			chosen = &a
		}
	}
	if chosen != nil {
		st.Output = chosen.Text
		resp.Text = chosen.Text
		resp.Model = chosen.Model
		resp.Citations = append(resp.Citations, chosen.Citations...)
		for _, d := range chosen.Used {
			resp.Provenance.DocumentIDs = append(resp.Provenance.DocumentIDs, d.ID)
		}
	}
	if st.Enrichment != nil {
		resp.Provenance.ToolSources = sourceNames(st.Enrichment.Sources())
	}
	if resp.Text == "" {
		resp.Text = o.deps.Refiner.Fallback()
		resp.Failure = failureFrom(st.Errors)
	}

	if final == StateFinalSynthesis && !st.Cached && r.useCache {
		err := o.deps.Cache.Put(ctx, st.Query, r.cacheCtx, cache.Response{
			Text:         resp.Text,
			Citations:    resp.Citations,
			WorkflowUsed: resp.WorkflowUsed,
			Model:        resp.Model,
		})
		if err != nil {
			st.AddError(err)
		}
	}
	if resp.Failure == nil {
		o.saveSession(ctx, st, resp.Text)
	}

	resp.Warnings = warningsFrom(st.Errors)
	o.record(r, resp)
	return resp
}

func failureFrom(errs []error) *Failure {
	var genErr *generation.GenerationError
	for i := len(errs) - 1; i >= 0; i-- {
		if errors.As(errs[i], &genErr) {
			return &Failure{Kind: KindGenerationError, Message: genErr.Error(), Reasons: genErr.Reasons()}
		}
	}
	if len(errs) > 0 {
		last := errs[len(errs)-1]
		return &Failure{Kind: Classify(last), Message: last.Error()}
	}
	return &Failure{Kind: KindInternal, Message: "no output produced"}
}

func warningsFrom(errs []error) []Warning {
	out := make([]Warning, 0, len(errs))
	seen := map[Warning]bool{}
	for _, err := range errs {
		w := toWarning(err)
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func (o *Orchestrator) saveSession(ctx context.Context, st *RequestState, answer string) {
	if st.SessionID == "" || o.deps.Sessions == nil {
		return
	}
	now := o.deps.Clock()
	history := st.History.Append(
		schema.Message{Role: schema.RoleUser, Content: st.Query, Timestamp: st.StartedAt},
		schema.Message{Role: schema.RoleAssistant, Content: answer, Timestamp: now},
	)
	err := o.deps.Sessions.Save(ctx, st.SessionID, session.Snapshot{
		History:      history,
		WorkflowType: st.WorkflowType,
		UpdatedAt:    now,
		Turns:        history.Len() / 2,
	})
	if err != nil {
		st.AddError(&SessionError{Op: "save", Err: err})
		return
	}
	st.History = history
}

func (o *Orchestrator) record(r *runState, resp *Response) {
	t := r.trace
	t.Workflow = resp.WorkflowUsed
	t.Loops = resp.Loops
	t.CacheHit = resp.Cached
	for _, w := range resp.Warnings {
		t.Warnings = append(t.Warnings, string(w.Kind)+": "+w.Message)
	}
	outcome := "ok"
	switch {
	case resp.Failure != nil:
		outcome = "failed"
		t.ErrorMsg = resp.Failure.Message
	case resp.Cached:
		outcome = "cached"
	case resp.Aborted:
		outcome = "aborted"
	}
	t.Finish(outcome)
	t.Log()
	metrics.IncRequest(resp.WorkflowUsed, outcome)
}
