package orchestrator

import (
	"context"
	"fmt"
	"strings"

	goerrors "github.com/go-errors/errors"

	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/generation"
	"github.com/creatorlens/onboarding-rag/prompt"
	"github.com/creatorlens/onboarding-rag/retrieval"
	"github.com/creatorlens/onboarding-rag/router"
	"github.com/creatorlens/onboarding-rag/schema"
)

// Output is what a workflow handler hands to the quality gate.
type Output struct {
	Text  string
	Model string
	// Used are the documents that made it into the prompt.
	Used      []schema.Document
	Retries   int
	Truncated bool
}

// Env gives handlers access to collaborators and the token sink.
type Env struct {
	Deps *Deps
	// OnToken is non-nil for streaming requests.
	OnToken func(d generation.Delta)
}

// WorkflowHandler executes one workflow over the request state.
type WorkflowHandler interface {
	Execute(ctx context.Context, env Env, st *RequestState) (Output, error)
}

// HandlerFunc adapts a function to WorkflowHandler.
type HandlerFunc func(ctx context.Context, env Env, st *RequestState) (Output, error)

func (f HandlerFunc) Execute(ctx context.Context, env Env, st *RequestState) (Output, error) {
	return f(ctx, env, st)
}

// GenerationSettings are shared by the built-in handlers.
type GenerationSettings struct {
	MaxTokens   int
	Temperature float64
	// TopK is the base retrieval depth; each replan widens it by TopKStep.
	TopK     int
	TopKStep int
}

var workflowInstructions = map[string]string{
	router.WorkflowQA:             "Answer the creator's question using the provided documents.",
	router.WorkflowDeepReasoning:  "Work through the plan step by step, then give a clear recommendation grounded in the documents.",
	router.WorkflowRecommendation: "Recommend concrete next steps tailored to the creator's channel and goals.",
	router.WorkflowAnalytics:      "Analyze the creator's channel data and explain the numbers and what to do about them.",
	router.WorkflowGeneral:        "Help the creator with their request.",
}

var workflowTasks = map[string]string{
	router.WorkflowDeepReasoning: "reasoning",
	router.WorkflowAnalytics:     "analysis",
}

// RAGWorkflow retrieves documents for the query and each retrieval step of
// the plan, then generates a grounded answer.
type RAGWorkflow struct {
	Settings GenerationSettings
}

func (w *RAGWorkflow) Execute(ctx context.Context, env Env, st *RequestState) (Output, error) {
	docs, err := w.retrieve(ctx, env.Deps.Retrieval, st)
	if err != nil {
		return Output{}, err
	}
	st.Documents = docs
	return generate(ctx, env, st, docs, w.Settings)
}

func (w *RAGWorkflow) retrieve(ctx context.Context, engine Retriever, st *RequestState) ([]schema.Document, error) {
	if engine == nil {
		st.AddError(&retrieval.DegradedError{Branch: retrieval.BranchAll, Err: ErrNoDocuments})
		return nil, nil
	}
	queries := []string{st.Query}
	if st.Plan != nil {
		for _, s := range st.Plan.Steps() {
			if s.ToolOrAgent == "retrieval" && s.Description != st.Query {
				queries = append(queries, s.Description)
			}
		}
	}
	topK := w.Settings.TopK
	if topK > 0 {
		topK += w.Settings.TopKStep * st.LoopCount
	}
	opts := retrieval.Options{TopK: topK, Filters: filtersFrom(st.UserContext)}

	var (
		merged []schema.SearchResult
		seen   = map[string]int{}
	)
	for _, q := range queries {
		res, err := engine.Search(ctx, q, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			st.AddError(&retrieval.DegradedError{Branch: retrieval.BranchAll, Err: err})
			continue
		}
		for _, warn := range res.Warnings {
			st.AddError(warn)
		}
		for _, r := range res.Documents {
			if i, ok := seen[r.Document.ID]; ok {
				if r.Score > merged[i].Score {
					merged[i] = r
				}
				continue
			}
			seen[r.Document.ID] = len(merged)
			merged = append(merged, r)
		}
	}
	if len(merged) == 0 {
		st.AddError(&retrieval.DegradedError{Branch: retrieval.BranchAll, Err: ErrNoDocuments})
		return nil, nil
	}
	// The query's own ranking comes first; plan-step hits follow in score order.
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return schema.Documents(merged), nil
}

func filtersFrom(uc map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range uc {
		if strings.HasPrefix(k, "filter.") && v != "" {
			out[strings.TrimPrefix(k, "filter.")] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// DirectWorkflow answers from the model, enrichment and history only.
type DirectWorkflow struct {
	Settings GenerationSettings
}

func (w *DirectWorkflow) Execute(ctx context.Context, env Env, st *RequestState) (Output, error) {
	return generate(ctx, env, st, nil, w.Settings)
}

func generate(ctx context.Context, env Env, st *RequestState, docs []schema.Document, s GenerationSettings) (Output, error) {
	in := prompt.Input{
		Query:        st.Query,
		Instructions: workflowInstructions[st.WorkflowType],
		Documents:    docs,
		History:      st.History,
		Extra:        st.UserContext,
		PriorOutput:  st.Output,
	}
	if st.Enrichment != nil && !st.Enrichment.Empty() {
		in.Enrichment = st.Enrichment.Format()
	}
	if st.Plan != nil {
		in.Plan = st.Plan.Descriptions()
	}
	hint := hintFor(st)
	if profile, ok := env.Deps.Generator.Select(hint); ok {
		in.Budget = contextBudget(profile, s.MaxTokens)
	}
	p := env.Deps.Builder.Build(in)
	if p.Overflow {
		logger.Warnf("[orchestrator] request %s: prompt over budget before documents", st.ID)
	}
	req := p.Request(s.MaxTokens, s.Temperature)

	var (
		res generation.Result
		err error
	)
	if env.OnToken != nil {
		if len(st.Attempts) > 0 {
			// A replan streams a fresh answer.
			env.OnToken(generation.Delta{Reset: true})
		}
		res, err = env.Deps.Generator.Stream(ctx, req, hint, env.OnToken)
	} else {
		res, err = env.Deps.Generator.Generate(ctx, req, hint)
	}
	if err != nil {
		return Output{}, err
	}
	return Output{
		Text:      res.Text,
		Model:     res.Model,
		Used:      p.UsedDocuments,
		Retries:   res.Retries(),
		Truncated: p.DroppedDocuments > 0 || p.DroppedTurns > 0,
	}, nil
}

// contextBudget is the prompt budget left in the model's context window after
// its output tokens, or 0 when the model does not declare a context size.
func contextBudget(m generation.ModelProfile, maxTokens int) int {
	if m.ContextSize <= 0 {
		return 0
	}
	out := maxTokens
	if out <= 0 {
		out = m.MaxTokens
	}
	if budget := m.ContextSize - out; budget > 0 {
		return budget
	}
	return 1
}

func hintFor(st *RequestState) generation.Hint {
	h := generation.Hint{Model: st.UserContext["model"], TaskType: workflowTasks[st.WorkflowType]}
	cost := costPreference(st.UserContext)
	if st.Plan != nil {
		cost = st.Plan.CostPreference
		if st.Plan.Complexity == ComplexityHigh && h.TaskType == "" {
			h.TaskType = "reasoning"
		}
	}
	switch cost {
	case CostBudget:
		h.Cost = "budget"
	case CostSpeed:
		h.Latency = "fast"
	}
	return h
}

// runHandler executes h and converts a panic into an error with its stack.
func runHandler(ctx context.Context, h WorkflowHandler, env Env, st *RequestState) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			werr := goerrors.Wrap(r, 2)
			logger.Errorf("[orchestrator] workflow %s panicked: %v\n%s", st.WorkflowType, r, werr.ErrorStack())
			err = &PanicError{Workflow: st.WorkflowType, Err: werr}
		}
	}()
	return h.Execute(ctx, env, st)
}

// PanicError is a recovered workflow handler panic.
type PanicError struct {
	Workflow string
	Err      *goerrors.Error
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workflow %s panicked: %v", e.Workflow, e.Err.Err)
}

func (e *PanicError) Unwrap() error { return e.Err }
