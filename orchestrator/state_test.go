package orchestrator

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/creatorlens/onboarding-rag/cache"
	"github.com/creatorlens/onboarding-rag/enrichment"
	"github.com/creatorlens/onboarding-rag/generation"
	"github.com/creatorlens/onboarding-rag/retrieval"
)

func TestTransitionTable(t *testing.T) {
	g := NewWithT(t)

	valid := []struct {
		from State
		on   Event
		to   State
	}{
		{StateRouting, EventRouted, StateToolEnrichment},
		{StateRouting, EventNeedsPlan, StatePlanning},
		{StateRouting, EventCacheHit, StateFinalSynthesis},
		{StatePlanning, EventPlanned, StateToolEnrichment},
		{StateToolEnrichment, EventEnriched, StateWorkflowExecution},
		{StateToolEnrichment, EventToolsFailed, StateReplanning},
		{StateWorkflowExecution, EventExecuted, StateQualityGate},
		{StateWorkflowExecution, EventExecutionFailed, StateAborted},
		{StateQualityGate, EventAccepted, StateFinalSynthesis},
		{StateQualityGate, EventRejected, StateReplanning},
		{StateQualityGate, EventExhausted, StateAborted},
		{StateReplanning, EventReplanned, StateWorkflowExecution},
		{StateReplanning, EventReplannedWithTools, StateToolEnrichment},
		{StateReplanning, EventExhausted, StateAborted},
	}
	for _, c := range valid {
		got, err := Next(c.from, c.on)
		g.Expect(err).NotTo(HaveOccurred(), "%s on %s", c.from, c.on)
		g.Expect(got).To(Equal(c.to), "%s on %s", c.from, c.on)
	}

	for _, s := range []State{StateRouting, StatePlanning, StateToolEnrichment, StateWorkflowExecution, StateQualityGate, StateReplanning} {
		got, err := Next(s, EventFatal)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(got).To(Equal(StateAborted))
	}

	invalid := []struct {
		from State
		on   Event
	}{
		{StateRouting, EventAccepted},
		{StatePlanning, EventRouted},
		{StateQualityGate, EventReplanned},
		{StateWorkflowExecution, EventAccepted},
		{StateFinalSynthesis, EventRouted},
		{StateAborted, EventReplanned},
	}
	for _, c := range invalid {
		got, err := Next(c.from, c.on)
		var te *ErrInvalidTransition
		g.Expect(errors.As(err, &te)).To(BeTrue(), "%s on %s", c.from, c.on)
		g.Expect(got).To(Equal(c.from))
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	g := NewWithT(t)
	for tr := range transitions {
		g.Expect(tr.from.Terminal()).To(BeFalse(), "transition out of %s", tr.from)
	}
	g.Expect(StateFinalSynthesis.Terminal()).To(BeTrue())
	g.Expect(StateAborted.Terminal()).To(BeTrue())
	g.Expect(StateReplanning.String()).To(Equal("replanning"))
	g.Expect(State(42).String()).To(Equal("state(42)"))
}

func TestIncLoopNeverExceedsMax(t *testing.T) {
	g := NewWithT(t)
	for limit := 0; limit <= 3; limit++ {
		st := &RequestState{MaxLoops: limit}
		for i := 0; i < limit+3; i++ {
			_ = st.IncLoop()
			g.Expect(st.LoopCount).To(BeNumerically("<=", limit))
		}
		g.Expect(st.IncLoop()).To(MatchError(ErrLoopLimit))
		g.Expect(st.CanReplan()).To(BeFalse())
	}
}

func TestAddErrorAppendsOnly(t *testing.T) {
	g := NewWithT(t)
	var seen []error
	st := &RequestState{onError: func(err error) { seen = append(seen, err) }}
	st.AddError(nil)
	st.AddError(ErrNoDocuments)
	st.AddError(ErrRoutingAmbiguity)
	g.Expect(st.Errors).To(HaveLen(2))
	g.Expect(seen).To(Equal(st.Errors))
}

func TestBestAttempt(t *testing.T) {
	g := NewWithT(t)
	st := &RequestState{}
	_, ok := st.BestAttempt()
	g.Expect(ok).To(BeFalse())

	st.Attempts = []Attempt{
		{Loop: 0, Text: "degenerate", Degenerate: true},
		{Loop: 1, Text: "weak", Score: 0.3},
		{Loop: 2, Text: "better", Score: 0.6},
		{Loop: 3, Text: "tie, later wins", Score: 0.6},
		{Loop: 4, Text: "worse", Score: 0.1},
	}
	best, ok := st.BestAttempt()
	g.Expect(ok).To(BeTrue())
	g.Expect(best.Text).To(Equal("tie, later wins"))

	st.Attempts = []Attempt{{Text: "only degenerate", Degenerate: true, Score: 0.9}}
	best, _ = st.BestAttempt()
	g.Expect(best.Degenerate).To(BeTrue())
}

func TestPlanIsImmutable(t *testing.T) {
	g := NewWithT(t)
	steps := []PlanStep{{Description: "a", ToolOrAgent: "retrieval"}}
	p := NewPlan(steps, false, ComplexityLow, CostBalanced)
	steps[0].Description = "mutated"
	got := p.Steps()
	got[0].Description = "also mutated"
	g.Expect(p.Steps()[0].Description).To(Equal("a"))
	g.Expect(p.Descriptions()).To(Equal([]string{"a (retrieval)"}))
}

func TestClassify(t *testing.T) {
	g := NewWithT(t)
	cases := []struct {
		err  error
		want Kind
	}{
		{ErrRoutingAmbiguity, KindRoutingAmbiguity},
		{ErrReplanExhausted, KindReplanExhausted},
		{ErrNoDocuments, KindRetrievalDegraded},
		{&enrichment.SourceError{Source: enrichment.SourceWeb, Timeout: true, Err: errors.New("slow")}, KindToolTimeout},
		{&enrichment.SourceError{Source: enrichment.SourceVideo, Err: errors.New("403")}, KindToolFailure},
		{&retrieval.DegradedError{Branch: "vector", Err: errors.New("down")}, KindRetrievalDegraded},
		{&generation.GenerationError{}, KindGenerationError},
		{fmt.Errorf("l2: %w", cache.ErrBackend), KindCacheError},
		{&SessionError{Op: "load", Err: errors.New("redis down")}, KindSessionError},
		{errors.New("boom"), KindInternal},
	}
	for _, c := range cases {
		g.Expect(Classify(c.err)).To(Equal(c.want), c.err.Error())
	}
	g.Expect(Classify(nil)).To(BeEmpty())
}
