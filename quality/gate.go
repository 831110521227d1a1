package quality

import (
	"context"
	"strings"

	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/metrics"
	"github.com/creatorlens/onboarding-rag/refiner"
)

var uncertaintyMarkers = []string{
	"i don't know",
	"i do not know",
	"i'm not sure",
	"not enough information",
	"no information",
	"cannot find",
	"couldn't find",
	"모르겠",
	"확실하지 않",
	"정보가 없",
	"찾을 수 없",
}

// longer answers may mention uncertainty in passing
const uncertaintyMaxChars = 600

// BasicGate applies cheap structural checks.
type BasicGate struct {
	// Degenerate reports unusable output; defaults to the refiner's check.
	Degenerate     func(string) (bool, string)
	MinOutputChars int
	// MinAnswerChars rejects short answers when at least two documents were
	// available to draw on.
	MinAnswerChars int
}

func NewBasicGate(cfg config.QualityConfig) *BasicGate {
	g := &BasicGate{MinOutputChars: cfg.MinOutputChars, MinAnswerChars: cfg.MinAnswerChars}
	g.Degenerate = refiner.New(config.RefinerConfig{}, nil, nil).Degenerate
	return g
}

func (g *BasicGate) Check(_ context.Context, in Input) Decision {
	d := g.check(in)
	metrics.IncQualityVerdict(d.Reason)
	return d
}

func (g *BasicGate) check(in Input) Decision {
	out := strings.TrimSpace(in.Output)
	n := len([]rune(out))
	if n == 0 {
		return Decision{Reason: ReasonEmpty}
	}
	if g.Degenerate != nil {
		if bad, _ := g.Degenerate(out); bad {
			return Decision{Reason: ReasonDegenerate}
		}
	}
	if in.RequireDocuments && len(in.Documents) == 0 {
		return Decision{Score: 0.2, Reason: ReasonNoDocuments}
	}
	if n < g.MinOutputChars {
		return Decision{Score: 0.2, Reason: ReasonTooShort}
	}
	if n < uncertaintyMaxChars {
		lower := strings.ToLower(out)
		for _, m := range uncertaintyMarkers {
			if strings.Contains(lower, m) {
				return Decision{Score: 0.3, Reason: ReasonUncertain}
			}
		}
	}
	if g.MinAnswerChars > 0 && len(in.Documents) >= 2 && n < g.MinAnswerChars {
		return Decision{Score: 0.4, Reason: ReasonTooShort}
	}
	return Decision{Accept: true, Score: score(out, n, len(in.Documents)), Reason: ReasonOK}
}

// score grows with length up to 1200 chars and with citation markers.
func score(out string, n, docs int) float64 {
	s := 0.5 + 0.3*float64(min(n, 1200))/1200
	if docs > 0 && strings.Contains(out, "[") && strings.Contains(out, "]") {
		s += 0.2
	}
	if s > 1 {
		s = 1
	}
	return s
}

// EvaluatorGate runs the basic checks and then asks an evaluator. Only an
// "incorrect" verdict rejects; evaluator failures accept.
type EvaluatorGate struct {
	Basic     *BasicGate
	Evaluator Evaluator
}

func (g *EvaluatorGate) Check(ctx context.Context, in Input) Decision {
	d := g.Basic.check(in)
	if !d.Accept {
		metrics.IncQualityVerdict(d.Reason)
		return d
	}
	score, verdict, err := g.Evaluator.Evaluate(ctx, in.Query, in.Output)
	if err != nil {
		logger.Warnf("quality: evaluator failed, accepting: %v", err)
		metrics.IncQualityVerdict(ReasonOK)
		return d
	}
	if verdict == VerdictIncorrect {
		metrics.IncQualityVerdict(ReasonIncorrect)
		return Decision{Score: score, Reason: ReasonIncorrect}
	}
	metrics.IncQualityVerdict(ReasonOK)
	return Decision{Accept: true, Score: score, Reason: ReasonOK}
}

// New builds the gate selected by cfg.Mode. provider is used by the llm mode
// and may be nil otherwise.
func New(cfg config.QualityConfig, client *httpx.Client, provider llm.Provider) Gate {
	basic := NewBasicGate(cfg)
	switch strings.ToLower(cfg.Mode) {
	case "llm":
		if provider != nil {
			return &EvaluatorGate{Basic: basic, Evaluator: &LLMEvaluator{Provider: provider, CorrectTh: cfg.Correct, IncorrectTh: cfg.Incorrect}}
		}
		logger.Warnf("quality: llm mode without a provider, using basic checks")
	case "http":
		if cfg.Endpoint != "" {
			return &EvaluatorGate{Basic: basic, Evaluator: &HTTPEvaluator{Endpoint: cfg.Endpoint, Client: client, CorrectTh: cfg.Correct, IncorrectTh: cfg.Incorrect}}
		}
		logger.Warnf("quality: http mode without endpoint, using basic checks")
	}
	return basic
}
