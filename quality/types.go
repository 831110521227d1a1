// Package quality decides whether a generated answer is good enough to
// return or whether the request should be replanned.
package quality

import (
	"context"

	"github.com/creatorlens/onboarding-rag/schema"
)

// Verdict is an evaluator's relevance judgement.
type Verdict int

const (
	VerdictCorrect Verdict = iota
	VerdictAmbiguous
	VerdictIncorrect
)

func (v Verdict) String() string {
	switch v {
	case VerdictCorrect:
		return "correct"
	case VerdictAmbiguous:
		return "ambiguous"
	case VerdictIncorrect:
		return "incorrect"
	default:
		return "unknown"
	}
}

func parseVerdict(s string) Verdict {
	switch s {
	case "correct":
		return VerdictCorrect
	case "incorrect":
		return VerdictIncorrect
	default:
		return VerdictAmbiguous
	}
}

func verdictFor(score, correct, incorrect float64) Verdict {
	switch {
	case score >= correct:
		return VerdictCorrect
	case score < incorrect:
		return VerdictIncorrect
	default:
		return VerdictAmbiguous
	}
}

// Evaluator scores how well an answer serves a query in [0,1].
type Evaluator interface {
	Evaluate(ctx context.Context, query, answer string) (score float64, verdict Verdict, err error)
}

// Input is what the gate checks.
type Input struct {
	Query     string
	Output    string
	Documents []schema.Document
	// RequireDocuments rejects answers produced without retrieved context.
	RequireDocuments bool
}

// Decision reasons.
const (
	ReasonOK          = "ok"
	ReasonEmpty       = "empty_output"
	ReasonDegenerate  = "degenerate_output"
	ReasonNoDocuments = "no_documents"
	ReasonUncertain   = "uncertain_answer"
	ReasonTooShort    = "too_short"
	ReasonIncorrect   = "evaluator_incorrect"
)

type Decision struct {
	Accept bool
	Score  float64
	Reason string
}

// Gate checks an answer. It never fails: evaluation problems accept.
type Gate interface {
	Check(ctx context.Context, in Input) Decision
}
