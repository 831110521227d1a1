package orchestrator

import (
	"errors"

	"github.com/creatorlens/onboarding-rag/cache"
	"github.com/creatorlens/onboarding-rag/enrichment"
	"github.com/creatorlens/onboarding-rag/generation"
	"github.com/creatorlens/onboarding-rag/retrieval"
	"github.com/creatorlens/onboarding-rag/session"
)

// Kind is the error taxonomy surfaced in response warnings.
type Kind string

const (
	KindRoutingAmbiguity  Kind = "RoutingAmbiguity"
	KindToolTimeout       Kind = "ToolTimeout"
	KindToolFailure       Kind = "ToolFailure"
	KindRetrievalDegraded Kind = "RetrievalDegraded"
	KindGenerationError   Kind = "GenerationError"
	KindReplanExhausted   Kind = "ReplanExhausted"
	KindCacheError        Kind = "CacheError"
	KindSessionError      Kind = "SessionError"
	KindInternal          Kind = "Internal"
)

var (
	ErrRoutingAmbiguity = errors.New("routing ambiguous, using default workflow")
	ErrReplanExhausted  = errors.New("replan budget exhausted, returning best available output")
	ErrNoDocuments      = errors.New("no documents retrieved, answering from model knowledge")
	ErrEmptyQuery       = errors.New("empty query")
)

// SessionError wraps session store failures.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string { return "session " + e.Op + ": " + e.Err.Error() }

func (e *SessionError) Unwrap() error { return e.Err }

// Classify maps an error onto the taxonomy.
func Classify(err error) Kind {
	var (
		srcErr  *enrichment.SourceError
		degErr  *retrieval.DegradedError
		genErr  *generation.GenerationError
		sessErr *SessionError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoutingAmbiguity):
		return KindRoutingAmbiguity
	case errors.Is(err, ErrReplanExhausted):
		return KindReplanExhausted
	case errors.As(err, &srcErr):
		if srcErr.Timeout {
			return KindToolTimeout
		}
		return KindToolFailure
	case errors.As(err, &degErr), errors.Is(err, ErrNoDocuments):
		return KindRetrievalDegraded
	case errors.As(err, &genErr):
		return KindGenerationError
	case errors.Is(err, cache.ErrBackend):
		return KindCacheError
	case errors.As(err, &sessErr), errors.Is(err, session.ErrEmptyID):
		return KindSessionError
	}
	return KindInternal
}

// Warning is a non-fatal error as shown to callers.
type Warning struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func toWarning(err error) Warning {
	return Warning{Kind: Classify(err), Message: err.Error()}
}
