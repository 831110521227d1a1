package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/openai/openai-go/v2"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindNetwork         ErrorKind = "network"
	KindRateLimit       ErrorKind = "rate_limit"
	KindTimeout         ErrorKind = "timeout"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindBadRequest      ErrorKind = "bad_request"
	KindAuth            ErrorKind = "auth"
)

// ProviderError is returned by providers for every failed call.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt against the same provider may
// succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimit, KindTimeout, KindInvalidResponse:
		return true
	}
	return false
}

// IsRetryable reports whether err is a retryable ProviderError. Errors of
// unknown shape are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

// EmptyOutput is the error used when a model returns no text.
var EmptyOutput = errors.New("empty model output")

// Classify wraps err into a ProviderError for provider name.
func Classify(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	out := &ProviderError{Provider: provider, Kind: KindNetwork, Err: err}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		out.Status = apiErr.StatusCode
		out.Kind = kindForStatus(apiErr.StatusCode)
		return out
	}
	if errors.Is(err, EmptyOutput) {
		out.Kind = KindInvalidResponse
		return out
	}
	if errors.Is(err, context.DeadlineExceeded) {
		out.Kind = KindTimeout
		return out
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		out.Kind = KindTimeout
		return out
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		out.Kind = KindTimeout
	}
	return out
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimit
	case status == 401 || status == 403:
		return KindAuth
	case status == 408 || status == 504:
		return KindTimeout
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindBadRequest
	}
	return KindInvalidResponse
}
