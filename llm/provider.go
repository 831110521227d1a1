package llm

import (
	"context"
	"strings"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Provider generates text from a request.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Streamer is implemented by providers that can emit partial output.
// onDelta is called for every chunk; the full text is returned at the end.
type Streamer interface {
	Stream(ctx context.Context, req Request, onDelta func(string)) (string, error)
}

// Prompt builds a single-turn request.
func Prompt(system, user string) Request {
	return Request{System: system, Messages: []Message{{Role: "user", Content: user}}}
}

// Complete runs a single-turn request and trims the answer.
func Complete(ctx context.Context, p Provider, system, user string) (string, error) {
	out, err := p.Generate(ctx, Prompt(system, user))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Func adapts a function to Provider. Used for scripted models and tests.
type Func struct {
	ID string
	Fn func(ctx context.Context, req Request) (string, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f.Fn(ctx, req)
}

// LastUser returns the content of the last user message in req.
func LastUser(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}
