package orchestrator

import (
	"context"

	"github.com/creatorlens/onboarding-rag/generation"
)

type EventType string

const (
	EventTypeState   EventType = "state"
	EventTypeToken   EventType = "token"
	// EventTypeReset tells the reader to discard the tokens received since
	// the last reset: the model that produced them failed mid-stream.
	EventTypeReset   EventType = "reset"
	EventTypeWarning EventType = "warning"
	EventTypeDone    EventType = "done"
)

// StreamEvent is one item of a streaming run. The last event is always of
// type done and carries the same Response that Process would return.
type StreamEvent struct {
	Type     EventType `json:"type"`
	State    string    `json:"state,omitempty"`
	Loop     int       `json:"loop,omitempty"`
	Model    string    `json:"model,omitempty"`
	Token    string    `json:"token,omitempty"`
	Warning  *Warning  `json:"warning,omitempty"`
	Response *Response `json:"response,omitempty"`
}

const streamBuffer = 64

// ProcessStream runs the request in a goroutine and reports progress on the
// returned channel, which is closed after the done event. Events are dropped
// once ctx is cancelled and the reader stopped draining the channel.
func (o *Orchestrator) ProcessStream(ctx context.Context, req Request) <-chan StreamEvent {
	ch := make(chan StreamEvent, streamBuffer)
	send := func(ev StreamEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
	sk := &sink{
		state: func(s State, loop int) {
			send(StreamEvent{Type: EventTypeState, State: s.String(), Loop: loop})
		},
		warning: func(w Warning) {
			send(StreamEvent{Type: EventTypeWarning, Warning: &w})
		},
		token: func(d generation.Delta) {
			if d.Reset {
				send(StreamEvent{Type: EventTypeReset, Model: d.Model})
				return
			}
			send(StreamEvent{Type: EventTypeToken, Model: d.Model, Token: d.Text})
		},
	}
	go func() {
		defer close(ch)
		done := StreamEvent{Type: EventTypeDone, Response: o.run(ctx, req, sk)}
		select {
		case ch <- done:
		default:
			send(done)
		}
	}()
	return ch
}
