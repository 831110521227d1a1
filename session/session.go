// Package session persists conversation history between requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/creatorlens/onboarding-rag/schema"
)

var ErrEmptyID = errors.New("session: empty id")

// Snapshot is the persisted state of one session.
type Snapshot struct {
	ID           string
	History      schema.History
	WorkflowType string
	UpdatedAt    time.Time
	Turns        int
}

type Store interface {
	Save(ctx context.Context, id string, s Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, bool, error)
	Delete(ctx context.Context, id string) error
}

type wireSnapshot struct {
	ID           string           `json:"session_id"`
	Messages     []schema.Message `json:"messages"`
	WorkflowType string           `json:"workflow_type,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Turns        int              `json:"turns"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSnapshot{
		ID:           s.ID,
		Messages:     s.History.Messages(),
		WorkflowType: s.WorkflowType,
		UpdatedAt:    s.UpdatedAt,
		Turns:        s.Turns,
	})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = Snapshot{
		ID:           w.ID,
		History:      schema.NewHistory(w.Messages...),
		WorkflowType: w.WorkflowType,
		UpdatedAt:    w.UpdatedAt,
		Turns:        w.Turns,
	}
	return nil
}

// trim keeps the last maxTurns user/assistant exchanges.
func trim(s Snapshot, maxTurns int) Snapshot {
	if maxTurns > 0 && s.History.Len() > maxTurns*2 {
		s.History = schema.NewHistory(s.History.Last(maxTurns * 2)...)
	}
	return s
}

func prepare(id string, s Snapshot, maxTurns int, now time.Time) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrEmptyID
	}
	s.ID = id
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	return trim(s, maxTurns), nil
}
