package schema

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// History is an append-only sequence of messages. Append and Merge return
// new values and never modify the receiver's backing array.
type History struct {
	msgs []Message
}

// NewHistory copies msgs into a History.
func NewHistory(msgs ...Message) History {
	return History{msgs: append([]Message(nil), msgs...)}
}

// Append returns a history with msgs added at the end.
func (h History) Append(msgs ...Message) History {
	out := make([]Message, 0, len(h.msgs)+len(msgs))
	out = append(out, h.msgs...)
	out = append(out, msgs...)
	return History{msgs: out}
}

// Len returns the number of messages.
func (h History) Len() int { return len(h.msgs) }

// Messages returns a copy of the messages in order.
func (h History) Messages() []Message {
	return append([]Message(nil), h.msgs...)
}

// Last returns up to n most recent messages in chronological order.
func (h History) Last(n int) []Message {
	if n <= 0 {
		return nil
	}
	if n >= len(h.msgs) {
		return h.Messages()
	}
	return append([]Message(nil), h.msgs[len(h.msgs)-n:]...)
}

// Merge concatenates two histories. When b starts with messages that a
// already ends with, the overlap is kept once.
func Merge(a, b History) History {
	overlap := 0
	max := len(a.msgs)
	if len(b.msgs) < max {
		max = len(b.msgs)
	}
	for k := max; k > 0; k-- {
		if sameMessages(a.msgs[len(a.msgs)-k:], b.msgs[:k]) {
			overlap = k
			break
		}
	}
	return a.Append(b.msgs[overlap:]...)
}

func sameMessages(x, y []Message) bool {
	for i := range x {
		if x[i].Role != y[i].Role || x[i].Content != y[i].Content || !x[i].Timestamp.Equal(y[i].Timestamp) {
			return false
		}
	}
	return true
}
