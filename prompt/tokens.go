package prompt

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/creatorlens/onboarding-rag/common/logger"
)

// TokenCounter estimates how many tokens a text occupies in the model context.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter assumes 4 characters per token, rounded up.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// TiktokenCounter counts with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter returns a tiktoken counter for kind "tiktoken", falling back to
// ApproxCounter when the encoding cannot be loaded (it is fetched on first
// use unless cached locally).
func NewCounter(kind, encoding string) TokenCounter {
	if !strings.EqualFold(kind, "tiktoken") {
		return ApproxCounter{}
	}
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warnf("prompt: tiktoken encoding %s unavailable, using approximate counts: %v", encoding, err)
		return ApproxCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
