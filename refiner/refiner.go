// Package refiner post-processes model output: it replaces degenerate answers
// with a labelled fallback, attaches citations and optionally polishes tone.
package refiner

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/schema"
)

const (
	DefaultFallback = "[fallback] A complete answer could not be generated right now. Please try again shortly."

	// outputs at least this long are never treated as error echoes
	errorEchoMaxChars = 240

	cautionNote = "\n\n_(Note: parts of this answer may not be supported by the cited sources. Please check the originals.)_"
)

// Degenerate reasons.
const (
	ReasonEmpty     = "empty"
	ReasonFallback  = "fallback_echo"
	ReasonErrorEcho = "error_echo"
)

var errorMarkers = []string{
	"traceback",
	"exception:",
	"internal server error",
	"context deadline exceeded",
	"generation failed",
	"panic:",
	"응답을 생성할 수 없습니다",
	"오류가 발생했습니다",
}

var knownFallbacks = []string{
	DefaultFallback,
	"죄송합니다. 응답을 생성할 수 없습니다.",
	"I'm sorry, I could not generate a response.",
}

var citationRe = regexp.MustCompile(`\[(\d{1,3})\]`)

// Polisher rewrites an answer for tone and structure without changing facts.
type Polisher interface {
	Polish(ctx context.Context, text string) (string, error)
}

// Verifier judges whether text is supported by docs.
type Verifier interface {
	Supported(ctx context.Context, text string, docs []schema.Document) (bool, error)
}

type Refined struct {
	Text       string
	Citations  []schema.Citation
	Degenerate bool
	Reason     string
	Polished   bool
	// Unsupported is set when the grounding check rejected the answer.
	Unsupported bool
}

type Refiner struct {
	fallback  string
	minPolish int
	polisher  Polisher
	verifier  Verifier
}

// New builds a refiner. polisher and verifier may be nil.
func New(cfg config.RefinerConfig, polisher Polisher, verifier Verifier) *Refiner {
	r := &Refiner{fallback: cfg.FallbackMessage, minPolish: cfg.MinPolishChars}
	if r.fallback == "" {
		r.fallback = DefaultFallback
	}
	if r.minPolish <= 0 {
		r.minPolish = 50
	}
	if cfg.Polish {
		r.polisher = polisher
	}
	if cfg.VerifyGrounding {
		r.verifier = verifier
	}
	return r
}

// Fallback returns the labelled fallback message.
func (r *Refiner) Fallback() string { return r.fallback }

// Refine never fails: polish and verification errors keep the raw text.
func (r *Refiner) Refine(ctx context.Context, text string, used []schema.Document) Refined {
	if ok, reason := r.Degenerate(text); ok {
		return Refined{Text: r.fallback, Degenerate: true, Reason: reason}
	}
	out := Refined{Text: strings.TrimSpace(text), Citations: Citations(text, used)}

	if r.verifier != nil && len(used) > 0 {
		supported, err := r.verifier.Supported(ctx, out.Text, used)
		switch {
		case err != nil:
			logger.Warnf("refiner: grounding check failed, assuming supported: %v", err)
		case !supported:
			out.Unsupported = true
		}
	}

	if r.polisher != nil && len([]rune(out.Text)) >= r.minPolish {
		polished, err := r.polisher.Polish(ctx, out.Text)
		if err != nil {
			logger.Warnf("refiner: polish failed, keeping raw answer: %v", err)
		} else if ok, _ := r.Degenerate(polished); !ok {
			out.Text = strings.TrimSpace(polished)
			out.Polished = true
		}
	}
	if out.Unsupported {
		out.Text += cautionNote
	}
	return out
}

// Degenerate reports whether text is unusable as an answer: empty, a known
// fallback string, or a short output echoing an internal error.
func (r *Refiner) Degenerate(text string) (bool, string) {
	t := strings.TrimSpace(text)
	if t == "" {
		return true, ReasonEmpty
	}
	if t == r.fallback {
		return true, ReasonFallback
	}
	for _, f := range knownFallbacks {
		if t == f {
			return true, ReasonFallback
		}
	}
	if len([]rune(t)) < errorEchoMaxChars {
		lower := strings.ToLower(t)
		for _, m := range errorMarkers {
			if strings.Contains(lower, m) {
				return true, ReasonErrorEcho
			}
		}
	}
	return false, ""
}

// Citations lists the used documents an answer refers to. When the text
// carries [n] markers only those documents are cited; otherwise every used
// document is. Indexes are 1-based positions in used.
func Citations(text string, used []schema.Document) []schema.Citation {
	if len(used) == 0 {
		return nil
	}
	var indexes []int
	if matches := citationRe.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		seen := map[int]bool{}
		for _, m := range matches {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 || n > len(used) || seen[n] {
				continue
			}
			seen[n] = true
			indexes = append(indexes, n)
		}
		sort.Ints(indexes)
	}
	if len(indexes) == 0 {
		for i := range used {
			indexes = append(indexes, i+1)
		}
	}
	out := make([]schema.Citation, 0, len(indexes))
	for _, n := range indexes {
		d := used[n-1]
		out = append(out, schema.Citation{Index: n, DocumentID: d.ID, Source: d.Source(), Title: d.Title()})
	}
	return out
}
