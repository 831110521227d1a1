// Package prompt assembles the generation prompt from the query, retrieved
// documents, conversation history and auxiliary context, keeping it inside
// the model's token budget.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/post"
	"github.com/creatorlens/onboarding-rag/schema"
)

const defaultInstructions = `You are a helpful assistant for content creators.
Answer using the provided documents when they are relevant and cite them with their [n] markers.
If the documents do not contain the answer, say so plainly instead of guessing.`

// Input is everything that may go into one prompt. Documents must be in
// rank order, best first.
type Input struct {
	Query        string
	Instructions string
	Documents    []schema.Document
	History      schema.History
	Extra        map[string]string
	Enrichment   string
	Plan         []string
	PriorOutput  string
	// Budget caps the configured context budget when > 0, typically the
	// target model's context size minus its output tokens.
	Budget int
}

// Prompt is the assembled prompt plus a record of what was cut.
type Prompt struct {
	System           string
	User             string
	UsedDocuments    []schema.Document
	DroppedDocuments int
	DroppedTurns     int
	Tokens           int
	// Overflow is set when the query and fixed sections alone exceed the budget.
	Overflow bool
}

// Request converts the prompt into a provider request.
func (p Prompt) Request(maxTokens int, temperature float64) llm.Request {
	return llm.Request{
		System:      p.System,
		Messages:    []llm.Message{{Role: schema.RoleUser, Content: p.User}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

type Builder struct {
	cfg     config.PromptConfig
	counter TokenCounter
}

func NewBuilder(cfg config.PromptConfig, counter TokenCounter) *Builder {
	if counter == nil {
		counter = ApproxCounter{}
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 8000
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 20
	}
	return &Builder{cfg: cfg, counter: counter}
}

// Build renders in. When the rendering exceeds the budget, documents are
// dropped from the lowest rank upward, then history turns from the oldest.
// The query is never dropped. The result depends only on in and the builder
// configuration.
func (b *Builder) Build(in Input) Prompt {
	budget := b.cfg.MaxContextTokens - b.cfg.ReservedOutput
	if in.Budget > 0 && in.Budget < budget {
		budget = in.Budget
	}

	system := b.system(in.Instructions)
	docs := b.clipDocs(in.Documents)
	turns := in.History.Last(b.cfg.MaxHistoryTurns)
	droppedTurns := in.History.Len() - len(turns)
	droppedDocs := 0

	var user string
	var tokens int
	overflow := false
	for {
		user = b.render(in, docs, turns)
		tokens = b.counter.Count(system) + b.counter.Count(user)
		if tokens <= budget {
			break
		}
		if len(docs) > 0 {
			docs = docs[:len(docs)-1]
			droppedDocs++
			continue
		}
		if len(turns) > 0 {
			turns = turns[1:]
			droppedTurns++
			continue
		}
		overflow = true
		break
	}

	return Prompt{
		System:           system,
		User:             user,
		UsedDocuments:    docs,
		DroppedDocuments: droppedDocs,
		DroppedTurns:     droppedTurns,
		Tokens:           tokens,
		Overflow:         overflow,
	}
}

func (b *Builder) system(extra string) string {
	base := b.cfg.SystemInstructions
	if base == "" {
		base = defaultInstructions
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		return base + "\n\n" + extra
	}
	return base
}

func (b *Builder) clipDocs(in []schema.Document) []schema.Document {
	out := make([]schema.Document, len(in))
	for i, d := range in {
		out[i] = d
		if b.cfg.MaxDocTokens > 0 && b.counter.Count(d.Content) > b.cfg.MaxDocTokens {
			out[i] = d.Clone()
			out[i].Content = post.Clip(d.Content, b.cfg.MaxDocTokens*4)
		}
	}
	return out
}

func (b *Builder) render(in Input, docs []schema.Document, turns []schema.Message) string {
	var parts []string

	if len(in.Extra) > 0 {
		keys := make([]string, 0, len(in.Extra))
		for k := range in.Extra {
			if strings.TrimSpace(in.Extra[k]) != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			lines := []string{"### User Profile"}
			for _, k := range keys {
				lines = append(lines, fmt.Sprintf("- %s: %s", strings.ReplaceAll(k, "_", " "), in.Extra[k]))
			}
			parts = append(parts, strings.Join(lines, "\n"))
		}
	}

	if len(in.Plan) > 0 || in.PriorOutput != "" {
		lines := []string{"### Task Context"}
		for i, step := range in.Plan {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, step))
		}
		if in.PriorOutput != "" {
			lines = append(lines, "", "Previous attempt (improve on it, do not repeat its gaps):", in.PriorOutput)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if s := strings.TrimSpace(in.Enrichment); s != "" {
		parts = append(parts, "### Tool Results\n"+s)
	}

	if len(docs) > 0 {
		lines := []string{"### Retrieved Documents"}
		for i, d := range docs {
			lines = append(lines, fmt.Sprintf("[%d] Source: %s", i+1, d.Source()))
			if t := d.Title(); t != "" {
				lines = append(lines, "Title: "+t)
			}
			lines = append(lines, "Content: "+d.Content, "")
		}
		parts = append(parts, strings.TrimRight(strings.Join(lines, "\n"), "\n"))
	}

	if len(turns) > 0 {
		lines := []string{"### Conversation History"}
		for _, m := range turns {
			lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	parts = append(parts, "### Current Query\n"+in.Query)
	return strings.Join(parts, "\n\n")
}
