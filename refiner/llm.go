package refiner

import (
	"context"
	"fmt"
	"strings"

	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/schema"
)

const defaultPersona = `Friendly and helpful, professional without being stiff. Use clear Markdown structure (headers, bullet points, bold for key insights).`

const polishSystem = `You are a response refiner. Polish the AI response you are given.
Style: %s
Fix formatting issues and keep the answer focused on the user's intent.
Do NOT change facts, numbers or [n] citation markers. Output only the polished response.`

// LLMPolisher polishes answers with a (fast) model.
type LLMPolisher struct {
	Provider llm.Provider
	Persona  string
}

func (p *LLMPolisher) Polish(ctx context.Context, text string) (string, error) {
	persona := p.Persona
	if persona == "" {
		persona = defaultPersona
	}
	req := llm.Prompt(fmt.Sprintf(polishSystem, persona), text)
	req.Temperature = 0.3
	out, err := p.Provider.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("polish: %w", err)
	}
	return out, nil
}

// LLMVerifier asks a model whether the top documents support the answer.
type LLMVerifier struct {
	Provider llm.Provider
}

func (v *LLMVerifier) Supported(ctx context.Context, text string, docs []schema.Document) (bool, error) {
	var b strings.Builder
	for i, d := range docs {
		if i == 3 {
			break
		}
		b.WriteString(truncate(d.Content, 300))
		b.WriteString("\n")
	}
	user := fmt.Sprintf("Context:\n%s\nClaim:\n%s\n\nDoes the Context support the Claim? Answer only YES or NO.", b.String(), truncate(text, 1000))
	req := llm.Prompt("Verify whether a claim is supported by the given context.", user)
	out, err := v.Provider.Generate(ctx, req)
	if err != nil {
		return true, fmt.Errorf("grounding check: %w", err)
	}
	return strings.Contains(strings.ToUpper(out), "YES"), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
