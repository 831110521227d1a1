package quality

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/llm"
)

// LLMEvaluator asks a model to rate answer relevance on a 0-1 scale.
type LLMEvaluator struct {
	Provider    llm.Provider
	CorrectTh   float64 // default 0.7
	IncorrectTh float64 // default 0.3
}

const evaluatorSystem = `You are an expert at evaluating answers.
Rate how well the given answer addresses the query on a scale from 0 to 1.
0 means irrelevant or wrong, 1 means complete and on-topic.
Provide ONLY the score as a float between 0 and 1.`

var scoreRe = regexp.MustCompile(`(\d+(\.\d+)?)`)

func (e *LLMEvaluator) Evaluate(ctx context.Context, query, answer string) (float64, Verdict, error) {
	correctTh, incorrectTh := thresholds(e.CorrectTh, e.IncorrectTh)

	out, err := llm.Complete(ctx, e.Provider, evaluatorSystem, fmt.Sprintf("Query: %s\n\nAnswer: %s", query, answer))
	if err != nil {
		return 0.5, VerdictAmbiguous, fmt.Errorf("llm evaluator: %w", err)
	}

	score := 0.5
	if m := scoreRe.FindStringSubmatch(out); len(m) > 0 {
		parsed, perr := strconv.ParseFloat(m[1], 64)
		if perr == nil && parsed >= 0 && parsed <= 1 {
			score = parsed
		} else {
			logger.Warnf("quality: evaluator score out of range: %q", m[1])
		}
	} else {
		logger.Warnf("quality: evaluator returned no score: %.80q", out)
	}
	v := verdictFor(score, correctTh, incorrectTh)
	logger.Debugf("quality: llm evaluator score=%.2f verdict=%v", score, v)
	return score, v, nil
}

func thresholds(correct, incorrect float64) (float64, float64) {
	if correct == 0 {
		correct = 0.7
	}
	if incorrect == 0 {
		incorrect = 0.3
	}
	return correct, incorrect
}
