package quality

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/creatorlens/onboarding-rag/common/httpx"
)

// HTTPEvaluator calls an external evaluation service.
// Request: {"query":"...","answer":"..."}
// Response: {"score":0.85,"verdict":"correct"}; a missing verdict is derived
// from the score.
type HTTPEvaluator struct {
	Endpoint    string
	Client      *httpx.Client
	CorrectTh   float64
	IncorrectTh float64
}

type evalReq struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

func (h *HTTPEvaluator) Evaluate(ctx context.Context, query, answer string) (float64, Verdict, error) {
	if h.Client == nil {
		h.Client = httpx.NewFromConfig(nil)
	}
	body, err := h.Client.PostJSON(ctx, h.Endpoint, nil, evalReq{Query: query, Answer: answer})
	if err != nil {
		return 0, VerdictAmbiguous, err
	}
	res := gjson.ParseBytes(body)
	if !res.Get("score").Exists() {
		return 0, VerdictAmbiguous, fmt.Errorf("http evaluator: response without score")
	}
	score := res.Get("score").Float()
	if v := res.Get("verdict"); v.Exists() {
		return score, parseVerdict(v.String()), nil
	}
	c, i := thresholds(h.CorrectTh, h.IncorrectTh)
	return score, verdictFor(score, c, i), nil
}
