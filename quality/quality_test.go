package quality

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/schema"
)

func scripted(out string, err error) llm.Provider {
	return llm.Func{ID: "eval", Fn: func(context.Context, llm.Request) (string, error) { return out, err }}
}

var twoDocs = []schema.Document{{ID: "a"}, {ID: "b"}}

func basic() *BasicGate {
	return NewBasicGate(config.QualityConfig{MinOutputChars: 10, MinAnswerChars: 120})
}

func TestBasicGate(t *testing.T) {
	long := strings.Repeat("Post twice a week and keep thumbnails consistent [1]. ", 4)
	cases := []struct {
		name   string
		in     Input
		accept bool
		reason string
	}{
		{"empty", Input{Output: "  "}, false, ReasonEmpty},
		{"fallback echo", Input{Output: "[fallback] A complete answer could not be generated right now. Please try again shortly."}, false, ReasonDegenerate},
		{"error echo", Input{Output: "Traceback (most recent call last): boom"}, false, ReasonDegenerate},
		{"no documents", Input{Output: long, RequireDocuments: true}, false, ReasonNoDocuments},
		{"uncertain", Input{Output: "I'm not sure, the guide does not say.", Documents: twoDocs}, false, ReasonUncertain},
		{"uncertain korean", Input{Output: "관련 정보가 없습니다. 다시 질문해 주세요.", Documents: twoDocs}, false, ReasonUncertain},
		{"short with docs", Input{Output: "Post twice a week.", Documents: twoDocs}, false, ReasonTooShort},
		{"short without docs", Input{Output: "Hello! How can I help?"}, true, ReasonOK},
		{"too short", Input{Output: "ok"}, false, ReasonTooShort},
		{"good", Input{Output: long, Documents: twoDocs, RequireDocuments: true}, true, ReasonOK},
	}
	g := basic()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := g.Check(context.Background(), tc.in)
			assert.Equal(t, tc.accept, d.Accept)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestBasicScoreRewardsCitations(t *testing.T) {
	g := basic()
	text := strings.Repeat("useful onboarding advice ", 10)
	plain := g.Check(context.Background(), Input{Output: text, Documents: []schema.Document{{ID: "a"}}})
	cited := g.Check(context.Background(), Input{Output: text + " [1]", Documents: []schema.Document{{ID: "a"}}})
	require.True(t, plain.Accept)
	assert.Greater(t, cited.Score, plain.Score)
	assert.LessOrEqual(t, cited.Score, 1.0)
}

func TestLLMEvaluator(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		score   float64
		verdict Verdict
	}{
		{"high", "0.9", 0.9, VerdictCorrect},
		{"low", "0.2", 0.2, VerdictIncorrect},
		{"middle", "0.5", 0.5, VerdictAmbiguous},
		{"prefixed", "The score is 0.85", 0.85, VerdictCorrect},
		{"unparseable", "invalid", 0.5, VerdictAmbiguous},
		{"out of range", "7", 0.5, VerdictAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &LLMEvaluator{Provider: scripted(tt.out, nil)}
			score, v, err := e.Evaluate(context.Background(), "q", "a")
			require.NoError(t, err)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.verdict, v)
		})
	}
}

func TestHTTPEvaluator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "noverdict") {
			_, _ = w.Write([]byte(`{"score":0.1}`))
			return
		}
		_, _ = w.Write([]byte(`{"score":0.95,"verdict":"correct"}`))
	}))
	defer srv.Close()
	client := httpx.NewFromConfig(&config.HTTPClientConfig{})

	score, v, err := (&HTTPEvaluator{Endpoint: srv.URL, Client: client}).Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, 0.95, score)
	assert.Equal(t, VerdictCorrect, v)

	_, v, err = (&HTTPEvaluator{Endpoint: srv.URL + "/noverdict", Client: client}).Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, VerdictIncorrect, v)
}

func TestEvaluatorGate(t *testing.T) {
	good := strings.Repeat("Set up your channel banner and write a clear about section. ", 3)

	g := &EvaluatorGate{Basic: basic(), Evaluator: &LLMEvaluator{Provider: scripted("0.1", nil)}}
	d := g.Check(context.Background(), Input{Query: "q", Output: good})
	assert.False(t, d.Accept)
	assert.Equal(t, ReasonIncorrect, d.Reason)

	g = &EvaluatorGate{Basic: basic(), Evaluator: &LLMEvaluator{Provider: scripted("0.5", nil)}}
	assert.True(t, g.Check(context.Background(), Input{Query: "q", Output: good}).Accept)

	g = &EvaluatorGate{Basic: basic(), Evaluator: &LLMEvaluator{Provider: scripted("", errors.New("503"))}}
	d = g.Check(context.Background(), Input{Query: "q", Output: good})
	assert.True(t, d.Accept)

	d = g.Check(context.Background(), Input{Query: "q", Output: ""})
	assert.Equal(t, ReasonEmpty, d.Reason)
}

func TestNew(t *testing.T) {
	assert.IsType(t, &BasicGate{}, New(config.QualityConfig{}, nil, nil))
	assert.IsType(t, &BasicGate{}, New(config.QualityConfig{Mode: "llm"}, nil, nil))
	assert.IsType(t, &EvaluatorGate{}, New(config.QualityConfig{Mode: "llm"}, nil, scripted("1", nil)))
	assert.IsType(t, &EvaluatorGate{}, New(config.QualityConfig{Mode: "http", Endpoint: "http://eval"}, nil, nil))
	assert.Equal(t, "incorrect", VerdictIncorrect.String())
}
