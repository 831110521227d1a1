package refiner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/schema"
)

var docs = []schema.Document{
	{ID: "d1", Content: "Upload at least twice a week.", Metadata: map[string]any{"source": "guide.md", "title": "Cadence"}},
	{ID: "d2", Content: "Thumbnails drive click-through."},
	{ID: "d3", Content: "Shorts are capped at 60 seconds."},
}

func TestDegenerateOutputsBecomeFallback(t *testing.T) {
	r := New(config.RefinerConfig{}, nil, nil)
	cases := map[string]string{
		"":                                   ReasonEmpty,
		"   \n":                              ReasonEmpty,
		DefaultFallback:                      ReasonFallback,
		"Traceback (most recent call last):": ReasonErrorEcho,
		"error: context deadline exceeded":   ReasonErrorEcho,
		"죄송합니다. 응답을 생성할 수 없습니다.":             ReasonFallback,
	}
	for in, reason := range cases {
		out := r.Refine(context.Background(), in, docs)
		assert.True(t, out.Degenerate, in)
		assert.Equal(t, reason, out.Reason, in)
		assert.Equal(t, DefaultFallback, out.Text)
		assert.True(t, strings.HasPrefix(out.Text, "[fallback]"))
		assert.Empty(t, out.Citations)
	}
}

func TestLongAnswerMentioningErrorsIsKept(t *testing.T) {
	r := New(config.RefinerConfig{}, nil, nil)
	text := "When your upload fails with an Internal Server Error, wait a few minutes and retry. " +
		strings.Repeat("Check the studio status page and your network connection before re-uploading. ", 3)
	out := r.Refine(context.Background(), text, nil)
	assert.False(t, out.Degenerate)
	assert.Equal(t, strings.TrimSpace(text), out.Text)
}

func TestCitationsFollowMarkers(t *testing.T) {
	cites := Citations("Post twice a week [3]. Thumbnails matter [1][3]. Ignore [9].", docs)
	require.Len(t, cites, 2)
	assert.Equal(t, 1, cites[0].Index)
	assert.Equal(t, "d1", cites[0].DocumentID)
	assert.Equal(t, "guide.md", cites[0].Source)
	assert.Equal(t, "Cadence", cites[0].Title)
	assert.Equal(t, 3, cites[1].Index)

	all := Citations("No markers here.", docs)
	assert.Len(t, all, 3)
	assert.Nil(t, Citations("anything [1]", nil))
}

func TestPolishAppliesAndFailsOpen(t *testing.T) {
	long := "Here is a plan for your first month as a creator: post twice a week [1]."
	var calls int
	p := &LLMPolisher{Provider: llm.Func{ID: "fast", Fn: func(_ context.Context, req llm.Request) (string, error) {
		calls++
		assert.Contains(t, req.System, "warm")
		return "## Plan\n" + llm.LastUser(req), nil
	}}, Persona: "warm"}
	r := New(config.RefinerConfig{Polish: true}, p, nil)

	out := r.Refine(context.Background(), long, docs)
	assert.True(t, out.Polished)
	assert.True(t, strings.HasPrefix(out.Text, "## Plan\n"))

	short := r.Refine(context.Background(), "Yes.", docs)
	assert.False(t, short.Polished)
	assert.Equal(t, "Yes.", short.Text)
	assert.Equal(t, 1, calls)

	failing := New(config.RefinerConfig{Polish: true}, &LLMPolisher{Provider: llm.Func{ID: "fast", Fn: func(context.Context, llm.Request) (string, error) {
		return "", errors.New("503")
	}}}, nil)
	out = failing.Refine(context.Background(), long, docs)
	assert.False(t, out.Polished)
	assert.Equal(t, long, out.Text)
}

func TestPolishDisabledIgnoresPolisher(t *testing.T) {
	p := &LLMPolisher{Provider: llm.Func{ID: "fast", Fn: func(context.Context, llm.Request) (string, error) {
		t.Fatal("polisher must not be called")
		return "", nil
	}}}
	r := New(config.RefinerConfig{}, p, nil)
	out := r.Refine(context.Background(), strings.Repeat("a long enough answer ", 5), docs)
	assert.False(t, out.Polished)
}

func TestGroundingCheckAppendsCaution(t *testing.T) {
	answer := "Shorts can be up to ten minutes long [3]."
	no := &LLMVerifier{Provider: llm.Func{ID: "fast", Fn: func(_ context.Context, req llm.Request) (string, error) {
		assert.Contains(t, llm.LastUser(req), "Shorts are capped")
		return "NO", nil
	}}}
	out := New(config.RefinerConfig{VerifyGrounding: true}, nil, no).Refine(context.Background(), answer, docs)
	assert.True(t, out.Unsupported)
	assert.True(t, strings.HasPrefix(out.Text, answer))
	assert.Contains(t, out.Text, cautionNote)

	broken := &LLMVerifier{Provider: llm.Func{ID: "fast", Fn: func(context.Context, llm.Request) (string, error) {
		return "", errors.New("timeout")
	}}}
	out = New(config.RefinerConfig{VerifyGrounding: true}, nil, broken).Refine(context.Background(), answer, docs)
	assert.False(t, out.Unsupported)
	assert.Equal(t, answer, out.Text)
}

func TestCustomFallbackMessage(t *testing.T) {
	r := New(config.RefinerConfig{FallbackMessage: "[fallback] try later"}, nil, nil)
	assert.Equal(t, "[fallback] try later", r.Fallback())
	ok, reason := r.Degenerate("[fallback] try later")
	assert.True(t, ok)
	assert.Equal(t, ReasonFallback, reason)
}
