package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "test-model",
			"choices": []map[string]any{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func TestOpenAIGenerate(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "  hello creator  ")
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{Name: "default", Model: "test-model", APIKey: "k", BaseURL: srv.URL + "/v1/"})
	out, err := p.Generate(context.Background(), Prompt("sys", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello creator", out)
	assert.Equal(t, "default", p.Name())
}

func TestOpenAIEmptyOutputIsInvalidResponse(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "   ")
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{Model: "test-model", APIKey: "k", BaseURL: srv.URL + "/v1/"})
	_, err := p.Generate(context.Background(), Prompt("", "hi"))
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindInvalidResponse, pe.Kind)
	assert.True(t, pe.Retryable())
}

func TestOpenAIRateLimitClassified(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "")
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{Model: "test-model", APIKey: "k", BaseURL: srv.URL + "/v1/"})
	_, err := p.Generate(context.Background(), Prompt("", "hi"))
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindRateLimit, pe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, pe.Status)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, Classify("m", context.DeadlineExceeded).Kind)
	assert.Equal(t, KindNetwork, Classify("m", errors.New("connection reset")).Kind)
	assert.False(t, IsRetryable(&ProviderError{Kind: KindAuth}))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(errors.New("boom")))
	assert.Equal(t, KindBadRequest, kindForStatus(400))
	assert.Equal(t, KindAuth, kindForStatus(401))
}
