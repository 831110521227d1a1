package rag

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/orchestrator"
	"github.com/creatorlens/onboarding-rag/session"
)

const uploadGuide = `Upload requirements for new creators.

Videos must be at least 720p and no longer than 15 minutes during the first month. Every upload needs an original thumbnail and a title under 70 characters.

Review takes up to 48 hours. Uploads that fail review can be edited and resubmitted once.`

const uploadAnswer = "New creators must upload videos in at least 720p, keep them under 15 minutes and add an original thumbnail to every upload [1]."

type countingModel struct {
	calls  atomic.Int32
	answer string
}

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

func (m *countingModel) provider(name string) llm.Func {
	return llm.Func{ID: name, Fn: func(context.Context, llm.Request) (string, error) {
		m.calls.Add(1)
		return m.answer, nil
	}}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.Provider = "mock"
	return cfg
}

func newTestClient(t *testing.T) (*Client, *countingModel) {
	t.Helper()
	m := &countingModel{answer: uploadAnswer}
	c, err := NewClient(testConfig(),
		WithProvider("default", m.provider("default")),
		WithProvider("fast", m.provider("fast")),
		WithProvider("deep", m.provider("deep")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, m
}

func ingestGuide(t *testing.T, c *Client) []string {
	t.Helper()
	docs, err := c.Ingest(context.Background(), IngestRequest{
		Text:   uploadGuide,
		Title:  "Upload guide",
		Source: "kb://upload-guide",
		Tags:   []string{"upload", "review"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		assert.Equal(t, "Upload guide", d.Title())
		assert.Equal(t, "kb://upload-guide", d.Source())
		assert.Equal(t, i, d.Metadata["chunk_index"])
	}
	return ids
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := NewClient(config.Default())
	var ie *InitError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "config", ie.Component)
	var verrs config.ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestNewClientMockNeedsProviders(t *testing.T) {
	_, err := NewClient(testConfig(), WithProvider("default", llm.Func{ID: "default"}))
	require.ErrorIs(t, err, ErrNoProvider)
	var ie *InitError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "generation", ie.Component)
	assert.Contains(t, err.Error(), `"fast"`)
}

func TestNewClientUnknownReranker(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Post.Rerank.Enable = true
	cfg.Pipeline.Post.Rerank.Provider = "cohere"
	_, err := NewClient(cfg, WithProvider("default", llm.Func{ID: "default"}), WithProvider("fast", llm.Func{ID: "fast"}), WithProvider("deep", llm.Func{ID: "deep"}))
	var ie *InitError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "rerank", ie.Component)
}

func TestIngestAndProcess(t *testing.T) {
	c, m := newTestClient(t)
	ids := ingestGuide(t, c)
	assert.Equal(t, len(ids), c.Stats().Retrieval.Documents)

	ctx := context.Background()
	resp := c.Process(ctx, orchestrator.Request{Query: "What are the upload requirements for new creators?"})
	require.Nil(t, resp.Failure)
	assert.Equal(t, "qa", resp.WorkflowUsed)
	assert.Contains(t, resp.Text, "720p")
	assert.False(t, resp.Cached)
	require.NotEmpty(t, resp.Citations)
	assert.Contains(t, ids, resp.Citations[0].DocumentID)
	assert.NotEmpty(t, resp.Provenance.DocumentIDs)
	calls := m.calls.Load()

	again := c.Process(ctx, orchestrator.Request{Query: "what are the upload requirements for new creators"})
	assert.True(t, again.Cached)
	assert.Equal(t, resp.Text, again.Text)
	assert.Equal(t, calls, m.calls.Load())

	stats := c.Stats()
	require.NotNil(t, stats.Cache)
	assert.EqualValues(t, 1, stats.Cache.Hits)
	require.Len(t, stats.Models, 3)
	assert.Equal(t, "closed", stats.Models[0].State)
}

func TestProcessWithoutKnowledgeWarns(t *testing.T) {
	c, _ := newTestClient(t)
	resp := c.Process(context.Background(), orchestrator.Request{Query: "What are the upload requirements for new creators?"})
	assert.True(t, resp.HasWarning(orchestrator.KindRetrievalDegraded))
	assert.NotEmpty(t, resp.Text)
}

func TestDeleteRemovesChunks(t *testing.T) {
	c, _ := newTestClient(t)
	ids := ingestGuide(t, c)
	require.NoError(t, c.Delete(context.Background(), ids...))
	assert.Zero(t, c.Stats().Retrieval.Documents)

	res, err := c.Search(context.Background(), "upload requirements", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
}

func TestClearSession(t *testing.T) {
	c, _ := newTestClient(t)
	ingestGuide(t, c)
	ctx := context.Background()

	resp := c.Process(ctx, orchestrator.Request{Query: "What are the upload requirements?", SessionID: "creator-7"})
	require.Nil(t, resp.Failure)
	snap, ok, err := c.sessions.Load(ctx, "creator-7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, snap.History.Len())

	require.NoError(t, c.ClearSession(ctx, "creator-7"))
	_, ok, err = c.sessions.Load(ctx, "creator-7")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, c.ClearSession(ctx, ""), session.ErrEmptyID)
}

func TestIngestRejectsEmptyText(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Ingest(context.Background(), IngestRequest{Text: "  \n "})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestSplitText(t *testing.T) {
	p := strings.Repeat("a", 300)
	chunks := splitText(p+"\n\n"+p+"\n\n"+p, 800, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, p+"\n\n"+p, chunks[0])
	assert.Equal(t, p, chunks[1])

	long := strings.Repeat("b", 2000)
	chunks = splitText("intro\n\n"+long, 800, 100)
	require.Len(t, chunks, 4)
	assert.Equal(t, "intro", chunks[0])
	assert.Len(t, chunks[1], 800)
	assert.Len(t, chunks[3], 600)

	assert.Empty(t, splitText("\n\n \n\n", 800, 100))
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in tool result")
	return ""
}

func TestMCPProcessTool(t *testing.T) {
	c, _ := newTestClient(t)
	ingestGuide(t, c)
	require.NotNil(t, NewMCPServer(c))
	ctx := context.Background()

	result, err := HandleProcess(c)(ctx, callTool("process", map[string]any{
		"query":        "What are the upload requirements for new creators?",
		"session_id":   "creator-9",
		"user_context": map[string]any{"niche": "cooking", "subscribers": 1200},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var resp orchestrator.Response
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &resp))
	assert.Equal(t, "qa", resp.WorkflowUsed)
	assert.Equal(t, "creator-9", resp.SessionID)
	assert.NotEmpty(t, resp.RequestID)
	assert.Contains(t, resp.Text, "720p")

	result, err = HandleProcess(c)(ctx, callTool("process", map[string]any{"query": "  "}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = HandleClearSession(c)(ctx, callTool("clear_session", map[string]any{"session_id": "creator-9"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "session creator-9 cleared", toolText(t, result))

	result, err = HandleClearSession(c)(ctx, callTool("clear_session", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPKnowledgeTools(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	result, err := HandleIngest(c)(ctx, callTool("ingest", map[string]any{"text": uploadGuide, "title": "Upload guide"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var ingested struct {
		Chunks int      `json:"chunks"`
		IDs    []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &ingested))
	assert.Equal(t, ingested.Chunks, len(ingested.IDs))

	result, err = HandleIngest(c)(ctx, callTool("ingest", map[string]any{"title": "empty"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = HandleSearch(c)(ctx, callTool("search", map[string]any{"query": "upload thumbnail", "top_k": 3}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var found struct {
		Results []searchHit `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &found))
	require.NotEmpty(t, found.Results)
	assert.LessOrEqual(t, len(found.Results), 3)
	assert.Contains(t, ingested.IDs, found.Results[0].ID)

	result, err = HandleStats(c)(ctx, callTool("stats", nil))
	require.NoError(t, err)
	assert.Contains(t, toolText(t, result), `"documents"`)
}

func TestStringMap(t *testing.T) {
	assert.Nil(t, stringMap(nil))
	assert.Nil(t, stringMap("creator"))
	assert.Equal(t, map[string]string{"a": "x", "n": "3"}, stringMap(map[string]any{"a": "x", "n": 3, "z": nil}))
}
