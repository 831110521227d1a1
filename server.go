package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/creatorlens/onboarding-rag/orchestrator"
)

const Version = "1.0.0"

const instructions = "Creator onboarding assistant. Use process to answer questions about onboarding, channel analytics and " +
	"content recommendations with cited knowledge base sources. Pass session_id to keep conversation history and " +
	"clear_session to forget it."

// NewMCPServer exposes the client as MCP tools.
func NewMCPServer(client *Client) *server.MCPServer {
	name, version := client.config.Server.Name, client.config.Server.Version
	if name == "" {
		name = "onboarding-rag"
	}
	if version == "" {
		version = Version
	}
	s := server.NewMCPServer(
		name,
		version,
		server.WithInstructions(instructions),
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewToolWithRawSchema("process", "Answer a creator's question through routing, retrieval, generation and quality checks. Returns the answer with citations, warnings and the workflow used", GetProcessSchema()),
		HandleProcess(client),
	)
	s.AddTool(
		mcp.NewToolWithRawSchema("clear_session", "Forget the conversation history stored for a session", GetClearSessionSchema()),
		HandleClearSession(client),
	)

	// Knowledge base management
	s.AddTool(
		mcp.NewToolWithRawSchema("ingest", "Split a knowledge article into chunks and add them to the knowledge base", GetIngestSchema()),
		HandleIngest(client),
	)
	s.AddTool(
		mcp.NewToolWithRawSchema("search", "Search the knowledge base without generating an answer", GetSearchSchema()),
		HandleSearch(client),
	)
	s.AddTool(
		mcp.NewToolWithRawSchema("stats", "Report index size, cache counters and model circuit states", GetStatsSchema()),
		HandleStats(client),
	)
	return s
}

func GetProcessSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The user's question"},
    "workflow_hint": {"type": "string", "enum": ["qa", "deep_reasoning", "recommendation", "analytics", "general"], "description": "Preferred workflow, used when the query does not clearly route elsewhere"},
    "session_id": {"type": "string", "description": "Conversation id; history is loaded and saved under it"},
    "user_context": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Creator profile values such as creator_id, channel_id, niche, cost_preference"}
  },
  "required": ["query"]
}`)
}

func GetClearSessionSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "session_id": {"type": "string", "description": "Conversation id to clear"}
  },
  "required": ["session_id"]
}`)
}

func GetIngestSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "text": {"type": "string", "description": "Article text"},
    "title": {"type": "string", "description": "Article title, shown in citations"},
    "source": {"type": "string", "description": "Source URL or identifier"},
    "tags": {"type": "array", "items": {"type": "string"}, "description": "Topic tags used by graph search"}
  },
  "required": ["text"]
}`)
}

func GetSearchSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query"},
    "top_k": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Number of results"}
  },
  "required": ["query"]
}`)
}

func GetStatsSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func HandleProcess(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := strings.TrimSpace(request.GetString("query", ""))
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		resp := client.Process(ctx, orchestrator.Request{
			Query:        query,
			WorkflowHint: request.GetString("workflow_hint", ""),
			SessionID:    request.GetString("session_id", ""),
			UserContext:  stringMap(request.GetArguments()["user_context"]),
		})
		return jsonResult(resp)
	}
}

func HandleClearSession(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("session_id", "")
		if err := client.ClearSession(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("clear session failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("session %s cleared", id)), nil
	}
}

func HandleIngest(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := client.Ingest(ctx, IngestRequest{
			Text:   request.GetString("text", ""),
			Title:  request.GetString("title", ""),
			Source: request.GetString("source", ""),
			Tags:   request.GetStringSlice("tags", nil),
		})
		if errors.Is(err, ErrEmptyText) {
			return mcp.NewToolResultError("text is required"), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
		}
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		return jsonResult(map[string]any{"chunks": len(docs), "ids": ids})
	}
}

type searchHit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title,omitempty"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

func HandleSearch(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := strings.TrimSpace(request.GetString("query", ""))
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		res, err := client.Search(ctx, query, request.GetInt("top_k", 0))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		hits := make([]searchHit, 0, len(res.Documents))
		for _, r := range res.Documents {
			hits = append(hits, searchHit{
				ID:      r.Document.ID,
				Title:   r.Document.Title(),
				Source:  r.Document.Source(),
				Score:   r.Score,
				Content: r.Document.Content,
			})
		}
		warnings := make([]string, 0, len(res.Warnings))
		for _, w := range res.Warnings {
			warnings = append(warnings, w.Error())
		}
		return jsonResult(map[string]any{"results": hits, "warnings": warnings, "reranked": res.Reranked})
	}
}

func HandleStats(client *Client) server.ToolHandlerFunc {
	return func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(client.Stats())
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if val == nil {
			continue
		}
		if s, ok := val.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(val)
	}
	return out
}
