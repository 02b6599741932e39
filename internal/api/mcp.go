package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memobank/memobank/internal/analyzer"
	"github.com/memobank/memobank/internal/search"
	"github.com/memobank/memobank/internal/storage"
)

// MCPDeps holds dependencies for the MCP tool surface. The tools run the
// same pipeline as the HTTP handlers.
type MCPDeps struct {
	Store    storage.Store
	Analyzer *analyzer.Analyzer
	Ranker   *search.Ranker
}

// NewMCPServer creates an MCP server exposing the memory pipeline as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"memobank",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("memobank stores free-form text as categorized memories and recalls them later."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Analyze a piece of text, classify it, and store it as a memory."),
			mcp.WithString("content", mcp.Description("The text to remember"), mcp.Required()),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Search stored memories by semantic relevance to a query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("list_categories",
			mcp.WithDescription("List memory categories with their memory counts."),
		),
		mcpListCategories(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		memory, _, category, err := deps.Analyzer.AnalyzeAndStore(ctx, content)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store memory: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored memory %d (%q) in category %q", memory.ID, memory.Title, category.Name)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > defaultSearchLimit {
			limit = defaultSearchLimit
		}

		candidates, err := deps.Store.ListMemories()
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		ranked := deps.Ranker.Rank(ctx, query, candidates)
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}

		type memoryResult struct {
			ID      int64    `json:"id"`
			Title   string   `json:"title"`
			Content string   `json:"content"`
			Tags    []string `json:"tags"`
		}
		results := make([]memoryResult, len(ranked))
		for i, m := range ranked {
			results[i] = memoryResult{ID: m.ID, Title: m.Title, Content: m.Content, Tags: m.Tags}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListCategories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		categories, err := deps.Store.ListCategories()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list categories: %v", err)), nil
		}

		type categoryResult struct {
			ID    int64  `json:"id"`
			Name  string `json:"name"`
			Count int64  `json:"count"`
		}
		results := make([]categoryResult, len(categories))
		for i, c := range categories {
			results[i] = categoryResult{ID: c.ID, Name: c.Name, Count: c.Count}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal categories: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
