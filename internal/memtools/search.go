package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/cortex/internal/conversation"
)

// SearchSimilarTool handles the mem_search_similar MCP tool.
type SearchSimilarTool struct {
	memory *conversation.Memory
}

// NewSearchSimilarTool creates a SearchSimilarTool.
func NewSearchSimilarTool(memory *conversation.Memory) *SearchSimilarTool {
	return &SearchSimilarTool{memory: memory}
}

// Definition returns the MCP tool definition for mem_search_similar.
func (t *SearchSimilarTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_search_similar",
		mcp.WithDescription(
			"Recall the user's past messages closest in meaning to a query. "+
				"Results are ranked by similarity score, highest first, and never include other users' messages.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant to search"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 10, max: 100)"),
		),
		detailLevelOption(),
	)
}

// Handle processes the mem_search_similar tool call.
func (t *SearchSimilarTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	query, errResult := requireString(req, "query")
	if errResult != nil {
		return errResult, nil
	}
	limit := limitArg(req)
	level := ParseDetailLevel(req.GetString("detail_level", ""))

	hits, err := t.memory.SearchSimilar(ctx, userID, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("No similar messages found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d similar messages:\n\n", len(hits))
	for i, h := range hits {
		writeMessage(&b, i+1, h.Message, level, fmt.Sprintf(" score: %.3f", h.Score))
	}
	b.WriteString(NavigationHint(len(hits), limit, "Use mem_get_message for full content."))

	return mcp.NewToolResultText(finish(&b, level)), nil
}

// ─── SearchContentTool ───────────────────────────────────────────────────────

// SearchContentTool handles the mem_search_content MCP tool.
type SearchContentTool struct {
	memory *conversation.Memory
}

// NewSearchContentTool creates a SearchContentTool.
func NewSearchContentTool(memory *conversation.Memory) *SearchContentTool {
	return &SearchContentTool{memory: memory}
}

// Definition returns the MCP tool definition for mem_search_content.
func (t *SearchContentTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_search_content",
		mcp.WithDescription(
			"Find the user's messages containing an exact substring (case-sensitive), newest first.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant to search"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Substring to look for"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 10, max: 100)"),
		),
		detailLevelOption(),
	)
}

// Handle processes the mem_search_content tool call.
func (t *SearchContentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}
	limit := limitArg(req)
	level := ParseDetailLevel(req.GetString("detail_level", ""))

	msgs, err := t.memory.SearchByContent(ctx, userID, text, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultText("No messages contain that text."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d messages:\n\n", len(msgs))
	for i, msg := range msgs {
		writeMessage(&b, i+1, msg, level, "")
	}
	b.WriteString(NavigationHint(len(msgs), limit, "Raise limit to see more."))

	return mcp.NewToolResultText(finish(&b, level)), nil
}
