package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/cortex/internal/episodic"
)

// TimelineTool handles the mem_timeline MCP tool.
type TimelineTool struct {
	episodes *episodic.Store
}

// NewTimelineTool creates a TimelineTool.
func NewTimelineTool(episodes *episodic.Store) *TimelineTool {
	return &TimelineTool{episodes: episodes}
}

// Definition returns the MCP tool definition for mem_timeline.
func (t *TimelineTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_timeline",
		mcp.WithDescription(
			"Show the user's recent episodes (everything passed through mem_ingest), newest first. "+
				"Use 'since' to look only at what happened after a point in time.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant to read"),
		),
		mcp.WithString("since",
			mcp.Description("Only episodes at or after this RFC 3339 timestamp"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max episodes (default: 10, max: 100)"),
		),
		detailLevelOption(),
	)
}

// Handle processes the mem_timeline tool call.
func (t *TimelineTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	since := strings.TrimSpace(req.GetString("since", ""))
	limit := limitArg(req)
	level := ParseDetailLevel(req.GetString("detail_level", ""))

	eps, err := t.episodes.Timeline(ctx, userID, limit, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("timeline failed: %v", err)), nil
	}
	if len(eps) == 0 {
		return mcp.NewToolResultText("No episodes found."), nil
	}

	var b strings.Builder
	if since != "" {
		fmt.Fprintf(&b, "Episodes for %s since %s:\n\n", userID, since)
	} else {
		fmt.Fprintf(&b, "Recent episodes for %s:\n\n", userID)
	}
	writeEpisodes(&b, eps, level)
	b.WriteString(NavigationHint(len(eps), limit, "Raise limit or narrow with since."))

	return mcp.NewToolResultText(finish(&b, level)), nil
}

// ─── SearchEpisodesTool ──────────────────────────────────────────────────────

// SearchEpisodesTool handles the mem_search_episodes MCP tool.
type SearchEpisodesTool struct {
	episodes *episodic.Store
}

// NewSearchEpisodesTool creates a SearchEpisodesTool.
func NewSearchEpisodesTool(episodes *episodic.Store) *SearchEpisodesTool {
	return &SearchEpisodesTool{episodes: episodes}
}

// Definition returns the MCP tool definition for mem_search_episodes.
func (t *SearchEpisodesTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_search_episodes",
		mcp.WithDescription(
			"Find the user's episodes containing an exact substring (case-sensitive), newest first.",
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
			mcp.Description("Max episodes (default: 10, max: 100)"),
		),
		detailLevelOption(),
	)
}

// Handle processes the mem_search_episodes tool call.
func (t *SearchEpisodesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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

	eps, err := t.episodes.Search(ctx, userID, text, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(eps) == 0 {
		return mcp.NewToolResultText("No episodes contain that text."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d episodes:\n\n", len(eps))
	writeEpisodes(&b, eps, level)
	b.WriteString(NavigationHint(len(eps), limit, "Raise limit to see more."))

	return mcp.NewToolResultText(finish(&b, level)), nil
}

func writeEpisodes(b *strings.Builder, eps []episodic.Episode, level string) {
	for _, e := range eps {
		fmt.Fprintf(b, "#%d %s", e.ID, e.Timestamp)
		if e.Tags != nil && *e.Tags != "" {
			fmt.Fprintf(b, " [%s]", *e.Tags)
		}
		b.WriteString("\n")
		if body := render(e.Content, level); body != "" {
			fmt.Fprintf(b, "    %s\n", body)
		}
	}
}
