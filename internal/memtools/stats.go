package memtools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/cortex/internal/conversation"
)

// UserStatsTool handles the mem_user_stats MCP tool.
type UserStatsTool struct {
	memory *conversation.Memory
}

// NewUserStatsTool creates a UserStatsTool.
func NewUserStatsTool(memory *conversation.Memory) *UserStatsTool {
	return &UserStatsTool{memory: memory}
}

// Definition returns the MCP tool definition for mem_user_stats.
func (t *UserStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_user_stats",
		mcp.WithDescription(
			"Show conversation memory statistics for a user: message counts by role, "+
				"conversations, time span, and the vector index backing the store.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant to summarize"),
		),
	)
}

// Handle processes the mem_user_stats tool call.
func (t *UserStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}

	st, err := t.memory.UserStats(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Memory Statistics: %s\n\n", st.UserID)
	fmt.Fprintf(&sb, "- **Messages**: %s\n", formatNumber(st.TotalMessages))
	fmt.Fprintf(&sb, "- **Conversations**: %s\n", formatNumber(st.ConversationCount))

	if len(st.RoleCounts) > 0 {
		roles := make([]string, 0, len(st.RoleCounts))
		for role := range st.RoleCounts {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		parts := make([]string, len(roles))
		for i, role := range roles {
			parts[i] = fmt.Sprintf("%s %d", role, st.RoleCounts[role])
		}
		fmt.Fprintf(&sb, "- **By role**: %s\n", strings.Join(parts, ", "))
	}
	if st.FirstMessageAt != nil && st.LastMessageAt != nil {
		fmt.Fprintf(&sb, "- **Span**: %s to %s\n", *st.FirstMessageAt, *st.LastMessageAt)
	}

	sb.WriteString("\n### Vector index\n\n")
	fmt.Fprintf(&sb, "- **Backend**: %s\n", st.Index.Backend)
	fmt.Fprintf(&sb, "- **Vectors (all users)**: %s\n", formatNumber(st.Index.TotalVectors))
	fmt.Fprintf(&sb, "- **Dimension**: %d\n", st.Index.Dimension)
	if st.Index.IndexName != "" {
		fmt.Fprintf(&sb, "- **Index**: %s\n", st.Index.IndexName)
	}
	if st.Index.Location != "" {
		fmt.Fprintf(&sb, "- **Location**: %s\n", st.Index.Location)
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// ─── DeleteUserMessagesTool ──────────────────────────────────────────────────

// DeleteUserMessagesTool handles the mem_delete_user_messages MCP tool.
type DeleteUserMessagesTool struct {
	memory *conversation.Memory
}

// NewDeleteUserMessagesTool creates a DeleteUserMessagesTool.
func NewDeleteUserMessagesTool(memory *conversation.Memory) *DeleteUserMessagesTool {
	return &DeleteUserMessagesTool{memory: memory}
}

// Definition returns the MCP tool definition for mem_delete_user_messages.
func (t *DeleteUserMessagesTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_delete_user_messages",
		mcp.WithDescription(
			"Permanently delete ALL of a user's conversation messages and their embeddings. "+
				"Requires confirm=true. Episodes and preferences are not touched.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant whose messages are deleted"),
		),
		mcp.WithBoolean("confirm",
			mcp.Required(),
			mcp.Description("Must be true"),
		),
	)
}

// Handle processes the mem_delete_user_messages tool call.
func (t *DeleteUserMessagesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	if !boolArg(req, "confirm", false) {
		return mcp.NewToolResultError("refusing to delete without confirm=true"), nil
	}

	n, err := t.memory.DeleteUserMessages(ctx, userID)
	if errors.Is(err, conversation.ErrPartialDelete) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"deleted %d messages for %s, but some embeddings could not be removed: %v", n, userID, err)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete messages: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Deleted %d messages for %s.", n, userID)), nil
}
