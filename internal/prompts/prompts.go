// Package prompts implements MCP prompt handlers for Cortex.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence of memory tool calls.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// RecallPrompt handles the cortex-recall MCP prompt.
// It asks the AI to gather what memory knows about a user before answering.
type RecallPrompt struct{}

// NewRecallPrompt creates a RecallPrompt.
func NewRecallPrompt() *RecallPrompt {
	return &RecallPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *RecallPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("cortex-recall",
		mcp.WithPromptDescription(
			"Recall what Cortex remembers about a user: stored preferences, "+
				"recent episodes, and past messages related to a topic.",
		),
		mcp.WithArgument("user_id",
			mcp.ArgumentDescription("The user to recall"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("Optional topic to search past messages for"),
		),
	)
}

// Handle processes the cortex-recall prompt request.
func (p *RecallPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	userID := strings.TrimSpace(req.Params.Arguments["user_id"])
	if userID == "" {
		return nil, fmt.Errorf("prompts: user_id is required")
	}
	topic := strings.TrimSpace(req.Params.Arguments["topic"])

	var b strings.Builder
	fmt.Fprintf(&b, "Before answering, recall what you know about user %q.\n\n", userID)
	fmt.Fprintf(&b, "1. Call `mem_preferences` with user_id=%q and respect every preference it lists\n", userID)
	fmt.Fprintf(&b, "2. Call `mem_timeline` with user_id=%q and detail_level=summary to see recent activity\n", userID)
	if topic != "" {
		fmt.Fprintf(&b, "3. Call `mem_search_similar` with user_id=%q and query=%q, then open the most relevant hits with `mem_get_message`\n", userID, topic)
	} else {
		b.WriteString("3. If the user mentions a topic, search it with `mem_search_similar`\n")
	}
	b.WriteString("\nSummarize what you found in a few bullet points, then continue the conversation. " +
		"Record anything new the user tells you with `mem_ingest`.")

	return &mcp.GetPromptResult{
		Description: "Cortex recall",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(b.String()),
			},
		},
	}, nil
}
