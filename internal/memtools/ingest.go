package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/cortex/internal/ingest"
)

// IngestTool handles the mem_ingest MCP tool.
type IngestTool struct {
	pipeline *ingest.Pipeline
}

// NewIngestTool creates an IngestTool.
func NewIngestTool(pipeline *ingest.Pipeline) *IngestTool {
	return &IngestTool{pipeline: pipeline}
}

// Definition returns the MCP tool definition for mem_ingest.
func (t *IngestTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_ingest",
		mcp.WithDescription(
			"Record a raw utterance in the user's episodic memory. The text is cleaned, personal data "+
				"is masked, and explicit preferences (e.g. 'avoid meetings on Friday') are extracted and stored. "+
				"Call this for every user turn worth remembering.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant the text belongs to"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The raw text"),
		),
		mcp.WithString("role",
			mcp.Description("Speaker role (default: user)"),
		),
		mcp.WithString("timestamp",
			mcp.Description("RFC 3339 timestamp, any offset (default: now)"),
		),
		mcp.WithObject("metadata",
			mcp.Description("Arbitrary JSON object stored with the episode"),
		),
	)
}

// Handle processes the mem_ingest tool call.
func (t *IngestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	text := req.GetString("text", "")
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}
	metadata, err := mapArg(req, "metadata")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.pipeline.Ingest(ctx, ingest.Request{
		UserID:    userID,
		Role:      req.GetString("role", ""),
		Text:      text,
		Timestamp: req.GetString("timestamp", ""),
		Metadata:  metadata,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Episode recorded: #%d\n", res.EpisodeID)
	fmt.Fprintf(&b, "Classification: %s (confidence %.2f)\n", res.Classification.Label, res.Classification.Confidence)
	fmt.Fprintf(&b, "Tokens: ~%d\n", res.TokenCount)
	if res.PIIMasked {
		b.WriteString("Personal data was masked before storage.\n")
	}
	if res.PreferenceKey != "" {
		fmt.Fprintf(&b, "Preference updated: %s\n", res.PreferenceKey)
	}
	if res.Trimmed > 0 {
		fmt.Fprintf(&b, "Trimmed %d old episodes.\n", res.Trimmed)
	}
	return mcp.NewToolResultText(b.String()), nil
}
