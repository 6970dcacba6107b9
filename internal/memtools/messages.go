package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	"github.com/HendryAvila/cortex/internal/conversation"
)

// ─── AddMessageTool ──────────────────────────────────────────────────────────

// AddMessageTool handles the mem_add_message MCP tool.
type AddMessageTool struct {
	memory *conversation.Memory
}

// NewAddMessageTool creates an AddMessageTool.
func NewAddMessageTool(memory *conversation.Memory) *AddMessageTool {
	return &AddMessageTool{memory: memory}
}

// Definition returns the MCP tool definition for mem_add_message.
func (t *AddMessageTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_add_message",
		mcp.WithDescription(
			"Store one chat message in conversation memory so it can be recalled by meaning later. "+
				"Messages are immutable; a message_id that already exists is rejected.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant the message belongs to"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Message text"),
		),
		mcp.WithString("role",
			mcp.Description("Speaker role, e.g. user, assistant, system (default: user)"),
		),
		mcp.WithString("message_id",
			mcp.Description("Globally unique id (default: a generated UUID)"),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation to group the message under"),
		),
		mcp.WithString("timestamp",
			mcp.Description("RFC 3339 timestamp, any offset (default: now)"),
		),
		mcp.WithObject("metadata",
			mcp.Description("Arbitrary JSON object stored with the message"),
		),
	)
}

// Handle processes the mem_add_message tool call.
func (t *AddMessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}
	metadata, err := metadataArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg := conversation.Message{
		UserID:         userID,
		MessageID:      req.GetString("message_id", ""),
		Content:        content,
		Role:           req.GetString("role", "user"),
		Timestamp:      req.GetString("timestamp", ""),
		ConversationID: optionalString(req, "conversation_id"),
		Metadata:       metadata,
	}
	if strings.TrimSpace(msg.Role) == "" {
		msg.Role = "user"
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		msg.MessageID = uuid.NewString()
	}

	id, err := t.memory.AddMessage(ctx, msg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add message: %v", err)), nil
	}

	response := fmt.Sprintf("Message stored: %s", id)
	if msg.ConversationID != nil {
		response += fmt.Sprintf("\nConversation: %s", *msg.ConversationID)
	}
	return mcp.NewToolResultText(response), nil
}

// ─── AddConversationTool ─────────────────────────────────────────────────────

// AddConversationTool handles the mem_add_conversation MCP tool.
type AddConversationTool struct {
	memory *conversation.Memory
}

// NewAddConversationTool creates an AddConversationTool.
func NewAddConversationTool(memory *conversation.Memory) *AddConversationTool {
	return &AddConversationTool{memory: memory}
}

// Definition returns the MCP tool definition for mem_add_conversation.
func (t *AddConversationTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_add_conversation",
		mcp.WithDescription(
			"Store a batch of messages as one conversation. The batch is all or nothing: "+
				"if any message fails, none is kept.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant the conversation belongs to"),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation id (default: a generated UUID)"),
		),
		mcp.WithArray("messages",
			mcp.Required(),
			mcp.Description("Messages in order. Each item: {role, content, message_id?, timestamp?, metadata?}"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role":       map[string]any{"type": "string"},
					"content":    map[string]any{"type": "string"},
					"message_id": map[string]any{"type": "string"},
					"timestamp":  map[string]any{"type": "string"},
					"metadata":   map[string]any{"type": "object"},
				},
				"required": []string{"content"},
			}),
		),
	)
}

// Handle processes the mem_add_conversation tool call.
func (t *AddConversationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	convID := strings.TrimSpace(req.GetString("conversation_id", ""))
	if convID == "" {
		convID = uuid.NewString()
	}

	items, err := cast.ToSliceE(req.GetArguments()["messages"])
	if err != nil || len(items) == 0 {
		return mcp.NewToolResultError("'messages' must be a non-empty array"), nil
	}

	msgs := make([]conversation.Message, 0, len(items))
	for i, item := range items {
		msg, err := parseMessage(item)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("message %d: %v", i, err)), nil
		}
		msg.UserID = userID
		msg.ConversationID = &convID
		msgs = append(msgs, msg)
	}

	ids, err := t.memory.AddMessages(ctx, msgs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add conversation: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation stored: %s (%d messages)\n", convID, len(ids))
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func parseMessage(item any) (conversation.Message, error) {
	m, err := cast.ToStringMapE(item)
	if err != nil {
		return conversation.Message{}, errors.New("must be an object")
	}

	msg := conversation.Message{
		MessageID: cast.ToString(m["message_id"]),
		Content:   cast.ToString(m["content"]),
		Role:      cast.ToString(m["role"]),
		Timestamp: cast.ToString(m["timestamp"]),
	}
	if strings.TrimSpace(msg.Content) == "" {
		return msg, errors.New("'content' is required")
	}
	if strings.TrimSpace(msg.Role) == "" {
		msg.Role = "user"
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		msg.MessageID = uuid.NewString()
	}
	if raw, ok := m["metadata"]; ok && raw != nil {
		meta, err := cast.ToStringMapE(raw)
		if err != nil {
			return msg, errors.New("'metadata' must be an object")
		}
		if msg.Metadata, err = encodeMetadata(meta); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// ─── GetMessageTool ──────────────────────────────────────────────────────────

// GetMessageTool handles the mem_get_message MCP tool.
type GetMessageTool struct {
	memory *conversation.Memory
}

// NewGetMessageTool creates a GetMessageTool.
func NewGetMessageTool(memory *conversation.Memory) *GetMessageTool {
	return &GetMessageTool{memory: memory}
}

// Definition returns the MCP tool definition for mem_get_message.
func (t *GetMessageTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_get_message",
		mcp.WithDescription("Fetch one stored message by id, with its full content and metadata."),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("The message id (from mem_add_message or a search result)"),
		),
	)
}

// Handle processes the mem_get_message tool call.
func (t *GetMessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireString(req, "message_id")
	if errResult != nil {
		return errResult, nil
	}

	msg, err := t.memory.GetMessage(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get message: %v", err)), nil
	}
	if msg == nil {
		return mcp.NewToolResultError(fmt.Sprintf("message %q not found", id)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Message %s\n\n", msg.MessageID)
	fmt.Fprintf(&b, "- **User**: %s\n", msg.UserID)
	fmt.Fprintf(&b, "- **Role**: %s\n", msg.Role)
	fmt.Fprintf(&b, "- **Timestamp**: %s\n", msg.Timestamp)
	if msg.ConversationID != nil {
		fmt.Fprintf(&b, "- **Conversation**: %s\n", *msg.ConversationID)
	}
	if msg.Metadata != nil {
		fmt.Fprintf(&b, "- **Metadata**: %s\n", *msg.Metadata)
	}
	fmt.Fprintf(&b, "\n%s\n", msg.Content)

	return mcp.NewToolResultText(finish(&b, DetailFull)), nil
}

// ─── GetConversationTool ─────────────────────────────────────────────────────

// GetConversationTool handles the mem_get_conversation MCP tool.
type GetConversationTool struct {
	memory *conversation.Memory
}

// NewGetConversationTool creates a GetConversationTool.
func NewGetConversationTool(memory *conversation.Memory) *GetConversationTool {
	return &GetConversationTool{memory: memory}
}

// Definition returns the MCP tool definition for mem_get_conversation.
func (t *GetConversationTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_get_conversation",
		mcp.WithDescription(
			"Replay a conversation oldest first. Without conversation_id, list the user's "+
				"most recent messages across conversations, newest first.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant to read from"),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation to replay"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max messages (default: 10, max: 100)"),
		),
		detailLevelOption(),
	)
}

// Handle processes the mem_get_conversation tool call.
func (t *GetConversationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	convID := strings.TrimSpace(req.GetString("conversation_id", ""))
	limit := limitArg(req)
	level := ParseDetailLevel(req.GetString("detail_level", ""))

	msgs, err := t.memory.GetConversation(ctx, userID, convID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get conversation: %v", err)), nil
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultText("No messages found."), nil
	}

	var b strings.Builder
	if convID != "" {
		fmt.Fprintf(&b, "Conversation %s (%d messages, oldest first):\n\n", convID, len(msgs))
	} else {
		fmt.Fprintf(&b, "Recent messages for %s (%d, newest first):\n\n", userID, len(msgs))
	}
	for i, msg := range msgs {
		writeMessage(&b, i+1, msg, level, "")
	}
	b.WriteString(NavigationHint(len(msgs), limit, "Raise limit to see more."))

	return mcp.NewToolResultText(finish(&b, level)), nil
}

// writeMessage renders one message line at the given detail level.
func writeMessage(b *strings.Builder, n int, msg conversation.Message, level, extra string) {
	fmt.Fprintf(b, "[%d] %s (%s, %s)%s", n, msg.MessageID, msg.Role, msg.Timestamp, extra)
	if msg.ConversationID != nil && level != DetailSummary {
		fmt.Fprintf(b, " | conversation: %s", *msg.ConversationID)
	}
	b.WriteString("\n")
	if body := render(msg.Content, level); body != "" {
		fmt.Fprintf(b, "    %s\n", strings.ReplaceAll(body, "\n", "\n    "))
	}
	b.WriteString("\n")
}

func detailLevelOption() mcp.ToolOption {
	return mcp.WithString("detail_level",
		mcp.Description(
			"Level of detail: 'summary' (ids, roles and timestamps only), "+
				"'standard' (default, 200-char snippets), 'full' (complete content).",
		),
		mcp.Enum(DetailLevelValues()...),
	)
}
