// Package resources implements MCP resource handlers for Cortex.
//
// Resources provide read-only JSON views of a user's memory that the host
// can attach as context. They use URI templates under cortex://users/.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/cortex/internal/conversation"
	"github.com/HendryAvila/cortex/internal/preference"
)

// URI templates.
const (
	PreferencesURI = "cortex://users/{user_id}/preferences"
	StatsURI       = "cortex://users/{user_id}/stats"
)

// Handler serves the per-user memory resources.
type Handler struct {
	memory *conversation.Memory
	prefs  *preference.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(memory *conversation.Memory, prefs *preference.Store) *Handler {
	return &Handler{memory: memory, prefs: prefs}
}

// PreferencesTemplate returns the resource template for a user's preferences.
func (h *Handler) PreferencesTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		PreferencesURI,
		"User Preferences",
		mcp.WithTemplateDescription("Structured preferences learned for a user, with confidence and provenance"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// StatsTemplate returns the resource template for a user's message stats.
func (h *Handler) StatsTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		StatsURI,
		"User Memory Stats",
		mcp.WithTemplateDescription("Conversation memory statistics for a user and the backing vector index"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandlePreferences returns the user's preferences as JSON.
func (h *Handler) HandlePreferences(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	userID, err := userArg(req)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	prefs, err := h.prefs.GetAll(ctx, userID)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, prefs)
}

// HandleStats returns the user's conversation stats as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	userID, err := userArg(req)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	st, err := h.memory.UserStats(ctx, userID)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, st)
}

// userArg reads the user_id template variable. The server passes template
// variables as []string.
func userArg(req mcp.ReadResourceRequest) (string, error) {
	switch v := req.Params.Arguments["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case []string:
		if len(v) > 0 && v[0] != "" {
			return v[0], nil
		}
	}
	return "", fmt.Errorf("user_id missing from %s", req.Params.URI)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
