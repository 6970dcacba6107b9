package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/cortex/internal/preference"
)

// PreferencesTool handles the mem_preferences MCP tool.
type PreferencesTool struct {
	prefs *preference.Store
}

// NewPreferencesTool creates a PreferencesTool.
func NewPreferencesTool(prefs *preference.Store) *PreferencesTool {
	return &PreferencesTool{prefs: prefs}
}

// Definition returns the MCP tool definition for mem_preferences.
func (t *PreferencesTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_preferences",
		mcp.WithDescription(
			"List the user's stored preferences, or one preference by key. "+
				"Each entry shows its confidence and the episode it was learned from.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant to read"),
		),
		mcp.WithString("key",
			mcp.Description("Return only this preference (e.g. avoid_days)"),
		),
	)
}

// Handle processes the mem_preferences tool call.
func (t *PreferencesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}

	var prefs []preference.Preference
	if key := strings.TrimSpace(req.GetString("key", "")); key != "" {
		p, err := t.prefs.Get(ctx, userID, key)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get preference: %v", err)), nil
		}
		if p == nil {
			return mcp.NewToolResultText(fmt.Sprintf("No preference %q stored for %s.", key, userID)), nil
		}
		prefs = append(prefs, *p)
	} else {
		all, err := t.prefs.GetAll(ctx, userID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get preferences: %v", err)), nil
		}
		prefs = all
	}
	if len(prefs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No preferences stored for %s.", userID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Preferences: %s\n\n", userID)
	for _, p := range prefs {
		fmt.Fprintf(&b, "- **%s**: %s (confidence %.2f, updated %s", p.Key, string(p.Value), p.Confidence, p.LastUpdated)
		if p.SourceEpisodeID != nil {
			fmt.Fprintf(&b, ", from episode #%d", *p.SourceEpisodeID)
		}
		b.WriteString(")\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── ClearPreferencesTool ────────────────────────────────────────────────────

// ClearPreferencesTool handles the mem_clear_preferences MCP tool.
type ClearPreferencesTool struct {
	prefs *preference.Store
}

// NewClearPreferencesTool creates a ClearPreferencesTool.
func NewClearPreferencesTool(prefs *preference.Store) *ClearPreferencesTool {
	return &ClearPreferencesTool{prefs: prefs}
}

// Definition returns the MCP tool definition for mem_clear_preferences.
func (t *ClearPreferencesTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_clear_preferences",
		mcp.WithDescription("Delete all of the user's stored preferences. Requires confirm=true."),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Tenant whose preferences are deleted"),
		),
		mcp.WithBoolean("confirm",
			mcp.Required(),
			mcp.Description("Must be true"),
		),
	)
}

// Handle processes the mem_clear_preferences tool call.
func (t *ClearPreferencesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireString(req, "user_id")
	if errResult != nil {
		return errResult, nil
	}
	if !boolArg(req, "confirm", false) {
		return mcp.NewToolResultError("refusing to clear without confirm=true"), nil
	}

	n, err := t.prefs.Clear(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear preferences: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d preferences for %s.", n, userID)), nil
}
