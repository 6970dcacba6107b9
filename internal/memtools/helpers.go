// Package memtools provides the MCP tool handlers for Cortex memory.
//
// Each tool handler follows the same pattern:
//   - A struct with its engine dependency injected via constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() validates arguments, calls one engine operation and renders text
//
// Engine failures are returned as tool errors (IsError results), never as Go
// errors, so the host can show them to the model.
package memtools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"
)

// Shared limits.
const (
	defaultLimit = 10
	maxLimit     = 100
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or cannot be read as a number. JSON
// numbers arrive as float64; numeric strings are accepted too.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return defaultVal
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// limitArg reads "limit", clamped to [1, maxLimit].
func limitArg(req mcp.CallToolRequest) int {
	n := intArg(req, "limit", defaultLimit)
	switch {
	case n < 1:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return defaultVal
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// mapArg extracts a JSON object argument.
func mapArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, fmt.Errorf("'%s' must be an object", key)
	}
	return m, nil
}

// requireString returns the trimmed string argument or a tool error naming it.
func requireString(req mcp.CallToolRequest, key string) (string, *mcp.CallToolResult) {
	s := strings.TrimSpace(req.GetString(key, ""))
	if s == "" {
		return "", mcp.NewToolResultError(fmt.Sprintf("'%s' is required", key))
	}
	return s, nil
}

// optionalString returns a pointer to the trimmed argument, or nil when it is
// missing or blank.
func optionalString(req mcp.CallToolRequest, key string) *string {
	s := strings.TrimSpace(req.GetString(key, ""))
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// metadataArg reads the optional "metadata" object and encodes it as JSON.
func metadataArg(req mcp.CallToolRequest) (*string, error) {
	m, err := mapArg(req, "metadata")
	if err != nil || len(m) == 0 {
		return nil, err
	}
	return encodeMetadata(m)
}

func encodeMetadata(m map[string]any) (*string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("'metadata' is not valid JSON: %v", err)
	}
	s := string(raw)
	return &s, nil
}
