// Package agent runs the tool-calling loop between a chat-completions
// model and the analysis tools exposed to it.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Tool is one function the model may call
type Tool interface {
	// Name is the function name the model uses
	Name() string
	// Description tells the model when to use the tool
	Description() string
	// Parameters is the JSON schema of the arguments object
	Parameters() map[string]interface{}
	// Execute runs the tool. Failures are reported through the result,
	// never by panicking.
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ToolResult is the outcome of one tool call
type ToolResult struct {
	// ForLLM is sent back to the model as the tool message
	ForLLM string
	// ForUser is an optional short summary for display
	ForUser string
	IsError bool
}

// NewToolResult creates a successful result
func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

// ErrorResult creates a failed result
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

// ErrorResultf creates a failed result from a format string
func ErrorResultf(format string, args ...interface{}) *ToolResult {
	return ErrorResult(fmt.Sprintf(format, args...))
}

// Schema builds a JSON schema object from property definitions
func Schema(properties map[string]interface{}, required ...string) map[string]interface{} {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Property describes one schema property
func Property(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

// StringArg returns args[key] as a string. Models sometimes send numbers
// or booleans where strings are expected.
func StringArg(args map[string]interface{}, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// IntArg returns args[key] as an int, or def when absent or malformed
func IntArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	return def
}

// BoolArg returns args[key] as a bool
func BoolArg(args map[string]interface{}, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		return v != 0
	}
	return false
}
