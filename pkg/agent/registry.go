package agent

import (
	"context"
	"fmt"
	"strings"
)

// ToolDefinition is the OpenAI function-calling description of a tool
type ToolDefinition struct {
	Type     string          `json:"type"`
	Function ToolDefFunction `json:"function"`
}

// ToolDefFunction is the function part of a ToolDefinition
type ToolDefFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry holds the tools of one agent in registration order. It is
// filled at construction and read-only afterwards.
type Registry struct {
	tools []Tool
}

// NewRegistry creates a registry. Later tools with a duplicate name are
// ignored.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make([]Tool, 0, len(tools))}
	for _, t := range tools {
		if r.Get(t.Name()) == nil {
			r.tools = append(r.tools, t)
		}
	}
	return r
}

// Get returns the tool named name, or nil
func (r *Registry) Get(name string) Tool {
	for _, t := range r.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Len returns the number of tools
func (r *Registry) Len() int {
	return len(r.tools)
}

// Names returns tool names in registration order
func (r *Registry) Names() []string {
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name()
	}
	return names
}

// Execute runs the named tool. Unknown names produce an error result
// listing what is available.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	t := r.Get(name)
	if t == nil {
		return ErrorResultf("unknown tool: %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	result := t.Execute(ctx, args)
	if result == nil {
		return ErrorResultf("tool %s returned no result", name)
	}
	return result
}

// Definitions returns the function definitions sent with every request
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, len(r.tools))
	for i, t := range r.tools {
		defs[i] = ToolDefinition{
			Type: "function",
			Function: ToolDefFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		}
	}
	return defs
}

// Summary lists tools one per line
func (r *Registry) Summary() string {
	var b strings.Builder
	for _, t := range r.tools {
		fmt.Fprintf(&b, "  %-16s %s\n", t.Name(), t.Description())
	}
	return b.String()
}
