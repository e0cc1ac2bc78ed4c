package r2

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sdejongh/binsight/pkg/agent"
	"github.com/sdejongh/binsight/pkg/models"
)

// Tools exposes the session operations to the agent. Failures become
// {"status":"error","message":...} payloads; successes are JSON. Close is
// not among them: the conversation or batch item that opened the session
// closes it.
func Tools(session *Session, mode models.AnalysisMode) []agent.Tool {
	return []agent.Tool{
		&analyzeTool{session: session, mode: mode},
		&listFunctionsTool{session: session},
		&decompileTool{session: session},
		&listTool{name: "search_strings", desc: "List the strings found in the binary's data sections.", run: func(ctx context.Context) (any, error) { return session.SearchStrings(ctx) }},
		&listTool{name: "get_imports", desc: "List the symbols the binary imports.", run: func(ctx context.Context) (any, error) { return session.Imports(ctx) }},
		&listTool{name: "get_exports", desc: "List the symbols the binary exports.", run: func(ctx context.Context) (any, error) { return session.Exports(ctx) }},
		&readMemoryTool{session: session},
	}
}

type errorPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorResult(err error) *agent.ToolResult {
	data, _ := json.Marshal(errorPayload{Status: "error", Message: err.Error()})
	return agent.ErrorResult(string(data))
}

func jsonResult(v any) *agent.ToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Errorf("failed to encode result: %w", err))
	}
	return agent.NewToolResult(string(data))
}

type analyzeTool struct {
	session *Session
	mode    models.AnalysisMode
}

func (t *analyzeTool) Name() string { return "analyze" }
func (t *analyzeTool) Description() string {
	return "Run radare2 auto-analysis on the binary. Call this first."
}
func (t *analyzeTool) Parameters() map[string]interface{} { return agent.Schema(nil) }

func (t *analyzeTool) Execute(ctx context.Context, args map[string]interface{}) *agent.ToolResult {
	if err := t.session.Analyze(ctx, t.mode); err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Analysis completed in %s mode", t.mode),
	})
}

type listFunctionsTool struct {
	session *Session
}

func (t *listFunctionsTool) Name() string { return "list_functions" }
func (t *listFunctionsTool) Description() string {
	return "List the functions found by analysis with address, size and references."
}
func (t *listFunctionsTool) Parameters() map[string]interface{} {
	return agent.Schema(map[string]interface{}{
		"used_only":   agent.Property("boolean", "only functions that are called or referenced"),
		"name_prefix": agent.Property("string", "only names starting with this prefix, e.g. sym."),
		"min_size":    agent.Property("integer", "minimum function size in bytes"),
	})
}

func (t *listFunctionsTool) Execute(ctx context.Context, args map[string]interface{}) *agent.ToolResult {
	fns, err := t.session.ListFunctions(ctx, Filter{
		UsedOnly:   agent.BoolArg(args, "used_only"),
		NamePrefix: agent.StringArg(args, "name_prefix"),
		MinSize:    int64(agent.IntArg(args, "min_size", 0)),
	})
	if err != nil {
		return errorResult(err)
	}

	type summary struct {
		Name      string `json:"name"`
		Address   string `json:"address"`
		Size      int64  `json:"size"`
		Type      string `json:"type"`
		Calls     int    `json:"calls"`
		Callers   int    `json:"callers"`
		BasicBlks int    `json:"basic_blocks"`
	}
	out := make([]summary, len(fns))
	for i, fn := range fns {
		out[i] = summary{
			Name:      fn.Name,
			Address:   fmt.Sprintf("0x%x", fn.Address()),
			Size:      fn.Size,
			Type:      fn.Type,
			Calls:     len(fn.CallRefs),
			Callers:   fn.Indegree,
			BasicBlks: fn.NBBs,
		}
	}
	return jsonResult(out)
}

type decompileTool struct {
	session *Session
}

func (t *decompileTool) Name() string { return "decompile" }
func (t *decompileTool) Description() string {
	return "Decompile one function to pseudo-C. Takes a function name or address."
}
func (t *decompileTool) Parameters() map[string]interface{} {
	return agent.Schema(map[string]interface{}{
		"function_name": agent.Property("string", "function name (e.g. main, sym.foo) or address"),
	}, "function_name")
}

func (t *decompileTool) Execute(ctx context.Context, args map[string]interface{}) *agent.ToolResult {
	fn := agent.StringArg(args, "function_name")
	code, err := t.session.Decompile(ctx, fn)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]string{"function": fn, "decompiled_code": code})
}

type listTool struct {
	name string
	desc string
	run  func(ctx context.Context) (any, error)
}

func (t *listTool) Name() string                       { return t.name }
func (t *listTool) Description() string                { return t.desc }
func (t *listTool) Parameters() map[string]interface{} { return agent.Schema(nil) }

func (t *listTool) Execute(ctx context.Context, args map[string]interface{}) *agent.ToolResult {
	v, err := t.run(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(v)
}

type readMemoryTool struct {
	session *Session
}

func (t *readMemoryTool) Name() string { return "read_memory" }
func (t *readMemoryTool) Description() string {
	return "Hexdump bytes at an address or symbol."
}
func (t *readMemoryTool) Parameters() map[string]interface{} {
	return agent.Schema(map[string]interface{}{
		"address": agent.Property("string", "address (0x401000) or symbol"),
		"size":    agent.Property("integer", "number of bytes"),
	}, "address", "size")
}

func (t *readMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *agent.ToolResult {
	addr := agent.StringArg(args, "address")
	size := agent.IntArg(args, "size", 64)
	data, err := t.session.ReadMemory(ctx, addr, size)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"address": addr, "size": size, "data": data})
}
