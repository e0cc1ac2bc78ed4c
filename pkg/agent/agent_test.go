package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTool echoes its "value" argument
type mockTool struct {
	name   string
	fail   bool
	output string
	calls  int
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "mock tool " + m.name }
func (m *mockTool) Parameters() map[string]interface{} {
	return Schema(map[string]interface{}{"value": Property("string", "value to echo")}, "value")
}
func (m *mockTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	m.calls++
	if m.fail {
		return ErrorResult(`{"status":"error","message":"mock failure"}`)
	}
	if m.output != "" {
		return NewToolResult(m.output)
	}
	return NewToolResult("echo:" + StringArg(args, "value"))
}

// scriptedProvider replays canned responses and records requests
type scriptedProvider struct {
	responses []*Response
	errs      []error
	requests  [][]Message
}

func (s *scriptedProvider) Call(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	s.requests = append(s.requests, append([]Message(nil), messages...))
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &Response{Content: "done"}, nil
}

func toolCall(id, name, args string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: &FunctionCall{Name: name, Arguments: args}}
}

func TestRegistry(t *testing.T) {
	a := &mockTool{name: "analyze"}
	reg := NewRegistry(a, &mockTool{name: "decompile"}, &mockTool{name: "analyze"})

	assert.Equal(t, []string{"analyze", "decompile"}, reg.Names())
	assert.Same(t, a, reg.Get("analyze"))

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "decompile", defs[1].Function.Name)
	assert.Equal(t, "object", defs[1].Function.Parameters["type"])

	res := reg.Execute(context.Background(), "nope", nil)
	assert.True(t, res.IsError)
	assert.Equal(t, "unknown tool: nope (available: analyze, decompile)", res.ForLLM)
}

func TestArgHelpers(t *testing.T) {
	args := map[string]interface{}{
		"s": "text", "n": float64(42), "ns": "17", "nf": "3.0", "b": true, "bs": "yes",
	}
	assert.Equal(t, "text", StringArg(args, "s"))
	assert.Equal(t, "42", StringArg(args, "n"))
	assert.Equal(t, "", StringArg(args, "missing"))
	assert.Equal(t, 42, IntArg(args, "n", 0))
	assert.Equal(t, 17, IntArg(args, "ns", 0))
	assert.Equal(t, 3, IntArg(args, "nf", 0))
	assert.Equal(t, 7, IntArg(args, "s", 7))
	assert.True(t, BoolArg(args, "b"))
	assert.True(t, BoolArg(args, "bs"))
	assert.False(t, BoolArg(args, "missing"))
	assert.Equal(t, 0, IntArg(nil, "x", 0))
}

func TestAgentDirectAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []*Response{{Content: "hello", Usage: &Usage{TotalTokens: 5}}}}
	a := New(p, NewRegistry(), Options{Mode: models.ModeDeep}, nil)

	res, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Response)
	assert.Empty(t, res.Steps)
	assert.Equal(t, 5, res.Usage.TotalTokens)

	require.Len(t, p.requests, 1)
	sys := p.requests[0][0]
	assert.Equal(t, RoleSystem, sys.Role)
	assert.Contains(t, sys.Content, "ANALYSIS MODE: deep")
	assert.Equal(t, Message{Role: RoleUser, Content: "hi"}, p.requests[0][1])
	assert.Equal(t, 2, a.Session().Len())
}

func TestAgentToolLoop(t *testing.T) {
	echo := &mockTool{name: "echo"}
	broken := &mockTool{name: "broken", fail: true}
	p := &scriptedProvider{responses: []*Response{
		{ToolCalls: []ToolCall{
			toolCall("c1", "echo", `{"value":"abc"}`),
			toolCall("c2", "broken", `{}`),
			toolCall("c3", "missing", ``),
			toolCall("c4", "echo", `{not json`),
		}},
		{Content: "final"},
	}}

	var observed []string
	a := New(p, NewRegistry(echo, broken), Options{OnStep: func(s Step) { observed = append(observed, s.Tool) }}, nil)

	res, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "final", res.Response)
	require.Len(t, res.Steps, 4)
	assert.Equal(t, []string{"echo", "broken", "missing", "echo"}, observed)

	assert.Equal(t, "echo:abc", res.Steps[0].Output)
	assert.False(t, res.Steps[0].IsError)
	assert.True(t, res.Steps[1].IsError)
	assert.Contains(t, res.Steps[2].Output, "unknown tool: missing")
	assert.Contains(t, res.Steps[3].Output, "error parsing tool arguments")
	assert.Equal(t, 1, echo.calls)

	// second request carries the assistant call and four tool messages
	second := p.requests[1]
	require.Len(t, second, 7)
	assert.Equal(t, RoleAssistant, second[2].Role)
	assert.Equal(t, RoleTool, second[3].Role)
	assert.Equal(t, "c1", second[3].ToolCallID)
	assert.Equal(t, "echo:abc", second[3].Content)

	stats := a.Stats()
	assert.Equal(t, 2, stats.Requests)
	assert.Equal(t, 4, stats.ToolCalls)
	assert.Equal(t, 2, stats.ToolCounts["echo"])
}

func TestAgentTruncatesOutput(t *testing.T) {
	big := &mockTool{name: "big", output: strings.Repeat("x", 1000)}
	p := &scriptedProvider{responses: []*Response{
		{ToolCalls: []ToolCall{toolCall("", "big", "{}")}},
		{Content: "ok"},
	}}
	a := New(p, NewRegistry(big), Options{MaxOutputSize: 100}, nil)

	res, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	out := res.Steps[0].Output
	assert.True(t, strings.HasPrefix(out, strings.Repeat("x", 100)+"\n\n[output truncated: 1000 bytes total"))

	// missing ids are filled so tool messages can reference them
	call := p.requests[1][2].ToolCalls[0]
	assert.True(t, strings.HasPrefix(call.ID, "call_"))
	assert.Equal(t, call.ID, p.requests[1][3].ToolCallID)
}

func TestAgentTruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes: a cut at byte 101 would split the 51st rune
	wide := &mockTool{name: "wide", output: strings.Repeat("é", 200)}
	p := &scriptedProvider{responses: []*Response{
		{ToolCalls: []ToolCall{toolCall("c1", "wide", "{}")}},
		{Content: "ok"},
	}}
	a := New(p, NewRegistry(wide), Options{MaxOutputSize: 101}, nil)

	res, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	out := res.Steps[0].Output
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, strings.Repeat("é", 50)+"\n\n[output truncated: 400 bytes total, showing first 100 bytes]"))
}

func TestAgentMaxIterations(t *testing.T) {
	loop := &Response{ToolCalls: []ToolCall{toolCall("c", "echo", `{"value":"x"}`)}}
	p := &scriptedProvider{responses: []*Response{loop, loop, loop, loop}}
	a := New(p, NewRegistry(&mockTool{name: "echo"}), Options{MaxIterations: 3}, nil)

	res, err := a.Run(context.Background(), "go")
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Len(t, res.Steps, 3)
	assert.Len(t, p.requests, 3)
}

func TestAgentProviderError(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("connection refused")}}
	a := New(p, nil, Options{}, nil)

	_, err := a.Run(context.Background(), "go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iteration 1")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAgentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(&scriptedProvider{}, nil, Options{}, nil)

	_, err := a.Run(ctx, "go")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionWindow(t *testing.T) {
	s := NewSession(4)
	s.Add(Message{Role: RoleUser, Content: "u1"}, Message{Role: RoleAssistant, Content: "a1"})
	s.Add(Message{Role: RoleUser, Content: "u2"}, Message{Role: RoleAssistant, Content: "a2"})
	s.Add(Message{Role: RoleUser, Content: "u3"})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "u2", msgs[0].Content)
	assert.Equal(t, "a2", s.LastAssistant())
	assert.Contains(t, s.Stats(), "dropped=2")

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestSessionNeverStartsWithToolResult(t *testing.T) {
	s := NewSession(3)
	s.Add(
		Message{Role: RoleUser, Content: "u1"},
		Message{Role: RoleAssistant, ToolCalls: []ToolCall{toolCall("c1", "x", "")}},
		Message{Role: RoleTool, ToolCallID: "c1"},
		Message{Role: RoleTool, ToolCallID: "c2"},
		Message{Role: RoleAssistant, Content: "a1"},
	)
	assert.NotEqual(t, RoleTool, s.Messages()[0].Role)
}

func TestHTTPProvider(t *testing.T) {
	var got chatCompletionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"analyze","arguments":"{}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "qwen2.5-coder:7b"}, nil)
	reg := NewRegistry(&mockTool{name: "analyze"})

	resp, err := p.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, reg.Definitions())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "qwen2.5-coder:7b", got.Model)
	require.Len(t, got.Tools, 1)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "analyze", resp.ToolCalls[0].Function.Name)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestHTTPProviderNoKeyNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL}, nil).Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestHTTPProviderRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"recovered"}}]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL, MaxRetries: 3, RetryBaseDelay: time.Millisecond}, nil)
	resp, err := p.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestHTTPProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantHits int32
	}{
		{"bad request not retried", http.StatusBadRequest, `{"error":{"message":"bad"}}`, 1},
		{"rate limit exhausts retries", http.StatusTooManyRequests, `slow down`, 3},
		{"api error payload", http.StatusOK, `{"error":{"message":"model not found","type":"invalid_request_error"}}`, 1},
		{"no choices", http.StatusOK, `{"choices":[]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL, MaxRetries: 2, RetryBaseDelay: time.Millisecond}, nil)
			_, err := p.Call(context.Background(), nil, nil)
			assert.Error(t, err)
			assert.Equal(t, tt.wantHits, atomic.LoadInt32(&hits))
		})
	}
}

func TestHTTPProviderCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL, MaxRetries: 5, RetryBaseDelay: time.Hour}, nil)
	_, err := p.Call(ctx, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// conversation replays answers for the fix loop
type conversation struct {
	answers []string
	prompts []string
}

func (c *conversation) Run(ctx context.Context, input string) (*Result, error) {
	c.prompts = append(c.prompts, input)
	if len(c.answers) == 0 {
		return &Result{Response: "no more ideas"}, nil
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return &Result{Response: a}, nil
}

func compileRejecting(bad string) CompileFunc {
	return func(ctx context.Context, code string) (*toolchain.CompileResult, error) {
		if strings.Contains(code, bad) {
			return nil, &toolchain.CompileError{Source: "x.c", ExitCode: 1, Stderr: "x.c:1: error: " + bad}
		}
		return &toolchain.CompileResult{Source: "x.c", Binary: "x"}, nil
	}
}

func TestFixLoop(t *testing.T) {
	ctx := context.Background()

	t.Run("compiles first time", func(t *testing.T) {
		conv := &conversation{}
		res, err := NewFixLoop(conv, compileRejecting("BROKEN"), nil).Run(ctx, "```c\nint main(void){return 0;}\n```")
		require.NoError(t, err)
		assert.Equal(t, 0, res.Attempts)
		assert.Empty(t, conv.prompts)
	})

	t.Run("fixed on second attempt", func(t *testing.T) {
		conv := &conversation{answers: []string{"```c\nBROKEN again\n```", "```c\nint main(void){return 0;}\n```"}}
		res, err := NewFixLoop(conv, compileRejecting("BROKEN"), nil).Run(ctx, "```c\nBROKEN\n```")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempts)
		require.Len(t, conv.prompts, 2)
		assert.Contains(t, conv.prompts[0], "error: BROKEN")
	})

	t.Run("gives up after two fixes", func(t *testing.T) {
		conv := &conversation{answers: []string{"```c\nBROKEN\n```", "```c\nBROKEN\n```", "```c\nint ok;\n```"}}
		_, err := NewFixLoop(conv, compileRejecting("BROKEN"), nil).Run(ctx, "```c\nBROKEN\n```")
		assert.ErrorIs(t, err, ErrGaveUp)
		assert.Contains(t, err.Error(), "giving up after 2 fix attempts")
		assert.Len(t, conv.prompts, 2)
	})

	t.Run("missing code block asks for code", func(t *testing.T) {
		conv := &conversation{answers: []string{"```c\nint main(void){return 0;}\n```"}}
		res, err := NewFixLoop(conv, compileRejecting("BROKEN"), nil).Run(ctx, "just prose")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, NoCodePrompt, conv.prompts[0])
	})

	t.Run("compiler missing is not retried", func(t *testing.T) {
		conv := &conversation{}
		fail := func(ctx context.Context, code string) (*toolchain.CompileResult, error) {
			return nil, errors.New("gcc not found")
		}
		_, err := NewFixLoop(conv, fail, nil).Run(ctx, "```c\nint x;\n```")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrGaveUp)
		assert.Empty(t, conv.prompts)
	})
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt(models.ModeQuick, NewRegistry(&mockTool{name: "analyze"}))
	assert.Contains(t, p, "ANALYSIS MODE: quick")
	assert.Contains(t, p, "```c")
	assert.Contains(t, p, "analyze")
	assert.Contains(t, FixPrompt("  boom \n"), "```\nboom\n```")
}
