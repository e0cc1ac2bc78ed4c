package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
)

// ErrMaxIterations is returned when the model keeps calling tools
var ErrMaxIterations = errors.New("agent exceeded maximum iterations")

// Options configures an Agent
type Options struct {
	Mode          models.AnalysisMode
	MaxIterations int
	MaxOutputSize int
	SessionWindow int
	// OnStep is called after every tool execution (display hook)
	OnStep func(Step)
}

// Step records one tool execution
type Step struct {
	Tool      string        `json:"tool"`
	Arguments string        `json:"arguments"`
	Output    string        `json:"output"`
	IsError   bool          `json:"is_error"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of one Run
type Result struct {
	Response   string `json:"response"`
	Steps      []Step `json:"steps"`
	Usage      Usage  `json:"usage"`
	Iterations int    `json:"iterations"`
}

// Stats accumulates over the agent lifetime
type Stats struct {
	Requests   int
	ToolCalls  int
	Errors     int
	Usage      Usage
	StartedAt  time.Time
	LastCallAt time.Time
	ToolCounts map[string]int
}

// Agent runs the ReAct loop: call the model, execute requested tools,
// feed results back, until the model answers without tool calls
type Agent struct {
	provider Provider
	registry *Registry
	session  *Session
	opts     Options
	prompt   string
	stats    Stats
	logger   logging.Logger
}

// New creates an agent. The system prompt is built once from the mode and
// the registry.
func New(provider Provider, registry *Registry, opts Options, logger logging.Logger) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 20
	}
	if opts.MaxOutputSize <= 0 {
		opts.MaxOutputSize = 16000
	}
	if opts.SessionWindow <= 0 {
		opts.SessionWindow = 40
	}
	if opts.Mode == "" {
		opts.Mode = models.ModeStandard
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Agent{
		provider: provider,
		registry: registry,
		session:  NewSession(opts.SessionWindow),
		opts:     opts,
		prompt:   SystemPrompt(opts.Mode, registry),
		stats:    Stats{StartedAt: time.Now(), ToolCounts: make(map[string]int)},
		logger:   logger,
	}
}

// Run sends input and loops until a final answer. Tool failures are
// returned to the model as text and never abort the loop.
func (a *Agent) Run(ctx context.Context, input string) (*Result, error) {
	a.session.Add(Message{Role: RoleUser, Content: input})
	result := &Result{}
	defs := a.registry.Definitions()

	for iteration := 1; iteration <= a.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations = iteration

		messages := make([]Message, 0, a.session.Len()+1)
		messages = append(messages, Message{Role: RoleSystem, Content: a.prompt})
		messages = append(messages, a.session.Messages()...)

		a.stats.Requests++
		a.stats.LastCallAt = time.Now()
		resp, err := a.provider.Call(ctx, messages, defs)
		if err != nil {
			a.stats.Errors++
			return result, fmt.Errorf("LLM call failed (iteration %d): %w", iteration, err)
		}
		result.Usage.Add(resp.Usage)
		a.stats.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			a.session.Add(Message{Role: RoleAssistant, Content: resp.Content})
			result.Response = resp.Content
			a.logger.Debug(ctx, "agent answered", logging.Fields{
				"iterations": iteration,
				"steps":      len(result.Steps),
			})
			return result, nil
		}

		calls := withIDs(resp.ToolCalls)
		a.session.Add(Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: calls})

		toolMessages, err := a.executeToolCalls(ctx, calls, result)
		if err != nil {
			return result, err
		}
		a.session.Add(toolMessages...)
	}

	return result, fmt.Errorf("%w (%d)", ErrMaxIterations, a.opts.MaxIterations)
}

func (a *Agent) executeToolCalls(ctx context.Context, calls []ToolCall, result *Result) ([]Message, error) {
	messages := make([]Message, 0, len(calls))

	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if tc.Function == nil {
			messages = append(messages, Message{
				Role:       RoleTool,
				Content:    "error: tool call has no function",
				ToolCallID: tc.ID,
			})
			continue
		}

		step := Step{Tool: tc.Function.Name, Arguments: tc.Function.Arguments}
		start := time.Now()

		var out *ToolResult
		args, err := parseToolArgs(tc.Function.Arguments)
		if err != nil {
			out = ErrorResultf("error parsing tool arguments: %v", err)
		} else {
			out = a.registry.Execute(ctx, tc.Function.Name, args)
		}

		step.Duration = time.Since(start)
		step.IsError = out.IsError
		step.Output = a.limit(out.ForLLM)

		a.stats.ToolCalls++
		a.stats.ToolCounts[step.Tool]++
		if step.IsError {
			a.stats.Errors++
			a.logger.Warn(ctx, "tool failed", logging.Fields{"tool": step.Tool, "output": truncate(step.Output, 200)})
		} else {
			a.logger.Debug(ctx, "tool executed", logging.Fields{"tool": step.Tool, "duration_ms": step.Duration.Milliseconds()})
		}

		result.Steps = append(result.Steps, step)
		if a.opts.OnStep != nil {
			a.opts.OnStep(step)
		}

		messages = append(messages, Message{Role: RoleTool, Content: step.Output, ToolCallID: tc.ID})
	}

	return messages, nil
}

// limit truncates tool output to MaxOutputSize with a note. The cut backs
// off to a rune boundary.
func (a *Agent) limit(out string) string {
	if len(out) <= a.opts.MaxOutputSize {
		return out
	}
	cut := a.opts.MaxOutputSize
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + fmt.Sprintf("\n\n[output truncated: %d bytes total, showing first %d bytes]",
		len(out), cut)
}

// Clear resets the conversation
func (a *Agent) Clear() {
	a.session.Clear()
}

// Session exposes the conversation window
func (a *Agent) Session() *Session {
	return a.session
}

// Stats returns lifetime statistics
func (a *Agent) Stats() Stats {
	return a.stats
}

// Mode returns the analysis mode the prompt was built for
func (a *Agent) Mode() models.AnalysisMode {
	return a.opts.Mode
}

// parseToolArgs decodes the arguments string; empty means no arguments
func parseToolArgs(raw string) (map[string]interface{}, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w (raw: %s)", err, truncate(raw, 200))
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// withIDs fills missing tool call IDs; some local servers omit them
func withIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		out[i] = tc
	}
	return out
}
