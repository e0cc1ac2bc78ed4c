package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sdejongh/binsight/pkg/logging"
)

// Message is one chat message
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a function invocation requested by the model
type ToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *FunctionCall `json:"function,omitempty"`
}

// FunctionCall carries the JSON-encoded arguments as a string
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage is token accounting for one or more calls
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Response is the first choice of a chat completion
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// Provider sends one chat-completions request
type Provider interface {
	Call(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)
}

// ProviderConfig configures an HTTPProvider
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	UserAgent      string
}

// HTTPProvider talks to any OpenAI-compatible endpoint (Ollama, OpenAI)
type HTTPProvider struct {
	cfg    ProviderConfig
	client *http.Client
	logger logging.Logger
}

// NewHTTPProvider creates a provider
func NewHTTPProvider(cfg ProviderConfig, logger logging.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "binsight"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Model returns the model name sent with each request
func (p *HTTPProvider) Model() string {
	return p.cfg.Model
}

type chatCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// isRetryableStatus covers rate limiting and server errors
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

// Call posts to {base}/chat/completions. Retryable statuses and transport
// errors are retried with exponential backoff.
func (p *HTTPProvider) Call(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	body, err := json.Marshal(chatCompletionRequest{Model: p.cfg.Model, Messages: messages, Tools: tools})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := p.cfg.BaseURL + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			p.logger.Info(ctx, "retrying chat completion", logging.Fields{
				"attempt": attempt + 1,
				"delay":   delay.String(),
				"error":   lastErr.Error(),
			})
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		resp, retryable, err := p.do(ctx, url, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", p.cfg.MaxRetries+1, lastErr)
}

func (p *HTTPProvider) do(ctx context.Context, url string, body []byte) (*Response, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed after %v: %w", time.Since(start).Round(time.Millisecond), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	p.logger.Debug(ctx, "chat completion response", logging.Fields{
		"status":      resp.StatusCode,
		"bytes":       len(data),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode != http.StatusOK {
		return nil, isRetryableStatus(resp.StatusCode),
			fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(data), 500))
	}

	var chat chatCompletionResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, false, fmt.Errorf("failed to parse response JSON (%d bytes): %w", len(data), err)
	}
	if chat.Error != nil {
		return nil, false, fmt.Errorf("API error (type=%s): %s", chat.Error.Type, chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, false, fmt.Errorf("API returned no choices (model=%s)", chat.Model)
	}

	choice := chat.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        chat.Usage,
	}, false, nil
}

// truncate shortens s to maxLen bytes on one line
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
