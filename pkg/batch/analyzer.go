package batch

import (
	"context"
	"fmt"

	"github.com/sdejongh/binsight/pkg/agent"
	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/r2"
)

// AgentAnalyzer decompiles a binary with a fresh r2 session and agent.
// Each call owns its session, so calls may run in parallel.
type AgentAnalyzer struct {
	Provider agent.Provider
	Options  agent.Options
	R2Path   string
	Logger   logging.Logger

	// OpenPipe starts the analysis engine (default: r2 process)
	OpenPipe func(ctx context.Context, path string) (r2.Pipe, error)
}

// Analyze returns the model's answer for binary
func (a *AgentAnalyzer) Analyze(ctx context.Context, binary string) (string, error) {
	logger := a.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	open := a.OpenPipe
	if open == nil {
		open = func(ctx context.Context, path string) (r2.Pipe, error) {
			return r2.StartPipe(ctx, a.R2Path, path)
		}
	}

	pipe, err := open(ctx, binary)
	if err != nil {
		return "", fmt.Errorf("failed to open %s in r2: %w", binary, err)
	}
	session := r2.NewSession(pipe, binary)
	defer session.Close()

	mode := a.Options.Mode
	if mode == "" {
		mode = models.ModeStandard
	}
	opts := a.Options
	opts.Mode = mode

	registry := agent.NewRegistry(r2.Tools(session, mode)...)
	result, err := agent.New(a.Provider, registry, opts, logger).Run(ctx, agent.AnalyzePrompt(binary))
	if err != nil {
		return "", err
	}
	logger.Debug(ctx, "agent finished", logging.Fields{
		"binary":     binary,
		"iterations": result.Iterations,
		"tool_calls": len(result.Steps),
	})
	return result.Response, nil
}
