package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sdejongh/binsight/pkg/agent"
	"github.com/sdejongh/binsight/pkg/config"
	"github.com/sdejongh/binsight/pkg/history"
	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/r2"
	"github.com/spf13/cobra"
)

// AnalyzeFlags holds analyze command flags
type AnalyzeFlags struct {
	analysisFlags
	Output string
}

var analyzeFlags AnalyzeFlags

// NewAnalyzeCommand creates the analyze command
func NewAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze BINARY",
		Short: "Decompile a binary with the LLM agent",
		Long: `Load the binary in radare2, let the agent explore it with the analysis
tools and print the decompiled C code together with a semantic analysis.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	addAnalysisFlags(cmd, &analyzeFlags.analysisFlags)
	cmd.Flags().StringVar(&analyzeFlags.Output, "output", "", "also save the answer to file")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	binary := args[0]

	if err := validateArtifacts(binary); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyAnalysisFlags(cfg, analyzeFlags.analysisFlags); err != nil {
		return err
	}

	op, err := newAnalysisOperation(cfg, binary)
	if err != nil {
		return err
	}

	logger, err := createLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()
	logger = logger.WithFields(logging.Fields{"operation": op.ID})

	store, err := openHistory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	conv, closeSession, err := startConversation(ctx, cfg, binary, cmd, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	started := now()
	op.StartedAt = &started
	logger.Info(ctx, "analysis started", logging.Fields{
		"binary":  binary,
		"mode":    string(op.Mode),
		"backend": string(op.Backend),
		"model":   op.Model,
	})

	prompt := agent.AnalyzePrompt(filepath.Base(binary))
	result, err := conv.Run(ctx, prompt)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	completed := now()
	op.CompletedAt = &completed
	logger.Info(ctx, "analysis completed", logging.Fields{
		"iterations": result.Iterations,
		"tool_calls": len(result.Steps),
		"tokens":     result.Usage.TotalTokens,
		"duration":   completed.Sub(started).String(),
	})

	recordExchange(ctx, store, logger, op.BinaryPath, cfg, prompt, result.Response)

	if analyzeFlags.Output != "" {
		if err := os.WriteFile(analyzeFlags.Output, []byte(result.Response+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to save answer: %w", err)
		}
		if !cfg.Output.Quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "Answer saved to %s\n", analyzeFlags.Output)
		}
	}

	if !cfg.Output.Quiet {
		fmt.Fprintln(cmd.OutOrStdout(), result.Response)
	}
	return nil
}

// startConversation opens an r2 session on binary and an agent wired to
// its tools. The returned func closes the session.
func startConversation(ctx context.Context, cfg *config.Config, binary string, cmd *cobra.Command, logger logging.Logger) (*agent.Agent, func(), error) {
	session, err := r2.Open(ctx, binary, r2.Options{R2Path: cfg.Tools.R2, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open binary: %w", err)
	}

	registry := agent.NewRegistry(r2.Tools(session, cfg.Analysis.Mode)...)
	conv := agent.New(newProvider(cfg, logger), registry, agentOptions(cfg, stepPrinter(cmd.ErrOrStderr())), logger)

	return conv, func() {
		if err := session.Close(); err != nil {
			logger.Warn(ctx, "failed to close r2 session", logging.Fields{"error": err.Error()})
		}
	}, nil
}

// recordExchange stores a one-shot prompt and answer as a new session
func recordExchange(ctx context.Context, store *history.Store, logger logging.Logger, binary string, cfg *config.Config, prompt, answer string) {
	if store == nil {
		return
	}
	session, err := store.CreateSession(ctx, binary, cfg.Analysis.Mode, cfg.LLM.Backend)
	if err != nil {
		logger.Error(ctx, "failed to record session", err, nil)
		return
	}
	for _, turn := range [][2]string{{agent.RoleUser, prompt}, {agent.RoleAssistant, answer}} {
		if _, err := store.AddTurn(ctx, session.ID, turn[0], turn[1]); err != nil {
			logger.Error(ctx, "failed to record turn", err, logging.Fields{"session": session.ID})
			return
		}
	}
}
