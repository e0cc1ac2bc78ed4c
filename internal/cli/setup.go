package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sdejongh/binsight/internal/platform"
	"github.com/sdejongh/binsight/pkg/agent"
	"github.com/sdejongh/binsight/pkg/compare"
	"github.com/sdejongh/binsight/pkg/config"
	"github.com/sdejongh/binsight/pkg/history"
	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/ratelimit"
	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/sdejongh/binsight/pkg/toolchain"
)

var (
	newID = func() string { return uuid.New().String() }
	now   = time.Now
)

// createLogger returns a NullLogger unless logging is enabled in the
// configuration or --verbose asks for console logs
func createLogger(cfg *config.Config, stderr io.Writer) (logging.Logger, error) {
	if !cfg.Logging.Enabled && !globalFlags.Verbose {
		return logging.NewNullLogger(), nil
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	format := logging.FormatJSON
	if f := strings.ToLower(cfg.Logging.Format); f == "text" || f == "console" {
		format = logging.FormatConsole
	}

	opts := logging.Options{
		Format:     format,
		Level:      level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}
	if cfg.Logging.Enabled {
		opts.FilePath = platform.ExpandHome(cfg.Logging.File)
	}
	if globalFlags.Verbose {
		opts.Format = logging.FormatConsole
		opts.Console = stderr
	}

	logger, err := logging.NewZerologLogger(opts)
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func newRunner() *toolchain.ExecRunner {
	return toolchain.NewExecRunner(0)
}

// newComparator builds the artifact comparator from configuration,
// throttling reads when compare.read_limit is set
func newComparator(cfg *config.Config, runner toolchain.Runner, logger logging.Logger) (*compare.Comparator, error) {
	backend := storage.NewUnrooted()
	extractor := toolchain.NewStringExtractor(cfg.Compare.Strings, runner, backend, cfg.Tools.Strings, logger)

	comparator, err := compare.NewComparator(backend, extractor, compare.Options{
		Algorithm:   cfg.Compare.Algorithm,
		PrefixBytes: cfg.Compare.PrefixBytes,
		BufferSize:  cfg.Compare.BufferSize,
		Thresholds: compare.Thresholds{
			SizePercent:   cfg.Compare.Thresholds.SizePercent,
			StringJaccard: cfg.Compare.Thresholds.StringJaccard,
			ByteRatio:     cfg.Compare.Thresholds.ByteRatio,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	rate, err := ratelimit.ParseRate(cfg.Compare.ReadLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid read limit: %w", err)
	}
	if rate > 0 {
		comparator.SetReaderWrapper(ratelimit.Wrapper(ratelimit.NewLimiter(rate)))
	}

	return comparator, nil
}

func newCompiler(cfg *config.Config, runner toolchain.Runner, logger logging.Logger, includeDirs ...string) *toolchain.Compiler {
	var opts []toolchain.CompilerOption
	if len(includeDirs) > 0 {
		opts = append(opts, toolchain.WithIncludeDirs(includeDirs...))
	}
	return toolchain.NewCompiler(runner, cfg.Tools.GCC, logger, opts...)
}

// newProvider returns the chat-completions client for the configured
// backend
func newProvider(cfg *config.Config, logger logging.Logger) *agent.HTTPProvider {
	return agent.NewHTTPProvider(agent.ProviderConfig{
		BaseURL:        cfg.LLM.ResolvedBaseURL(),
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.ResolvedModel(),
		Timeout:        cfg.LLM.HTTPTimeout,
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryBaseDelay: cfg.LLM.RetryBaseDelay,
		UserAgent:      "binsight/" + Version,
	}, logger)
}

func agentOptions(cfg *config.Config, onStep func(agent.Step)) agent.Options {
	return agent.Options{
		Mode:          cfg.Analysis.Mode,
		MaxIterations: cfg.LLM.MaxIterations,
		MaxOutputSize: cfg.LLM.MaxOutputSize,
		SessionWindow: cfg.LLM.SessionWindow,
		OnStep:        onStep,
	}
}

// stepPrinter shows tool executions on w in verbose mode
func stepPrinter(w io.Writer) func(agent.Step) {
	if !globalFlags.Verbose {
		return nil
	}
	faint := color.New(color.Faint)
	return func(s agent.Step) {
		status := "ok"
		if s.IsError {
			status = "error"
		}
		faint.Fprintf(w, "  -> %s %s (%s, %s)\n", s.Tool, s.Arguments, status, s.Duration.Round(time.Millisecond))
	}
}

// openHistory opens the history database, or returns nil when history is
// disabled
func openHistory(ctx context.Context, cfg *config.Config, logger logging.Logger) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	path, err := platform.HistoryPath(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	return history.Open(ctx, path, logger)
}

// requireHistory is openHistory for the commands that only read history
func requireHistory(ctx context.Context, cfg *config.Config, logger logging.Logger) (*history.Store, error) {
	cfg.History.Enabled = true
	return openHistory(ctx, cfg, logger)
}
