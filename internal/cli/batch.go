package cli

import (
	"fmt"
	"io"

	"github.com/sdejongh/binsight/pkg/batch"
	"github.com/sdejongh/binsight/pkg/cpg"
	"github.com/sdejongh/binsight/pkg/output"
	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/sdejongh/binsight/pkg/toolchain"
	"github.com/spf13/cobra"
)

// BatchFlags holds batch command flags
type BatchFlags struct {
	analysisFlags
	Count   int
	Dir     string
	Workers int
	Output  string
	NoCPG   bool
	Report  string
}

var batchFlags BatchFlags

// NewBatchCommand creates the batch command
func NewBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Generate random programs and evaluate their decompilation",
		Long: `Generate C programs with csmith, compile them, let the agent decompile
each binary, rebuild the decompiled code and compare sources, code property
graphs and binaries. Every item writes <name>_cpg_analysis.json next to the
generated program.

Exit codes: 0 all items succeeded, 1 some items failed, 2 all failed,
3 cancelled.`,
		Args: cobra.NoArgs,
		RunE: runBatch,
	}

	addAnalysisFlags(cmd, &batchFlags.analysisFlags)
	cmd.Flags().IntVarP(&batchFlags.Count, "count", "n", 0, "number of programs to generate (default from config)")
	cmd.Flags().StringVarP(&batchFlags.Dir, "dir", "d", "", "output directory (default from config)")
	cmd.Flags().IntVar(&batchFlags.Workers, "workers", 0, "programs analyzed in parallel (default from config)")
	cmd.Flags().StringVarP(&batchFlags.Output, "output", "o", "", "output format: human, json (default from config)")
	cmd.Flags().BoolVar(&batchFlags.NoCPG, "no-cpg", false, "skip the code property graph comparison")
	cmd.Flags().StringVar(&batchFlags.Report, "report", "", "also write the run report to file")

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchFlags.Count > 0 {
		cfg.Batch.Count = batchFlags.Count
	}
	if batchFlags.Dir != "" {
		cfg.Batch.OutputDir = batchFlags.Dir
	}
	if batchFlags.Workers > 0 {
		cfg.Batch.Workers = batchFlags.Workers
	}
	if batchFlags.Output != "" {
		if err := validateOutputFormat(batchFlags.Output); err != nil {
			return err
		}
		cfg.Output.Format = batchFlags.Output
	}
	if err := applyAnalysisFlags(cfg, batchFlags.analysisFlags); err != nil {
		return err
	}

	logger, err := createLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	store, err := openHistory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	runner := newRunner()
	backend := storage.NewUnrooted()

	var includes []string
	if cfg.Tools.CsmithInclude != "" {
		includes = append(includes, cfg.Tools.CsmithInclude)
	}

	comparator, err := newComparator(cfg, runner, logger)
	if err != nil {
		return fmt.Errorf("failed to create comparator: %w", err)
	}

	deps := batch.Deps{
		Programs: toolchain.NewGenerator(runner, backend, cfg.Tools.Csmith, logger),
		Compiler: newCompiler(cfg, runner, logger, includes...),
		Analyzer: &batch.AgentAnalyzer{
			Provider: newProvider(cfg, logger),
			Options:  agentOptions(cfg, nil),
			R2Path:   cfg.Tools.R2,
			Logger:   logger,
		},
		Comparer: comparator,
		Backend:  backend,
	}
	if !batchFlags.NoCPG {
		deps.Graphs = cpg.NewGenerator(runner, backend, cfg.Tools.JoernParse, cfg.Tools.JoernExport, logger)
	}
	if store != nil {
		defer store.Close()
		deps.Recorder = store
	}

	w := cmd.OutOrStdout()
	if cfg.Output.Quiet {
		w = io.Discard
	}
	formatter, err := output.NewFormatter(cfg.Output.Format, cfg.Output.Progress, w)
	if err != nil {
		return err
	}

	pipeline := batch.New(deps, batch.Options{
		OutputDir: cfg.Batch.OutputDir,
		Count:     cfg.Batch.Count,
		Workers:   cfg.Batch.Workers,
		Mode:      cfg.Analysis.Mode,
		Backend:   cfg.LLM.Backend,
		CPG:       cpg.Options{GEDTimeout: cfg.CPG.GEDTimeout},
	}, logger)

	report, err := pipeline.Run(ctx, formatter, w)
	if err != nil {
		return err
	}

	if batchFlags.Report != "" {
		if err := output.WriteFile(batchFlags.Report, cfg.Output.Format, report, func(w io.Writer) error {
			return output.WriteBatchReport(w, report)
		}); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if code := report.Status.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
