package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// CompileFlags holds compile command flags
type CompileFlags struct {
	Optimize string
	Out      string
	Compare  string
	Include  []string
	Output   string
}

var compileFlags CompileFlags

// NewCompileCommand creates the compile command
func NewCompileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile SOURCE.c",
		Short: "Compile a C source with the configured compiler",
		Long: `Compile a (decompiled) C source with gcc (-O0 unless -O2 is given) and
optionally compare the resulting binary with the original one.`,
		Args: cobra.ExactArgs(1),
		RunE: runCompile,
	}

	cmd.Flags().StringVarP(&compileFlags.Optimize, "optimize", "O", "0", "optimization level: 0 or 2 (-O2)")
	cmd.Flags().StringVar(&compileFlags.Out, "out", "", "output binary (default: source name without .c)")
	cmd.Flags().StringVar(&compileFlags.Compare, "compare", "", "compare the binary with this original")
	cmd.Flags().StringSliceVarP(&compileFlags.Include, "include", "I", nil, "additional include directories")
	cmd.Flags().StringVarP(&compileFlags.Output, "output", "o", "human", "comparison output format: human, json")

	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	src := args[0]

	if err := validateOutputFormat(compileFlags.Output); err != nil {
		return err
	}
	if err := validateArtifacts(src); err != nil {
		return err
	}
	if compileFlags.Optimize != "0" && compileFlags.Optimize != "2" {
		return fmt.Errorf("invalid optimization level: %s (valid: 0, 2)", compileFlags.Optimize)
	}
	if compileFlags.Compare != "" {
		if err := validateArtifacts(compileFlags.Compare); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := createLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	out := compileFlags.Out
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src))
	}
	if out == src {
		return fmt.Errorf("output would overwrite the source: %s", src)
	}

	runner := newRunner()
	compiler := newCompiler(cfg, runner, logger, compileFlags.Include...)
	result, err := compiler.Compile(ctx, src, out, compileFlags.Optimize == "2")
	if err != nil {
		return err
	}

	if !cfg.Output.Quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "Compiled %s -> %s\n", result.Source, result.Binary)
		if w := strings.TrimSpace(result.Warnings); w != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), w)
		}
	}

	if compileFlags.Compare == "" {
		return nil
	}

	comparator, err := newComparator(cfg, runner, logger)
	if err != nil {
		return fmt.Errorf("failed to create comparator: %w", err)
	}
	report, err := comparator.Compare(ctx, compileFlags.Compare, result.Binary)
	if err != nil {
		return err
	}
	return writeComparison(cmd.OutOrStdout(), compileFlags.Output, report)
}
