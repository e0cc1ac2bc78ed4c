package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ExitError carries a process exit code. Err may be nil when the command
// already reported its outcome.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewRootCommand assembles the binsight command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "binsight",
		Short: "LLM-assisted reverse engineering of compiled binaries",
		Long: `binsight drives a language model through radare2 to decompile binaries
into C, rebuilds the result and measures how close the reconstruction is to
the original at the binary, source and code property graph level.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags
	AddGlobalFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(NewAnalyzeCommand())
	rootCmd.AddCommand(NewChatCommand())
	rootCmd.AddCommand(NewCompareCommand())
	rootCmd.AddCommand(NewCompileCommand())
	rootCmd.AddCommand(NewExtractCommand())
	rootCmd.AddCommand(NewCPGCommand())
	rootCmd.AddCommand(NewBatchCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
