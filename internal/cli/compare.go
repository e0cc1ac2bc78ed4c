package cli

import (
	"fmt"
	"io"

	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/output"
	"github.com/spf13/cobra"
)

// CompareFlags holds compare command flags
type CompareFlags struct {
	Output    string
	Algorithm string
	Prefix    int
	Strings   string
	Save      bool
	Report    string
}

var compareFlags CompareFlags

// NewCompareCommand creates the compare command
func NewCompareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare ORIGINAL CANDIDATE",
		Short: "Compare an original binary with a reconstructed one",
		Long: `Compare two artifacts by size, content digest, printable strings and
byte-level similarity over a bounded prefix, and summarize the result
against the configured thresholds.`,
		Args: cobra.ExactArgs(2),
		RunE: runCompare,
	}

	cmd.Flags().StringVarP(&compareFlags.Output, "output", "o", "human", "output format: human, json")
	cmd.Flags().StringVar(&compareFlags.Algorithm, "algorithm", "", "digest algorithm: md5, sha256, blake3 (default from config)")
	cmd.Flags().IntVar(&compareFlags.Prefix, "prefix", 0, "bytes compared by the similarity ratio (default from config)")
	cmd.Flags().StringVar(&compareFlags.Strings, "strings", "", "string extractor: external, builtin (default from config)")
	cmd.Flags().BoolVar(&compareFlags.Save, "save", false, "record the report in the history database")
	cmd.Flags().StringVar(&compareFlags.Report, "report", "", "also write the report to file")

	return cmd
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	if err := validateOutputFormat(compareFlags.Output); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if compareFlags.Algorithm != "" {
		cfg.Compare.Algorithm = models.DigestAlgorithm(compareFlags.Algorithm)
	}
	if compareFlags.Prefix > 0 {
		cfg.Compare.PrefixBytes = compareFlags.Prefix
	}
	if compareFlags.Strings != "" {
		cfg.Compare.Strings = models.StringExtractorKind(compareFlags.Strings)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := createLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	comparator, err := newComparator(cfg, newRunner(), logger)
	if err != nil {
		return fmt.Errorf("failed to create comparator: %w", err)
	}

	report, err := comparator.Compare(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	if compareFlags.Save {
		store, err := requireHistory(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()

		if _, err := store.SaveReport(ctx, "", report); err != nil {
			logger.Error(ctx, "failed to save report", err, logging.Fields{"report": report.ID})
			return fmt.Errorf("failed to save report: %w", err)
		}
	}

	if compareFlags.Report != "" {
		if err := output.WriteFile(compareFlags.Report, compareFlags.Output, report, func(w io.Writer) error {
			return output.WriteComparison(w, report)
		}); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if cfg.Output.Quiet {
		return nil
	}
	return writeComparison(cmd.OutOrStdout(), compareFlags.Output, report)
}

func writeComparison(w io.Writer, format string, report *models.ComparisonReport) error {
	if format == "json" {
		return output.WriteJSON(w, report)
	}
	return output.WriteComparison(w, report)
}
