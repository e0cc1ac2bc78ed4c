package cli

import (
	"fmt"
	"os"

	"github.com/sdejongh/binsight/pkg/cpg"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/output"
	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/sdejongh/binsight/pkg/toolchain"
	"github.com/spf13/cobra"
)

// CPGFlags holds cpg command flags
type CPGFlags struct {
	Output string
	Diff   bool
}

var cpgFlags CPGFlags

// NewCPGCommand creates the cpg command
func NewCPGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cpg SOURCE_A.c SOURCE_B.c",
		Short: "Compare the code property graphs of two C sources",
		Long: `Build the code property graph of both sources with joern and compare
them by graph edit distance, SimRank, density and node and edge counts.`,
		Args: cobra.ExactArgs(2),
		RunE: runCPG,
	}

	cmd.Flags().StringVarP(&cpgFlags.Output, "output", "o", "human", "output format: human, json")
	cmd.Flags().BoolVar(&cpgFlags.Diff, "diff", false, "also print a line diff of the sources")

	return cmd
}

// cpgResult is the json output of the cpg command
type cpgResult struct {
	Original   string                `json:"original"`
	Candidate  string                `json:"candidate"`
	Comparison *models.CPGComparison `json:"cpg_comparison"`
	SourceDiff *models.SourceDiff    `json:"source_diff,omitempty"`
}

func runCPG(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	if err := validateOutputFormat(cpgFlags.Output); err != nil {
		return err
	}
	if err := validateArtifacts(args...); err != nil {
		return err
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

	gen := cpg.NewGenerator(newRunner(), storage.NewUnrooted(), cfg.Tools.JoernParse, cfg.Tools.JoernExport, logger)
	g1, g2 := gen.GeneratePair(ctx, args[0], args[1])

	comparison := cpg.Compare(ctx, g1, g2, cpg.Options{GEDTimeout: cfg.CPG.GEDTimeout})

	result := cpgResult{Original: args[0], Candidate: args[1], Comparison: comparison}
	if cpgFlags.Diff {
		a, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		b, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		diff := toolchain.DiffSources(string(a), string(b))
		result.SourceDiff = &diff
	}

	w := cmd.OutOrStdout()
	if cpgFlags.Output == "json" {
		return output.WriteJSON(w, result)
	}

	if err := output.WriteCPGComparison(w, args[0], args[1], comparison); err != nil {
		return err
	}
	if result.SourceDiff != nil {
		fmt.Fprintln(w)
		return output.WriteSourceDiff(w, *result.SourceDiff)
	}
	return nil
}
