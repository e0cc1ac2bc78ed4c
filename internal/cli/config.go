package cli

import (
	"fmt"
	"os"

	"github.com/sdejongh/binsight/internal/platform"
	"github.com/sdejongh/binsight/pkg/config"
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View or create the binsight configuration.`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigToolsCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			historyPath := "disabled"
			if cfg.History.Enabled {
				if historyPath, err = platform.HistoryPath(cfg.History.Path); err != nil {
					return err
				}
			}

			apiKey := "(not set)"
			if cfg.LLM.APIKey != "" {
				apiKey = "(set)"
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "LLM Backend: %s\n", cfg.LLM.Backend)
			fmt.Fprintf(w, "Model: %s\n", cfg.LLM.ResolvedModel())
			fmt.Fprintf(w, "Endpoint: %s\n", cfg.LLM.ResolvedBaseURL())
			fmt.Fprintf(w, "API Key: %s\n", apiKey)
			fmt.Fprintf(w, "Analysis Mode: %s\n", cfg.Analysis.Mode)
			fmt.Fprintf(w, "Max Iterations: %d\n", cfg.LLM.MaxIterations)
			fmt.Fprintf(w, "Digest: %s\n", cfg.Compare.Algorithm)
			fmt.Fprintf(w, "Prefix Bytes: %d\n", cfg.Compare.PrefixBytes)
			fmt.Fprintf(w, "String Extractor: %s\n", cfg.Compare.Strings)
			fmt.Fprintf(w, "Batch Workers: %d\n", cfg.Batch.Workers)
			fmt.Fprintf(w, "History: %s\n", historyPath)
			fmt.Fprintf(w, "Output Format: %s\n", cfg.Output.Format)
			fmt.Fprintf(w, "Log Format: %s\n", cfg.Logging.Format)
			fmt.Fprintf(w, "Log Level: %s\n", cfg.Logging.Level)

			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigFile
			if path == "" {
				var err error
				if path, err = config.DefaultConfigPath(); err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if err := config.SaveToFile(cfg, path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func newConfigToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Check that the external programs are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			t := cfg.Tools
			missing := 0
			w := cmd.OutOrStdout()
			for _, st := range platform.CheckTools(t.GCC, t.Strings, t.R2, t.Csmith, t.JoernParse, t.JoernExport) {
				if st.Err != nil {
					missing++
					fmt.Fprintf(w, "  %-14s missing\n", st.Name)
					continue
				}
				fmt.Fprintf(w, "  %-14s %s\n", st.Name, st.Resolved)
			}

			if missing > 0 {
				return fmt.Errorf("%d external program(s) not found", missing)
			}
			return nil
		},
	}
}
