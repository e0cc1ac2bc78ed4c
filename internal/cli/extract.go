package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/sdejongh/binsight/pkg/toolchain"
	"github.com/spf13/cobra"
)

// NewExtractCommand creates the extract command
func NewExtractCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Extract the C code blocks of a model answer",
		Long: `Print the C code found in the fenced code blocks of a markdown answer.
Use "-" to read from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read answer: %w", err)
			}

			code, err := toolchain.ExtractCCode(string(data))
			if err != nil {
				return err
			}

			if out != "" {
				return os.WriteFile(out, []byte(code+"\n"), 0644)
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "write the code to file instead of stdout")

	return cmd
}
