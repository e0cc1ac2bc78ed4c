package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sdejongh/binsight/pkg/history"
	"github.com/sdejongh/binsight/pkg/output"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded sessions and reports",
		Long:  `List the chat sessions, conversation turns and comparison reports stored in the history database.`,
	}

	cmd.AddCommand(newHistorySessionsCommand())
	cmd.AddCommand(newHistoryTurnsCommand())
	cmd.AddCommand(newHistoryReportsCommand())
	cmd.AddCommand(newHistoryBatchCommand())

	return cmd
}

// historyFlags are shared by the history subcommands
type historyFlags struct {
	Limit  int
	Output string
}

func addHistoryFlags(cmd *cobra.Command, f *historyFlags) {
	cmd.Flags().IntVarP(&f.Limit, "limit", "l", 20, "maximum number of entries (0 = all)")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "human", "output format: human, json")
}

type openedHistory struct {
	ctx   context.Context
	store *history.Store
}

// withHistory opens the store for a history subcommand
func withHistory(cmd *cobra.Command, format string, fn func(w io.Writer, open openedHistory) error) error {
	if err := validateOutputFormat(format); err != nil {
		return err
	}
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := createLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	store, err := requireHistory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	return fn(cmd.OutOrStdout(), openedHistory{ctx: ctx, store: store})
}

func newHistorySessionsCommand() *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List chat and analysis sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, flags.Output, func(w io.Writer, h openedHistory) error {
				sessions, err := h.store.Sessions(h.ctx, flags.Limit)
				if err != nil {
					return err
				}
				if flags.Output == "json" {
					return output.WriteJSON(w, sessions)
				}
				if len(sessions) == 0 {
					fmt.Fprintln(w, "No sessions recorded")
					return nil
				}
				for _, s := range sessions {
					fmt.Fprintf(w, "%s  %s  %-8s %-6s %s\n", s.ID, stamp(s.CreatedAt), s.Mode, s.Backend, s.Artifact)
				}
				return nil
			})
		},
	}
	addHistoryFlags(cmd, &flags)
	return cmd
}

func newHistoryTurnsCommand() *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "turns SESSION_ID",
		Short: "Show the conversation of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, flags.Output, func(w io.Writer, h openedHistory) error {
				turns, err := h.store.Turns(h.ctx, args[0])
				if err != nil {
					return err
				}
				if flags.Output == "json" {
					return output.WriteJSON(w, turns)
				}
				for _, t := range turns {
					fmt.Fprintf(w, "[%s] %s:\n%s\n\n", stamp(t.CreatedAt), strings.ToUpper(t.Role), t.Content)
				}
				return nil
			})
		},
	}
	addHistoryFlags(cmd, &flags)
	return cmd
}

func newHistoryReportsCommand() *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List saved comparison reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, flags.Output, func(w io.Writer, h openedHistory) error {
				reports, err := h.store.Reports(h.ctx, flags.Limit)
				if err != nil {
					return err
				}
				if flags.Output == "json" {
					return output.WriteJSON(w, reports)
				}
				if len(reports) == 0 {
					fmt.Fprintln(w, "No reports recorded")
					return nil
				}
				for _, r := range reports {
					o := r.Report.Overall
					fmt.Fprintf(w, "%s  %s  %s -> %s  hash=%s size=%s strings=%s bytes=%s\n",
						r.ID, stamp(r.CreatedAt), r.Report.Original, r.Report.Candidate,
						yesNo(o.HashMatch), yesNo(o.SizeCloselyMatches),
						yesNo(o.HighStringSimilarity), yesNo(o.HighBinarySimilarity))
				}
				return nil
			})
		},
	}
	addHistoryFlags(cmd, &flags)
	return cmd
}

func newHistoryBatchCommand() *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "batch RUN_ID",
		Short: "Show the recorded items of a batch run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, flags.Output, func(w io.Writer, h openedHistory) error {
				items, err := h.store.BatchResults(h.ctx, args[0])
				if err != nil {
					return err
				}
				if flags.Output == "json" {
					return output.WriteJSON(w, items)
				}
				for _, item := range items {
					line := fmt.Sprintf("%-9s %s", item.Status, item.Source)
					if item.Error != "" {
						line += fmt.Sprintf(" (%s: %s)", item.FailedStage, item.Error)
					}
					fmt.Fprintln(w, line)
				}
				return nil
			})
		},
	}
	addHistoryFlags(cmd, &flags)
	return cmd
}

func stamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
