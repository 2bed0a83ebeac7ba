package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoziy/finsync/internal/audit"
	"github.com/mkoziy/finsync/internal/models"
)

// LogsOptions holds flags for the logs command.
type LogsOptions struct {
	*RootOptions
	Entity   string
	Session  string
	Limit    int
	Sessions bool
}

// NewLogsCommand creates the audit log viewer.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show sync attempts and sessions",
		Long: `Show the append-only sync audit log, newest first.

Examples:
  finsync logs --limit 20
  finsync logs --entity AAPL
  finsync logs --session 6f1c...   # every row of one run, in order
  finsync logs --sessions          # one line per run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "only rows for this symbol")
	cmd.Flags().StringVar(&opts.Session, "session", "", "only rows for this session id")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum rows")
	cmd.Flags().BoolVar(&opts.Sessions, "sessions", false, "list fetch sessions instead of attempts")
	return cmd
}

func runLogs(cmd *cobra.Command, opts *LogsOptions) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()
	au := audit.New(a.db)
	out := cmd.OutOrStdout()

	if opts.Sessions {
		sessions, err := au.RecentSessions(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read sessions", err)
		}
		if opts.Format == "json" {
			return printJSON(out, sessions)
		}
		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, []string{
				s.SessionID, string(s.Status), s.StartedAt.Format(time.DateTime), s.Datasets,
				fmt.Sprint(s.EntityCount), fmt.Sprint(s.Succeeded), fmt.Sprint(s.Failed), fmt.Sprint(s.Skipped), fmt.Sprint(s.RowsWritten),
			})
		}
		return printTable(out, []string{"session", "status", "started", "datasets", "entities", "ok", "failed", "skipped", "rows"}, rows)
	}

	var logs []models.SyncLog
	switch {
	case opts.Session != "":
		logs, err = au.ForSession(ctx, opts.Session)
	case opts.Entity != "":
		logs, err = au.ForEntity(ctx, opts.Entity, opts.Limit)
	default:
		logs, err = au.Recent(ctx, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read sync logs", err)
	}
	if opts.Format == "json" {
		return printJSON(out, logs)
	}

	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{
			l.StartedAt.Format(time.DateTime), l.TaskName, string(l.Status), fmt.Sprint(l.Attempt),
			fmt.Sprint(l.RowsUpdated), deref(l.ErrorClass), deref(l.ErrorMessage),
		})
	}
	return printTable(out, []string{"started", "task", "status", "attempt", "rows", "class", "error"}, rows)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
