package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoziy/finsync/internal/deadletter"
)

// DeadLetterOptions holds flags for the deadletter command.
type DeadLetterOptions struct {
	*RootOptions
	Path    string
	Limit   int
	Symbols bool
}

// NewDeadLetterCommand lists dead-lettered failures.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeadLetterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "List terminal failures from the dead-letter log",
		Long: `List the most recent dead-letter entries. With --symbols, print only the
distinct failed symbols, one per line, ready for "finsync sync --symbols-file".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetter(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Path, "path", "", "dead-letter file (default: deadletter.path)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum entries, 0 for all")
	cmd.Flags().BoolVar(&opts.Symbols, "symbols", false, "print distinct failed symbols only")
	return cmd
}

func runDeadLetter(cmd *cobra.Command, opts *DeadLetterOptions) error {
	path := opts.Path
	if path == "" {
		cfg, _, err := loadConfig(cmd.Context(), opts.RootOptions)
		if err != nil {
			return err
		}
		path = cfg.DeadLetter.Path
	}

	entries, bad, err := deadletter.ReadFile(path, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read dead-letter log", err)
	}
	out := cmd.OutOrStdout()
	if bad > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %d malformed lines in %s\n", bad, path)
	}

	if opts.Symbols {
		seen := map[string]bool{}
		for _, e := range entries {
			if !seen[e.Symbol] {
				seen[e.Symbol] = true
				fmt.Fprintln(out, e.Symbol)
			}
		}
		return nil
	}
	if opts.Format == "json" {
		return printJSON(out, entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Format(time.DateTime), e.Symbol, e.Dataset, fmt.Sprint(e.ErrorCode), e.ErrorClass, e.ErrorMessage,
		})
	}
	return printTable(out, []string{"time", "symbol", "dataset", "code", "class", "message"}, rows)
}
