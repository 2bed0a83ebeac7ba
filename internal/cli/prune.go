package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoziy/finsync/internal/audit"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	OlderThan time.Duration
}

// NewPruneCommand deletes old audit rows.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit rows older than the retention period",
		Long: `Delete sync_logs rows started before --older-than ago (default:
sync.audit_retention). Fetch sessions and synchronized data are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "retention, e.g. 2160h (default: sync.audit_retention)")
	return cmd
}

func runPrune(cmd *cobra.Command, opts *PruneOptions) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()

	retention := a.cfg.Sync.AuditRetention
	if opts.OlderThan > 0 {
		retention = opts.OlderThan
	}
	if retention <= 0 {
		return NewExitError(ExitCommandError, "retention must be positive")
	}

	cutoff := time.Now().Add(-retention).UTC()
	n, err := audit.New(a.db).Prune(ctx, cutoff)
	if err != nil {
		return WrapExitError(ExitCommandError, "prune failed", err)
	}
	a.component("prune").WithField("cutoff", cutoff.Format(time.RFC3339)).Infof("pruned %d audit rows", n)
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d rows older than %s\n", n, cutoff.Format(time.DateTime))
	return nil
}
