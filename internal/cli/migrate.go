package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkoziy/finsync/internal/migrations"
)

// NewMigrateCommand creates the migrate command and its subcommands.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
		Long: `Manage the finsync schema.

Examples:
  finsync migrate up      # apply pending migrations
  finsync migrate down    # roll back the last migration group
  finsync migrate status  # list migrations and whether they are applied`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, rootOpts, func(r *migrations.Runner) error {
				return r.Up(cmd.Context())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, rootOpts, func(r *migrations.Runner) error {
				return r.Down(cmd.Context())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, rootOpts, func(r *migrations.Runner) error {
				status, err := r.Status(cmd.Context())
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return printJSON(cmd.OutOrStdout(), status)
				}
				rows := make([][]string, 0, len(status))
				for _, s := range status {
					state := "pending"
					if s.Applied {
						state = fmt.Sprintf("applied (group %d)", s.GroupID)
					}
					rows = append(rows, []string{s.Name, s.Comment, state})
				}
				return printTable(cmd.OutOrStdout(), []string{"name", "comment", "status"}, rows)
			})
		},
	})

	return cmd
}

func withRunner(cmd *cobra.Command, opts *RootOptions, fn func(r *migrations.Runner) error) error {
	a, err := openApp(cmd.Context(), opts, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(migrations.NewRunner(a.db, a.component("migrations"))); err != nil {
		return WrapExitError(ExitCommandError, "migration failed", err)
	}
	return nil
}
