package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoziy/finsync/internal/api"
	"github.com/mkoziy/finsync/internal/audit"
	"github.com/mkoziy/finsync/internal/metrics"
	"github.com/mkoziy/finsync/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and metrics",
		Long: `Serve stored data, the sync audit log and Prometheus metrics over HTTP.

Routes:
  GET /v1/{dataset}                  tickers stored for a dataset
  GET /v1/{dataset}/{ticker}         range read (?from=&to=&period=&limit=)
  GET /v1/{dataset}/{ticker}/{date}  point read (?period=)
  GET /v1/sync/logs                  attempt rows (?entity=&limit=)
  GET /v1/sync/sessions[/{id}]       fetch sessions
  GET /healthz
  GET /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default: api.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()

	apiOpts := api.Options{
		Addr:         a.cfg.API.Addr,
		ReadTimeout:  a.cfg.API.ReadTimeout,
		WriteTimeout: a.cfg.API.WriteTimeout,
	}
	if opts.Addr != "" {
		apiOpts.Addr = opts.Addr
	}
	if a.cfg.Metrics.Enabled {
		apiOpts.MetricsPath = a.cfg.Metrics.Path
	}

	srv := api.NewServer(apiOpts, store.New(a.db), audit.New(a.db), metrics.New(), a.component("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitCommandError, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "shutdown failed", err)
	}
	return <-errCh
}
