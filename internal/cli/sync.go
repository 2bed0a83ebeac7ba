package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mkoziy/finsync/internal/audit"
	"github.com/mkoziy/finsync/internal/calendar"
	"github.com/mkoziy/finsync/internal/config"
	"github.com/mkoziy/finsync/internal/deadletter"
	"github.com/mkoziy/finsync/internal/fetch"
	"github.com/mkoziy/finsync/internal/gaps"
	"github.com/mkoziy/finsync/internal/metrics"
	"github.com/mkoziy/finsync/internal/models"
	"github.com/mkoziy/finsync/internal/notify"
	"github.com/mkoziy/finsync/internal/sources/fmp"
	"github.com/mkoziy/finsync/internal/store"
	"github.com/mkoziy/finsync/internal/syncer"
)

const metricsPushTimeout = 10 * time.Second

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Symbols     []string
	SymbolsFile string
	FromStore   bool
	Datasets    []string
	From        string
	To          string
	Days        int
	ForceToday  bool
	Concurrency int
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch missing data for a set of symbols",
		Long: `Fetch every missing trading day and stale reporting period for the
selected symbols and datasets, then upsert the results.

Symbols come from --symbols, --symbols-file, --from-store (every ticker
already stored) and the sync.symbols config key, merged in that order.

Examples:
  finsync sync --symbols AAPL,MSFT --days 30
  finsync sync --symbols-file sp500.txt --datasets prices,grades
  finsync sync --from-store --from 2025-01-02 --to 2025-01-31 --force-today`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Symbols, "symbols", "s", nil, "comma separated symbols")
	cmd.Flags().StringVar(&opts.SymbolsFile, "symbols-file", "", "file with one symbol per line")
	cmd.Flags().BoolVar(&opts.FromStore, "from-store", false, "sync every ticker already in the store")
	cmd.Flags().StringSliceVarP(&opts.Datasets, "datasets", "d", nil, "datasets to sync (default: config or all)")
	cmd.Flags().StringVar(&opts.From, "from", "", "window start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "window end date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "window length in days when --from is not set")
	cmd.Flags().BoolVar(&opts.ForceToday, "force-today", false, "refetch today once the session has closed")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "entities processed at once (default: provider.concurrency)")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	log := a.component("sync")

	if cfg.Provider.APIKey == "" {
		return NewExitError(ExitCommandError, "provider api key is not set (provider.api_key or FINSYNC_PROVIDER_API_KEY)")
	}
	if opts.Concurrency > 0 {
		cfg.Provider.Concurrency = opts.Concurrency
	}

	datasets := opts.Datasets
	if len(datasets) == 0 {
		datasets = cfg.Sync.Datasets
	}
	endpoints, err := fmp.Select(datasets)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid datasets", err)
	}

	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid calendar", err)
	}
	from, to, err := syncWindow(opts, cfg.Sync.WindowDays, cal.Today())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid window", err)
	}

	st := store.New(a.db, store.WithBatchSize(cfg.Sync.BatchSize), store.WithLogger(a.component("store")))
	entities, err := collectSymbols(ctx, opts, cfg.Sync.Symbols, cfg.Sync.SymbolsFile, st, endpoints)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to collect symbols", err)
	}
	if len(entities) == 0 {
		return NewExitError(ExitCommandError, "no symbols to sync: use --symbols, --symbols-file or --from-store")
	}

	dead, err := deadletter.Open(cfg.DeadLetter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open dead-letter log", err)
	}
	defer dead.Close()

	notifier, err := notify.New(cfg.NATS, a.component("notify"))
	if err != nil {
		log.WithError(err).Warn("notifications disabled")
		notifier = notify.Nop{}
	}
	defer notifier.Close()

	m := metrics.New()
	auditLog := audit.New(a.db)
	client := fetch.NewClient(cfg.Provider.Fetch(),
		fetch.WithObserver(syncer.NewRetryObserver(auditLog, m, a.component("audit"))),
		fetch.WithRecorder(m),
		fetch.WithLogger(a.component("fetch")),
	)

	orch, err := syncer.New(syncer.Config{
		Provider:          cfg.Provider.Name,
		Concurrency:       cfg.Provider.Concurrency,
		ChunkSize:         cfg.Sync.ChunkSize,
		PeriodicMaxAge:    cfg.Sync.PeriodicMaxAge,
		ForceRefreshToday: opts.ForceToday || cfg.Sync.ForceRefreshToday,
	}, syncer.Deps{
		Fetcher:    client,
		Gaps:       gaps.New(cal, st),
		Store:      st,
		Audit:      auditLog,
		DeadLetter: dead,
		Metrics:    m,
		Notifier:   notifier,
		Logger:     a.component("run"),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build orchestrator", err)
	}

	summary, runErr := orch.Run(ctx, syncer.Plan{
		Entities:    entities,
		Endpoints:   endpoints,
		WindowStart: from,
		WindowEnd:   to,
	})
	pushMetrics(ctx, cfg.Metrics, cfg.Provider.Name, m, log)
	if err := printSummary(cmd.OutOrStdout(), opts.Format, summary); err != nil {
		return err
	}

	switch {
	case errors.Is(runErr, syncer.ErrRunAborted):
		return WrapExitError(ExitAborted, "sync aborted", runErr)
	case runErr != nil:
		return WrapExitError(ExitCommandError, "sync failed", runErr)
	case summary.Failed > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("sync finished with %d failed attempts, see %s", summary.Failed, summary.DeadLetterPath))
	}
	return nil
}

// pushMetrics sends the run's registry to the configured Pushgateway. A push
// failure is logged and never changes the exit code.
func pushMetrics(ctx context.Context, cfg config.MetricsConfig, provider string, m *metrics.Metrics, log logrus.FieldLogger) {
	if cfg.PushURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
	defer cancel()
	if err := m.Push(ctx, cfg.PushURL, cfg.PushJob, map[string]string{"provider": provider}); err != nil {
		log.WithError(err).Warn("failed to push metrics")
	}
}

// syncWindow resolves the date window from flags. --from/--to win over
// --days, which wins over the configured window length.
func syncWindow(opts *SyncOptions, defaultDays int, today time.Time) (time.Time, time.Time, error) {
	to := models.Day(today)
	if opts.To != "" {
		t, err := models.ParseDay(opts.To)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", opts.To, err)
		}
		to = t
	}

	days := defaultDays
	if opts.Days > 0 {
		days = opts.Days
	}
	from := to.AddDate(0, 0, -days)
	if opts.From != "" {
		f, err := models.ParseDay(opts.From)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", opts.From, err)
		}
		from = f
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("window end %s is before start %s", to.Format(models.DateLayout), from.Format(models.DateLayout))
	}
	return from, to, nil
}

type tickerLister interface {
	Tickers(ctx context.Context, table string) ([]string, error)
}

func collectSymbols(ctx context.Context, opts *SyncOptions, configured []string, configuredFile string, st tickerLister, endpoints []fmp.Endpoint) ([]string, error) {
	var out []string
	out = append(out, opts.Symbols...)

	for _, path := range []string{opts.SymbolsFile, configuredFile} {
		if path == "" {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		syms, err := readSymbols(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, syms...)
	}

	if opts.FromStore {
		for _, ep := range endpoints {
			tickers, err := st.Tickers(ctx, ep.Table)
			if err != nil {
				return nil, err
			}
			out = append(out, tickers...)
		}
	}
	out = append(out, configured...)
	return dedupSymbols(out), nil
}

// readSymbols accepts one or more comma separated symbols per line; blank
// lines and # comments are ignored.
func readSymbols(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		for _, s := range strings.Split(line, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out, scanner.Err()
}

func dedupSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = models.NormalizeTicker(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func printSummary(w io.Writer, format string, s syncer.Summary) error {
	if format == "json" {
		return printJSON(w, s)
	}
	rows := [][]string{
		{"session", s.SessionID},
		{"entities", fmt.Sprint(s.Entities)},
		{"attempted", fmt.Sprint(s.Attempted)},
		{"succeeded", fmt.Sprint(s.Succeeded)},
		{"failed", fmt.Sprint(s.Failed)},
		{"skipped", fmt.Sprint(s.Skipped)},
		{"rows written", fmt.Sprint(s.RowsWritten)},
		{"records dropped", fmt.Sprint(s.Dropped)},
		{"duration", s.Duration.Round(time.Millisecond).String()},
	}
	if s.Aborted {
		rows = append(rows, []string{"aborted", s.AbortReason})
	}
	if s.Failed > 0 && s.DeadLetterPath != "" {
		rows = append(rows, []string{"dead letters", s.DeadLetterPath})
	}
	return printTable(w, []string{"field", "value"}, rows)
}
