package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoziy/finsync/internal/calendar"
	"github.com/mkoziy/finsync/internal/config"
	"github.com/mkoziy/finsync/internal/deadletter"
	"github.com/mkoziy/finsync/internal/logging"
	"github.com/mkoziy/finsync/internal/metrics"
	"github.com/mkoziy/finsync/internal/sources/fmp"
	"github.com/mkoziy/finsync/internal/syncer"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"sync", "migrate", "serve", "logs", "deadletter", "calendar", "prune"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	for _, name := range []string{"up", "down", "status"} {
		sub, _, err := cmd.Find([]string{"migrate", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"config", "log-level", "verbose", "format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"calendar", "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitAborted, ExitCode(WrapExitError(ExitAborted, "sync aborted", syncer.ErrRunAborted)))
	assert.Equal(t, ExitCommandError, ExitCode(errors.New("boom")))

	err := WrapExitError(ExitFailure, "wrapped", syncer.ErrRunAborted)
	assert.ErrorIs(t, err, syncer.ErrRunAborted)
	assert.Equal(t, "wrapped: "+syncer.ErrRunAborted.Error(), err.Error())
}

func TestSyncWindow(t *testing.T) {
	today := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)

	from, to, err := syncWindow(&SyncOptions{}, 30, today)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, today, to)

	from, _, err = syncWindow(&SyncOptions{Days: 7}, 30, today)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 24, 0, 0, 0, 0, time.UTC), from)

	from, to, err = syncWindow(&SyncOptions{From: "2025-01-02", To: "2025-01-08"}, 30, today)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC), to)

	_, _, err = syncWindow(&SyncOptions{From: "2025-02-01"}, 30, today)
	assert.Error(t, err)
	_, _, err = syncWindow(&SyncOptions{To: "someday"}, 30, today)
	assert.Error(t, err)
}

type fakeLister map[string][]string

func (f fakeLister) Tickers(_ context.Context, table string) ([]string, error) {
	return f[table], nil
}

func TestCollectSymbols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.txt")
	require.NoError(t, os.WriteFile(path, []byte("# watchlist\nmsft, nvda\n\nAAPL # dup\n"), 0o644))

	eps, err := fmp.Select([]string{"prices", "grades"})
	require.NoError(t, err)
	lister := fakeLister{"stock_prices": {"AAPL", "AMZN"}, "analyst_grades": {"TSLA"}}

	got, err := collectSymbols(context.Background(), &SyncOptions{
		Symbols:     []string{"aapl"},
		SymbolsFile: path,
		FromStore:   true,
	}, []string{"GOOG"}, "", lister, eps)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA", "AMZN", "TSLA", "GOOG"}, got)

	_, err = collectSymbols(context.Background(), &SyncOptions{SymbolsFile: filepath.Join(t.TempDir(), "none")}, nil, "", lister, eps)
	assert.Error(t, err)
}

func TestCalendarReport(t *testing.T) {
	now := time.Date(2025, time.April, 17, 18, 0, 0, 0, time.UTC)
	cal, err := calendar.New(calendar.DefaultConfig(), calendar.WithClock(calendar.ClockFunc(func() time.Time { return now })))
	require.NoError(t, err)

	r, err := buildCalendarReport(cal, "2025-04-18", 2025)
	require.NoError(t, err)
	assert.False(t, r.TradingDay)
	assert.Equal(t, "Good Friday", r.Holiday)
	assert.True(t, r.MarketOpen)
	assert.Equal(t, "2025-04-16", r.LastCompleted)
	assert.Equal(t, "2025-04-21", r.NextTradingDay)
	assert.Len(t, r.Holidays, 10)

	_, err = buildCalendarReport(cal, "tomorrow", 0)
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	s := syncer.Summary{SessionID: "s-1", Entities: 2, Attempted: 2, Succeeded: 1, Failed: 1, RowsWritten: 5, DeadLetterPath: "dl.ndjson"}

	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, "text", s))
	assert.Contains(t, buf.String(), "rows written")
	assert.Contains(t, buf.String(), "dl.ndjson")

	buf.Reset()
	require.NoError(t, printSummary(&buf, "json", s))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "s-1", decoded["session_id"])
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dl := filepath.Join(dir, "dead.ndjson")
	cfg := "database:\n  driver: sqlite\n  dsn: file:" + filepath.Join(dir, "finsync.db") + "?cache=shared\n" +
		"deadletter:\n  path: " + dl + "\n" +
		"logging:\n  level: error\n"
	path := filepath.Join(dir, "finsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, dl
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndLogsCommands(t *testing.T) {
	path, _ := writeConfig(t)

	_, err := execute(t, "--config", path, "migrate", "up")
	require.NoError(t, err)

	out, err := execute(t, "--config", path, "--format", "json", "migrate", "status")
	require.NoError(t, err)
	var status []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Len(t, status, 2)
	assert.Equal(t, true, status[0]["Applied"])

	out, err = execute(t, "--config", path, "logs", "--sessions")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "SESSION"))

	out, err = execute(t, "--config", path, "prune", "--older-than", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 rows")
}

func TestDeadLetterCommand(t *testing.T) {
	path, dl := writeConfig(t)
	log, err := deadletter.Open(deadletter.Config{Path: dl})
	require.NoError(t, err)
	require.NoError(t, log.Record(deadletter.Entry{Symbol: "BAD", Dataset: "prices", ErrorCode: 400, ErrorClass: "client_error", ErrorMessage: "Invalid symbol"}))
	require.NoError(t, log.Record(deadletter.Entry{Symbol: "BAD", Dataset: "grades", ErrorCode: 400, ErrorClass: "client_error", ErrorMessage: "Invalid symbol"}))
	require.NoError(t, log.Close())

	out, err := execute(t, "--config", path, "deadletter")
	require.NoError(t, err)
	assert.Contains(t, out, "client_error")

	out, err = execute(t, "--config", path, "deadletter", "--symbols")
	require.NoError(t, err)
	assert.Equal(t, "BAD\n", out)
}

func TestSyncRequiresAPIKey(t *testing.T) {
	t.Setenv("FINSYNC_PROVIDER_API_KEY", "")
	t.Setenv("FMP_API_KEY", "")
	path, _ := writeConfig(t)
	_, err := execute(t, "--config", path, "sync", "--symbols", "AAPL")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
	assert.Contains(t, err.Error(), "api key")
}

func TestPushMetricsAfterRun(t *testing.T) {
	var paths []string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := metrics.New()
	m.Attempt("prices", "SUCCESS", 1)

	pushMetrics(context.Background(), config.MetricsConfig{PushJob: "finsync_sync"}, "fmp", m, logging.Discard())
	assert.Empty(t, paths)

	pushMetrics(context.Background(), config.MetricsConfig{PushURL: gw.URL, PushJob: "finsync_sync"}, "fmp", m, logging.Discard())
	assert.Equal(t, []string{"/metrics/job/finsync_sync/provider/fmp"}, paths)
}
