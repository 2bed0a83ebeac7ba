package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoziy/finsync/internal/audit"
	"github.com/mkoziy/finsync/internal/database"
	"github.com/mkoziy/finsync/internal/metrics"
	"github.com/mkoziy/finsync/internal/migrations"
	"github.com/mkoziy/finsync/internal/models"
	"github.com/mkoziy/finsync/internal/store"
)

type fixture struct {
	srv     *Server
	audit   *audit.Log
	session string
}

func day(d int) time.Time {
	return time.Date(2025, time.January, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewDB("file::memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.RunMigrations(ctx, db))

	st := store.New(db)
	var recs []models.Record
	for _, d := range []int{2, 3, 6, 7, 8} {
		recs = append(recs, &models.StockPrice{
			Ticker: "AAPL", Date: day(d), Open: 240, High: 245, Low: 238, Close: 240 + float64(d),
			Volume: 1000, Source: "FMP", FetchedAt: day(9),
		})
	}
	recs = append(recs,
		&models.IncomeStatement{Ticker: "AAPL", Date: time.Date(2024, 12, 28, 0, 0, 0, 0, time.UTC), Period: models.PeriodQ1, Revenue: 124.3e9, Source: "FMP", FetchedAt: day(9)},
		&models.IncomeStatement{Ticker: "AAPL", Date: time.Date(2024, 9, 28, 0, 0, 0, 0, time.UTC), Period: models.PeriodQ4, Revenue: 94.9e9, Source: "FMP", FetchedAt: day(9)},
		&models.IncomeStatement{Ticker: "AAPL", Date: time.Date(2024, 9, 28, 0, 0, 0, 0, time.UTC), Period: models.PeriodFY, Revenue: 391e9, Source: "FMP", FetchedAt: day(9)},
	)
	_, err = st.UpsertBatch(ctx, recs)
	require.NoError(t, err)

	au := audit.New(db)
	sess, err := au.OpenSession(ctx, audit.SessionInfo{Provider: "fmp", Datasets: []string{"prices"}, WindowStart: day(2), WindowEnd: day(8), Concurrency: 1, EntityCount: 1})
	require.NoError(t, err)
	a, err := au.Start(ctx, sess.SessionID, "AAPL", "prices", "prices_AAPL")
	require.NoError(t, err)
	require.NoError(t, au.Succeed(ctx, a, 1, 5))
	require.NoError(t, au.CloseSession(ctx, sess, audit.Outcome{Attempted: 1, Succeeded: 1, RowsWritten: 5}))

	srv := NewServer(Options{MetricsPath: "/metrics"}, st, au, metrics.New(), nil)
	return &fixture{srv: srv, audit: au, session: sess.SessionID}
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestPriceRange(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/v1/prices/aapl")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL", body["ticker"])
	assert.EqualValues(t, 5, body["count"])

	rec, body = f.get(t, "/v1/prices/AAPL?from=2025-01-03&to=2025-01-07")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["count"])
	first := body["data"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 243, first["close"])

	rec, body = f.get(t, "/v1/prices/AAPL?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestPricePoint(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/v1/prices/AAPL/2025-01-06")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 246, body["close"])

	rec, _ = f.get(t, "/v1/prices/AAPL/2025-01-04")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.get(t, "/v1/prices/AAPL/yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPeriodicDataset(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/v1/income/AAPL?period=q4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = f.get(t, "/v1/income/AAPL/2024-12-28?period=Q1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Q1", body["period"])

	rec, body = f.get(t, "/v1/income")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"AAPL"}, body["data"])
}

func TestAnnualDatasetReadsOnlyAnnualRows(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/v1/income/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	rec, body = f.get(t, "/v1/income_annual/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = f.get(t, "/v1/income/AAPL/2024-09-28")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Q4", body["period"])

	rec, body = f.get(t, "/v1/income_annual/AAPL/2024-09-28")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FY", body["period"])

	rec, _ = f.get(t, "/v1/consensus/AAPL")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/v1/prices/AAPL?from=soon",
		"/v1/prices/AAPL?from=2025-01-08&to=2025-01-02",
		"/v1/prices/AAPL?limit=-1",
	} {
		rec, _ := f.get(t, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	rec, _ := f.get(t, "/v1/dividends/AAPL")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncLogsAndSessions(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/v1/sync/logs?entity=aapl")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	rec, body = f.get(t, "/v1/sync/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = f.get(t, "/v1/sync/sessions/"+f.session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["logs"], 2)
	assert.Equal(t, "COMPLETED", body["session"].(map[string]any)["status"])

	rec, _ = f.get(t, "/v1/sync/sessions/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
