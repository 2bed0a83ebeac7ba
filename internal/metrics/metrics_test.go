package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoziy/finsync/internal/fetch"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveRequest("prices", fetch.Success, 200*time.Millisecond)
	m.ObserveRequest("prices", fetch.Success, time.Second)
	m.ObserveRequest("prices", fetch.ClientError, time.Second)
	m.Retry("prices", fetch.RateLimited)
	m.Attempt("prices", "SUCCESS", 5)
	m.Attempt("prices", "SUCCESS", 0)
	m.Dropped("prices", 2)
	m.DeadLetter("income")
	m.Run(true, time.Minute, time.Unix(1736460000, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("prices", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("prices", "client_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("prices", "rate_limited")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("prices", "SUCCESS")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.rowsWritten.WithLabelValues("prices")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsDropped.WithLabelValues("prices")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("aborted")))
	assert.Equal(t, 1736460000.0, testutil.ToFloat64(m.lastRun))

	m.EntityStarted()
	m.EntityStarted()
	m.EntityDone()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.DeadLetter("grades")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `finsync_dead_letters_total{dataset="grades"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("prices", fetch.Success, time.Second)
		m.Retry("prices", fetch.Transient)
		m.Attempt("prices", "FAILED", 0)
		m.Dropped("prices", 1)
		m.DeadLetter("prices")
		m.EntityStarted()
		m.EntityDone()
		m.Run(false, time.Second, time.Now())
	})
}

func TestPushReplacesJobGroup(t *testing.T) {
	var method, path string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := New()
	m.Attempt("prices", "SUCCESS", 3)
	require.NoError(t, m.Push(context.Background(), gw.URL, "finsync_sync", map[string]string{"provider": "fmp"}))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/finsync_sync/provider/fmp", path)
}

func TestPushErrorsAndNoop(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	assert.Error(t, New().Push(context.Background(), gw.URL, "finsync_sync", nil))
	assert.NoError(t, New().Push(context.Background(), "", "finsync_sync", nil))

	var m *Metrics
	assert.NoError(t, m.Push(context.Background(), gw.URL, "finsync_sync", nil))
}
