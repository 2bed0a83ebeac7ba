// Package metrics exposes sync engine counters on a private Prometheus registry.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/mkoziy/finsync/internal/fetch"
)

const namespace = "finsync"

// Metrics holds every collector. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	rowsWritten     *prometheus.CounterVec
	recordsDropped  *prometheus.CounterVec
	deadLetters     *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	lastRun         prometheus.Gauge
	inFlight        prometheus.Gauge
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_requests_total",
			Help: "Provider fetches by dataset and terminal class.",
		}, []string{"dataset", "class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "provider_request_duration_seconds",
			Help:    "Wall time of a fetch including retries and waits.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"dataset"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_retries_total",
			Help: "Retries by dataset and class (rate_limited or transient).",
		}, []string{"dataset", "class"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_attempts_total",
			Help: "Terminal sync attempts by dataset and status.",
		}, []string{"dataset", "status"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_written_total",
			Help: "Rows inserted or updated by dataset.",
		}, []string{"dataset"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_dropped_total",
			Help: "Provider rows dropped by validation or filtering.",
		}, []string{"dataset"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dead_letters_total",
			Help: "Dead-lettered failures by dataset.",
		}, []string{"dataset"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Sync runs by outcome (completed or aborted).",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help:    "Duration of sync runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "entities_in_flight",
			Help: "Entities currently being synchronized.",
		}),
	}
	reg.MustRegister(
		m.requests, m.requestDuration, m.retries, m.attempts, m.rowsWritten,
		m.recordsDropped, m.deadLetters, m.runs, m.runDuration, m.lastRun, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Push replaces the job's metric group on a Pushgateway with the current
// registry. A sync process exits after its run, so nothing is left to scrape.
func (m *Metrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if m == nil || url == "" {
		return nil
	}
	p := push.New(url, job).Gatherer(m.registry)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

var _ fetch.Recorder = (*Metrics)(nil)

// ObserveRequest implements fetch.Recorder.
func (m *Metrics) ObserveRequest(dataset string, class fetch.Class, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(dataset, class.String()).Inc()
	m.requestDuration.WithLabelValues(dataset).Observe(d.Seconds())
}

// Retry counts one retry decision.
func (m *Metrics) Retry(dataset string, class fetch.Class) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(dataset, class.String()).Inc()
}

// Attempt counts a terminal attempt and the rows it wrote.
func (m *Metrics) Attempt(dataset, status string, rows int64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(dataset, status).Inc()
	if rows > 0 {
		m.rowsWritten.WithLabelValues(dataset).Add(float64(rows))
	}
}

// Dropped counts rows the transformer discarded.
func (m *Metrics) Dropped(dataset string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsDropped.WithLabelValues(dataset).Add(float64(n))
}

func (m *Metrics) DeadLetter(dataset string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(dataset).Inc()
}

// EntityStarted and EntityDone track the in-flight gauge.
func (m *Metrics) EntityStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) EntityDone() {
	if m != nil {
		m.inFlight.Dec()
	}
}

// Run records a finished run.
func (m *Metrics) Run(aborted bool, d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	outcome := "completed"
	if aborted {
		outcome = "aborted"
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
	m.lastRun.Set(float64(finished.Unix()))
}
