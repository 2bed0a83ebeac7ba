// Package syncer runs incremental synchronization across many entities.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mkoziy/finsync/internal/audit"
	"github.com/mkoziy/finsync/internal/deadletter"
	"github.com/mkoziy/finsync/internal/fetch"
	"github.com/mkoziy/finsync/internal/logging"
	"github.com/mkoziy/finsync/internal/metrics"
	"github.com/mkoziy/finsync/internal/models"
	"github.com/mkoziy/finsync/internal/notify"
	"github.com/mkoziy/finsync/internal/sources/fmp"
	"github.com/mkoziy/finsync/internal/transform"
)

// ErrRunAborted is wrapped by Run when a fatal provider response or a
// cancelled context stopped the run early.
var ErrRunAborted = errors.New("sync run aborted")

const (
	DefaultChunkSize      = 50
	DefaultConcurrency    = 10
	DefaultPeriodicMaxAge = 7 * 24 * time.Hour
)

// Fetcher performs provider requests.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) fetch.Result
}

// GapFinder decides what still needs fetching.
type GapFinder interface {
	MissingPeriods(ctx context.Context, table, entity string, start, end time.Time, forceRefreshToday bool) ([]time.Time, error)
	NeedsRefresh(ctx context.Context, table, entity string, maxAge time.Duration, periods ...models.Period) (bool, error)
}

// Writer persists canonical records.
type Writer interface {
	UpsertBatch(ctx context.Context, records []models.Record) (int64, error)
}

// Auditor records attempts and sessions.
type Auditor interface {
	Start(ctx context.Context, sessionID, entity, dataset, taskName string) (*audit.Attempt, error)
	Retrying(ctx context.Context, a *audit.Attempt, retry int, class, message string) error
	Succeed(ctx context.Context, a *audit.Attempt, attempts int, rows int64) error
	Fail(ctx context.Context, a *audit.Attempt, attempts int, class, message string) error
	OpenSession(ctx context.Context, info audit.SessionInfo) (*models.FetchSession, error)
	CloseSession(ctx context.Context, s *models.FetchSession, out audit.Outcome) error
}

// Deps are the collaborators of an Orchestrator. Fetcher, Gaps, Store and
// Audit are required.
type Deps struct {
	Fetcher    Fetcher
	Gaps       GapFinder
	Store      Writer
	Audit      Auditor
	DeadLetter deadletter.Sink
	Metrics    *metrics.Metrics
	Notifier   notify.Notifier
	Logger     *logrus.Entry
	Now        func() time.Time
}

// Config tunes a run.
type Config struct {
	Provider          string
	Concurrency       int
	ChunkSize         int
	PeriodicMaxAge    time.Duration
	ForceRefreshToday bool
}

// Plan is what one run synchronizes.
type Plan struct {
	Entities    []string
	Endpoints   []fmp.Endpoint
	WindowStart time.Time
	WindowEnd   time.Time
}

// Summary is the outcome of a run. Counts are per entity-dataset unit.
type Summary struct {
	SessionID      string        `json:"session_id"`
	Entities       int           `json:"entities"`
	Attempted      int           `json:"attempted"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	RowsWritten    int64         `json:"rows_written"`
	Dropped        int           `json:"dropped"`
	Duration       time.Duration `json:"duration"`
	Aborted        bool          `json:"aborted"`
	AbortReason    string        `json:"abort_reason,omitempty"`
	DeadLetterPath string        `json:"dead_letter_path,omitempty"`
}

// Orchestrator drives gap detection, fetch, transform and upsert for every
// entity under a bounded worker pool.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *logrus.Entry
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Fetcher == nil || deps.Gaps == nil || deps.Store == nil || deps.Audit == nil {
		return nil, errors.New("syncer: fetcher, gaps, store and audit are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.PeriodicMaxAge <= 0 {
		cfg.PeriodicMaxAge = DefaultPeriodicMaxAge
	}
	if cfg.Provider == "" {
		cfg.Provider = fmp.Provider
	}
	if deps.DeadLetter == nil {
		deps.DeadLetter = deadletter.Discard{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{deps: deps, cfg: cfg, log: logging.WithComponent(deps.Logger, "syncer")}, nil
}

// tally accumulates unit outcomes from concurrent workers.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func (t *tally) add(fn func(s *Summary)) {
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

// Run synchronizes plan. Entities are dispatched in chunks; within a chunk at
// most Concurrency entities run at once. A fatal provider response cancels
// the run: nothing further is dispatched and in-flight work is cancelled. The
// summary is always returned; the error wraps ErrRunAborted when the run
// stopped early.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) (Summary, error) {
	start := o.deps.Now()
	entities := uniqueEntities(plan.Entities)
	datasets := fmp.Names(plan.Endpoints)
	if len(plan.Endpoints) == 0 {
		return Summary{}, errors.New("no datasets selected")
	}
	compiled := make(map[fmp.Dataset]*transform.Compiled, len(plan.Endpoints))
	for _, ep := range plan.Endpoints {
		c, err := transform.Compile(ep.Schema)
		if err != nil {
			return Summary{}, fmt.Errorf("dataset %s: %w", ep.Dataset, err)
		}
		compiled[ep.Dataset] = c
	}

	session, err := o.deps.Audit.OpenSession(ctx, audit.SessionInfo{
		Provider:    o.cfg.Provider,
		Datasets:    datasets,
		WindowStart: plan.WindowStart,
		WindowEnd:   plan.WindowEnd,
		Concurrency: o.cfg.Concurrency,
		EntityCount: len(entities),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("open session: %w", err)
	}

	log := o.log.WithField("session_id", session.SessionID)
	log.WithFields(logrus.Fields{
		"entities":    len(entities),
		"datasets":    datasets,
		"window":      fmt.Sprintf("%s..%s", plan.WindowStart.Format(models.DateLayout), plan.WindowEnd.Format(models.DateLayout)),
		"concurrency": o.cfg.Concurrency,
	}).Info("sync run started")

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	t := &tally{s: Summary{
		SessionID:      session.SessionID,
		Entities:       len(entities),
		DeadLetterPath: o.deps.DeadLetter.Path(),
	}}
	w := &worker{o: o, session: session.SessionID, plan: plan, compiled: compiled, tally: t, abort: cancel, log: log}

	dispatched := 0
chunks:
	for chunkStart := 0; chunkStart < len(entities); chunkStart += o.cfg.ChunkSize {
		chunk := entities[chunkStart:min(chunkStart+o.cfg.ChunkSize, len(entities))]
		g, gctx := errgroup.WithContext(runCtx)
		g.SetLimit(o.cfg.Concurrency)
		for _, entity := range chunk {
			if runCtx.Err() != nil {
				_ = g.Wait()
				break chunks
			}
			dispatched++
			g.Go(func() error {
				w.entity(gctx, entity)
				return nil
			})
		}
		_ = g.Wait()
		log.WithFields(logrus.Fields{"done": chunkStart + len(chunk), "total": len(entities)}).Debug("chunk finished")
	}

	if undispatched := len(entities) - dispatched; undispatched > 0 {
		t.add(func(s *Summary) { s.Skipped += undispatched * len(plan.Endpoints) })
	}

	summary := t.s
	summary.Duration = o.deps.Now().Sub(start)
	var runErr error
	if cause := context.Cause(runCtx); cause != nil {
		summary.Aborted = true
		summary.AbortReason = cause.Error()
		runErr = fmt.Errorf("%w: %w", ErrRunAborted, cause)
	}

	o.finish(context.WithoutCancel(ctx), session, summary, datasets, log)
	return summary, runErr
}

func (o *Orchestrator) finish(ctx context.Context, session *models.FetchSession, summary Summary, datasets []string, log *logrus.Entry) {
	err := o.deps.Audit.CloseSession(ctx, session, audit.Outcome{
		Attempted:   summary.Attempted,
		Succeeded:   summary.Succeeded,
		Failed:      summary.Failed,
		Skipped:     summary.Skipped,
		RowsWritten: summary.RowsWritten,
		Aborted:     summary.Aborted,
		AbortReason: summary.AbortReason,
	})
	if err != nil {
		log.WithError(err).Error("failed to close session")
	}

	o.deps.Metrics.Run(summary.Aborted, summary.Duration, o.deps.Now())

	ev := notify.Event{
		Type:           notify.EventRunCompleted,
		SessionID:      summary.SessionID,
		Provider:       o.cfg.Provider,
		Datasets:       datasets,
		Entities:       summary.Entities,
		Attempted:      summary.Attempted,
		Succeeded:      summary.Succeeded,
		Failed:         summary.Failed,
		Skipped:        summary.Skipped,
		RowsWritten:    summary.RowsWritten,
		Aborted:        summary.Aborted,
		AbortReason:    summary.AbortReason,
		DeadLetterPath: summary.DeadLetterPath,
		StartedAt:      session.StartedAt,
		DurationMS:     summary.Duration.Milliseconds(),
	}
	if summary.Aborted {
		ev.Type = notify.EventRunAborted
	}
	if err := o.deps.Notifier.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("failed to publish run event")
	}

	fields := logrus.Fields{
		"attempted":    summary.Attempted,
		"succeeded":    summary.Succeeded,
		"failed":       summary.Failed,
		"skipped":      summary.Skipped,
		"rows_written": summary.RowsWritten,
		"dropped":      summary.Dropped,
		"duration":     summary.Duration.Round(time.Millisecond).String(),
		"dead_letter":  summary.DeadLetterPath,
	}
	if summary.Aborted {
		log.WithFields(fields).WithField("reason", summary.AbortReason).Error("sync run aborted")
		return
	}
	log.WithFields(fields).Info("sync run finished")
}

func uniqueEntities(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = models.NormalizeTicker(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
