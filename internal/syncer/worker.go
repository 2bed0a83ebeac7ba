package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkoziy/finsync/internal/audit"
	"github.com/mkoziy/finsync/internal/deadletter"
	"github.com/mkoziy/finsync/internal/fetch"
	"github.com/mkoziy/finsync/internal/gaps"
	"github.com/mkoziy/finsync/internal/models"
	"github.com/mkoziy/finsync/internal/sources/fmp"
	"github.com/mkoziy/finsync/internal/transform"
)

// Error classes recorded for failures that never reached the provider
// classifier.
const (
	classCanceled  = "canceled"
	classGaps      = "gap_detection"
	classTransform = "transform"
	classStore     = "store"
)

type worker struct {
	o        *Orchestrator
	session  string
	plan     Plan
	compiled map[fmp.Dataset]*transform.Compiled
	tally    *tally
	abort    context.CancelCauseFunc
	log      *logrus.Entry
}

// entity syncs every planned dataset for one entity, in order. Datasets not
// started before cancellation are counted as skipped.
func (w *worker) entity(ctx context.Context, entity string) {
	w.o.deps.Metrics.EntityStarted()
	defer w.o.deps.Metrics.EntityDone()

	for _, ep := range w.plan.Endpoints {
		if ctx.Err() != nil {
			w.tally.add(func(s *Summary) { s.Skipped++ })
			continue
		}
		w.unit(ctx, entity, ep)
	}
}

func (w *worker) unit(ctx context.Context, entity string, ep fmp.Endpoint) {
	log := w.log.WithFields(logrus.Fields{"symbol": entity, "dataset": ep.Dataset})
	dataset := string(ep.Dataset)

	a, err := w.o.deps.Audit.Start(ctx, w.session, entity, dataset, ep.TaskName(entity))
	if err != nil {
		if ctx.Err() != nil {
			w.tally.add(func(s *Summary) { s.Skipped++ })
			return
		}
		log.WithError(err).Error("failed to record attempt start")
		w.tally.add(func(s *Summary) { s.Failed++ })
		return
	}
	w.tally.add(func(s *Summary) { s.Attempted++ })
	ctx = WithAttempt(ctx, a)

	from, to, upToDate, err := w.window(ctx, entity, ep)
	if err != nil {
		if ctx.Err() != nil {
			w.canceled(ctx, a, 0)
			return
		}
		w.fail(ctx, a, 0, classGaps, 0, err.Error(), false)
		return
	}
	if upToDate {
		log.Debug("up to date")
		w.succeed(ctx, a, 0, 0)
		return
	}

	res := w.o.deps.Fetcher.Fetch(ctx, ep.Request(entity, from, to))
	switch {
	case errors.Is(res.Err, context.Canceled) || (res.Err != nil && ctx.Err() != nil):
		w.canceled(ctx, a, res.Attempts)
		return
	case res.Class == fetch.Fatal:
		w.fail(ctx, a, res.Attempts, res.Class.String(), res.StatusCode, res.Message, true)
		w.abort(res.Err)
		return
	case res.Err != nil:
		w.fail(ctx, a, res.Attempts, res.Class.String(), res.StatusCode, res.Message, true)
		return
	}

	out, err := w.compiled[ep.Dataset].Apply(res.Body, ep.Provenance(entity, w.o.deps.Now()))
	if err != nil {
		w.fail(ctx, a, res.Attempts, classTransform, res.StatusCode, err.Error(), true)
		return
	}
	if ep.Daily {
		var outside int
		out.Records, outside = clip(out.Records, from, to)
		out.Dropped += outside
	}
	if out.Dropped > 0 {
		w.o.deps.Metrics.Dropped(dataset, out.Dropped)
		w.tally.add(func(s *Summary) { s.Dropped += out.Dropped })
		log.WithField("dropped", out.Dropped).Debug("dropped invalid records")
	}

	rows, err := w.o.deps.Store.UpsertBatch(ctx, out.Records)
	if err != nil {
		if ctx.Err() != nil {
			w.canceled(ctx, a, res.Attempts)
			return
		}
		w.fail(ctx, a, res.Attempts, classStore, 0, err.Error(), false)
		return
	}

	log.WithFields(logrus.Fields{
		"rows":     rows,
		"attempts": res.Attempts,
		"from":     from.Format(models.DateLayout),
		"to":       to.Format(models.DateLayout),
	}).Info("dataset synced")
	w.succeed(ctx, a, res.Attempts, rows)
}

// window returns the date range to request. Daily datasets request the span of
// missing trading days; periodic ones refetch the whole window once stale.
func (w *worker) window(ctx context.Context, entity string, ep fmp.Endpoint) (time.Time, time.Time, bool, error) {
	if ep.Daily {
		missing, err := w.o.deps.Gaps.MissingPeriods(ctx, ep.Table, entity, w.plan.WindowStart, w.plan.WindowEnd, w.o.cfg.ForceRefreshToday)
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
		from, to, ok := gaps.Span(missing)
		return from, to, !ok, nil
	}
	stale, err := w.o.deps.Gaps.NeedsRefresh(ctx, ep.Table, entity, w.o.cfg.PeriodicMaxAge, ep.StoredPeriods()...)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return w.plan.WindowStart, w.plan.WindowEnd, !stale, nil
}

func (w *worker) succeed(ctx context.Context, a *audit.Attempt, attempts int, rows int64) {
	if err := w.o.deps.Audit.Succeed(context.WithoutCancel(ctx), a, attempts, rows); err != nil {
		w.log.WithError(err).WithField("task", a.TaskName).Error("failed to record success")
	}
	w.o.deps.Metrics.Attempt(a.Dataset, string(models.SyncSuccess), rows)
	w.tally.add(func(s *Summary) {
		s.Succeeded++
		s.RowsWritten += rows
	})
}

func (w *worker) fail(ctx context.Context, a *audit.Attempt, attempts int, class string, code int, message string, deadLetter bool) {
	log := w.log.WithFields(logrus.Fields{"task": a.TaskName, "class": class})
	if err := w.o.deps.Audit.Fail(context.WithoutCancel(ctx), a, attempts, class, message); err != nil {
		log.WithError(err).Error("failed to record failure")
	}
	w.o.deps.Metrics.Attempt(a.Dataset, string(models.SyncFailed), 0)
	w.tally.add(func(s *Summary) { s.Failed++ })
	log.Warn(message)

	if !deadLetter {
		return
	}
	err := w.o.deps.DeadLetter.Record(deadletter.Entry{
		SessionID:    w.session,
		Symbol:       a.Entity,
		Dataset:      a.Dataset,
		ErrorCode:    code,
		ErrorClass:   class,
		ErrorMessage: message,
	})
	if err != nil {
		log.WithError(err).Error("failed to write dead-letter entry")
		return
	}
	w.o.deps.Metrics.DeadLetter(a.Dataset)
}

// canceled closes an attempt interrupted by run cancellation. It is audited
// as FAILED but counted as skipped and never dead-lettered.
func (w *worker) canceled(ctx context.Context, a *audit.Attempt, attempts int) {
	if err := w.o.deps.Audit.Fail(context.WithoutCancel(ctx), a, attempts, classCanceled, classCanceled); err != nil {
		w.log.WithError(err).WithField("task", a.TaskName).Error("failed to record cancellation")
	}
	w.o.deps.Metrics.Attempt(a.Dataset, string(models.SyncFailed), 0)
	w.tally.add(func(s *Summary) { s.Skipped++ })
}

// clip drops daily records dated outside [from, to]. Providers pad ranges on
// weekends and holidays.
func clip(records []models.Record, from, to time.Time) ([]models.Record, int) {
	kept := records[:0]
	for _, r := range records {
		d, err := models.ParseDay(r.NaturalKey().Date)
		if err != nil || transform.Within(d, from, to) {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}
