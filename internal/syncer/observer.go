package syncer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mkoziy/finsync/internal/audit"
	"github.com/mkoziy/finsync/internal/fetch"
	"github.com/mkoziy/finsync/internal/logging"
	"github.com/mkoziy/finsync/internal/metrics"
)

type attemptKey struct{}

// WithAttempt attaches the in-flight audit attempt to ctx so retry decisions
// made deep inside the fetch client can be recorded against it.
func WithAttempt(ctx context.Context, a *audit.Attempt) context.Context {
	return context.WithValue(ctx, attemptKey{}, a)
}

// AttemptFrom returns the attempt attached by WithAttempt.
func AttemptFrom(ctx context.Context) (*audit.Attempt, bool) {
	a, ok := ctx.Value(attemptKey{}).(*audit.Attempt)
	return a, ok && a != nil
}

// RetryAuditor appends RETRYING rows.
type RetryAuditor interface {
	Retrying(ctx context.Context, a *audit.Attempt, retry int, class, message string) error
}

// RetryObserver implements fetch.Observer by counting retries and appending
// a RETRYING row for the attempt carried in the request context.
type RetryObserver struct {
	audit   RetryAuditor
	metrics *metrics.Metrics
	log     *logrus.Entry
}

var _ fetch.Observer = (*RetryObserver)(nil)

func NewRetryObserver(a RetryAuditor, m *metrics.Metrics, log *logrus.Entry) *RetryObserver {
	if log == nil {
		log = logging.Discard()
	}
	return &RetryObserver{audit: a, metrics: m, log: log}
}

func (r *RetryObserver) Retrying(ctx context.Context, req fetch.Request, ev fetch.RetryEvent) {
	r.metrics.Retry(req.Dataset, ev.Class)

	a, ok := AttemptFrom(ctx)
	if !ok || r.audit == nil {
		return
	}
	if err := r.audit.Retrying(context.WithoutCancel(ctx), a, ev.Attempt, ev.Class.String(), ev.Message); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"symbol":  req.Entity,
			"dataset": req.Dataset,
		}).Warn("failed to record retry")
	}
}
