// Package audit records the lifecycle of every sync attempt and fetch session.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uptrace/bun"

	"github.com/mkoziy/finsync/internal/models"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("audit: session not found")

const maxMessageLen = 2000

// Log appends sync_logs rows and persists fetch sessions. Rows are never
// updated; a retry or a terminal outcome is a new row.
type Log struct {
	db  bun.IDB
	now func() time.Time
}

// Option customizes a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New builds a Log over db.
func New(db bun.IDB, opts ...Option) *Log {
	l := &Log{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attempt is the in-memory handle of one (session, entity, dataset) attempt.
type Attempt struct {
	SessionID string
	Entity    string
	Dataset   string
	TaskName  string
	StartedAt time.Time
}

// Start appends the STARTED row.
func (l *Log) Start(ctx context.Context, sessionID, entity, dataset, taskName string) (*Attempt, error) {
	a := &Attempt{
		SessionID: sessionID,
		Entity:    models.NormalizeTicker(entity),
		Dataset:   dataset,
		TaskName:  taskName,
		StartedAt: l.now().UTC(),
	}
	row := a.row(models.SyncStarted, 0, a.StartedAt)
	if err := l.insert(ctx, row); err != nil {
		return nil, err
	}
	return a, nil
}

// Retrying appends a RETRYING row for the given retry number.
func (l *Log) Retrying(ctx context.Context, a *Attempt, retry int, class, message string) error {
	row := a.row(models.SyncRetrying, retry, l.now().UTC())
	row.ErrorClass = optional(class)
	row.ErrorMessage = optional(truncate(message))
	return l.insert(ctx, row)
}

// Succeed appends the terminal SUCCESS row.
func (l *Log) Succeed(ctx context.Context, a *Attempt, attempts int, rows int64) error {
	row := a.terminal(models.SyncSuccess, attempts, l.now().UTC())
	row.RowsUpdated = rows
	return l.insert(ctx, row)
}

// Fail appends the terminal FAILED row.
func (l *Log) Fail(ctx context.Context, a *Attempt, attempts int, class, message string) error {
	row := a.terminal(models.SyncFailed, attempts, l.now().UTC())
	row.ErrorClass = optional(class)
	row.ErrorMessage = optional(truncate(message))
	return l.insert(ctx, row)
}

func (a *Attempt) row(status models.SyncStatus, attempt int, started time.Time) *models.SyncLog {
	return &models.SyncLog{
		SessionID: a.SessionID,
		Entity:    a.Entity,
		Dataset:   a.Dataset,
		TaskName:  a.TaskName,
		Status:    status,
		Attempt:   attempt,
		StartedAt: started,
	}
}

func (a *Attempt) terminal(status models.SyncStatus, attempts int, now time.Time) *models.SyncLog {
	row := a.row(status, attempts, a.StartedAt)
	row.CompletedAt = &now
	ms := now.Sub(a.StartedAt).Milliseconds()
	row.DurationMS = &ms
	return row
}

func (l *Log) insert(ctx context.Context, row *models.SyncLog) error {
	if _, err := l.db.NewInsert().Model(row).Returning("NULL").Exec(ctx); err != nil {
		return fmt.Errorf("append %s %s: %w", row.Status, row.TaskName, err)
	}
	return nil
}

// Recent returns the newest rows first.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.SyncLog, error) {
	return l.query(ctx, limit, nil)
}

// ForEntity returns the newest rows for one entity first.
func (l *Log) ForEntity(ctx context.Context, entity string, limit int) ([]models.SyncLog, error) {
	return l.query(ctx, limit, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("entity = ?", models.NormalizeTicker(entity))
	})
}

// ForSession returns a session's rows in insertion order.
func (l *Log) ForSession(ctx context.Context, sessionID string) ([]models.SyncLog, error) {
	var rows []models.SyncLog
	err := l.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("session logs %s: %w", sessionID, err)
	}
	return rows, nil
}

func (l *Log) query(ctx context.Context, limit int, apply func(*bun.SelectQuery) *bun.SelectQuery) ([]models.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.SyncLog
	q := l.db.NewSelect().Model(&rows).OrderExpr("id DESC").Limit(limit)
	if apply != nil {
		q = apply(q)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	return rows, nil
}

// Prune deletes sync_logs rows started before cutoff and returns how many
// were removed.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.NewDelete().
		Model((*models.SyncLog)(nil)).
		Where("started_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune sync logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sync logs: rows affected: %w", err)
	}
	return n, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// truncate keeps at most maxMessageLen bytes without splitting a rune.
func truncate(s string) string {
	if n := maxMessageLen; len(s) > n {
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return strings.ToValidUTF8(s, "")
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
