package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkoziy/finsync/internal/models"
)

// SessionInfo describes a run being opened.
type SessionInfo struct {
	Provider    string
	Datasets    []string
	WindowStart time.Time
	WindowEnd   time.Time
	Concurrency int
	EntityCount int
}

// Outcome carries the closing counts of a session.
type Outcome struct {
	Attempted   int
	Succeeded   int
	Failed      int
	Skipped     int
	RowsWritten int64
	Aborted     bool
	AbortReason string
}

// OpenSession persists a RUNNING session with a fresh UUID.
func (l *Log) OpenSession(ctx context.Context, info SessionInfo) (*models.FetchSession, error) {
	s := &models.FetchSession{
		SessionID:   uuid.NewString(),
		Provider:    info.Provider,
		Datasets:    strings.Join(info.Datasets, ","),
		WindowStart: models.Day(info.WindowStart),
		WindowEnd:   models.Day(info.WindowEnd),
		Concurrency: info.Concurrency,
		EntityCount: info.EntityCount,
		Status:      models.SessionRunning,
		StartedAt:   l.now().UTC(),
	}
	if _, err := l.db.NewInsert().Model(s).Returning("NULL").Exec(ctx); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return s, nil
}

// CloseSession writes the outcome and marks the session COMPLETED or ABORTED.
func (l *Log) CloseSession(ctx context.Context, s *models.FetchSession, out Outcome) error {
	now := l.now().UTC()
	s.Attempted = out.Attempted
	s.Succeeded = out.Succeeded
	s.Failed = out.Failed
	s.Skipped = out.Skipped
	s.RowsWritten = out.RowsWritten
	s.ClosedAt = &now
	s.Status = models.SessionCompleted
	s.AbortReason = nil
	if out.Aborted {
		s.Status = models.SessionAborted
		s.AbortReason = optional(truncate(out.AbortReason))
	}

	_, err := l.db.NewUpdate().
		Model(s).
		Column("status", "attempted", "succeeded", "failed", "skipped", "rows_written", "abort_reason", "closed_at").
		Where("session_id = ?", s.SessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("close session %s: %w", s.SessionID, err)
	}
	return nil
}

// SessionSummary loads one session.
func (l *Log) SessionSummary(ctx context.Context, sessionID string) (*models.FetchSession, error) {
	s := new(models.FetchSession)
	err := l.db.NewSelect().Model(s).Where("session_id = ?", sessionID).Scan(ctx)
	if err != nil {
		if notFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return s, nil
}

// RecentSessions returns the newest sessions first.
func (l *Log) RecentSessions(ctx context.Context, limit int) ([]models.FetchSession, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.FetchSession
	err := l.db.NewSelect().Model(&out).OrderExpr("id DESC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	return out, nil
}
