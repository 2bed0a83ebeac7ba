package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	TableSyncLogs      = "sync_logs"
	TableFetchSessions = "fetch_sessions"
)

// SyncLog is one append-only lifecycle row for a (session, entity, dataset) attempt.
type SyncLog struct {
	bun.BaseModel `bun:"table:sync_logs,alias:sl"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	SessionID    string     `bun:"session_id,notnull" json:"session_id"`
	Entity       string     `bun:"entity,notnull" json:"entity"`
	Dataset      string     `bun:"dataset,notnull" json:"dataset"`
	TaskName     string     `bun:"task_name,notnull" json:"task_name"`
	Status       SyncStatus `bun:"status,notnull" json:"status"`
	Attempt      int        `bun:"attempt,notnull,default:0" json:"attempt"`
	ErrorClass   *string    `bun:"error_class" json:"error_class,omitempty"`
	RowsUpdated  int64      `bun:"rows_updated,notnull,default:0" json:"rows_updated"`
	ErrorMessage *string    `bun:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time  `bun:"started_at,notnull" json:"started_at"`
	CompletedAt  *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	DurationMS   *int64     `bun:"duration_ms" json:"duration_ms,omitempty"`
}

// FetchSession tracks one orchestrator run and its outcome counts.
type FetchSession struct {
	bun.BaseModel `bun:"table:fetch_sessions,alias:fs"`

	ID          int64         `bun:"id,pk,autoincrement" json:"id"`
	SessionID   string        `bun:"session_id,unique,notnull" json:"session_id"`
	Provider    string        `bun:"provider,notnull" json:"provider"`
	Datasets    string        `bun:"datasets,notnull" json:"datasets"`
	WindowStart time.Time     `bun:"window_start,type:date,notnull" json:"window_start"`
	WindowEnd   time.Time     `bun:"window_end,type:date,notnull" json:"window_end"`
	Concurrency int           `bun:"concurrency,notnull" json:"concurrency"`
	EntityCount int           `bun:"entity_count,notnull,default:0" json:"entity_count"`
	Status      SessionStatus `bun:"status,notnull" json:"status"`
	Attempted   int           `bun:"attempted,notnull,default:0" json:"attempted"`
	Succeeded   int           `bun:"succeeded,notnull,default:0" json:"succeeded"`
	Failed      int           `bun:"failed,notnull,default:0" json:"failed"`
	Skipped     int           `bun:"skipped,notnull,default:0" json:"skipped"`
	RowsWritten int64         `bun:"rows_written,notnull,default:0" json:"rows_written"`
	AbortReason *string       `bun:"abort_reason" json:"abort_reason,omitempty"`
	StartedAt   time.Time     `bun:"started_at,notnull" json:"started_at"`
	ClosedAt    *time.Time    `bun:"closed_at" json:"closed_at,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (s *FetchSession) Open() bool {
	return s.ClosedAt == nil
}
