package models

import (
	"strings"
	"time"
)

// Record is a canonical row keyed by a natural key.
type Record interface {
	NaturalKey() NaturalKey
	ConflictColumns() []string
	Validate() error
}

// NaturalKey identifies a record within its table. It is comparable and is
// used both as the dedup key of a batch and as the upsert conflict target.
type NaturalKey struct {
	Table  string
	Ticker string
	Date   string
	Period string
	Extra  string
}

func (k NaturalKey) String() string {
	parts := []string{k.Table, k.Ticker, k.Date}
	if k.Period != "" {
		parts = append(parts, k.Period)
	}
	if k.Extra != "" {
		parts = append(parts, k.Extra)
	}
	return strings.Join(parts, "/")
}

// Period labels a reporting period for statements and estimates.
type Period string

const (
	PeriodQ1      Period = "Q1"
	PeriodQ2      Period = "Q2"
	PeriodQ3      Period = "Q3"
	PeriodQ4      Period = "Q4"
	PeriodFY      Period = "FY"
	PeriodQuarter Period = "quarter"
)

// NormalizePeriod maps provider period labels onto the canonical set.
func NormalizePeriod(p string) Period {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "Q1":
		return PeriodQ1
	case "Q2":
		return PeriodQ2
	case "Q3":
		return PeriodQ3
	case "Q4":
		return PeriodQ4
	case "FY", "ANNUAL", "YEAR":
		return PeriodFY
	case "QUARTER", "Q":
		return PeriodQuarter
	case "":
		return ""
	default:
		return Period(strings.TrimSpace(p))
	}
}

// SyncStatus is the lifecycle state recorded in sync_logs.
type SyncStatus string

const (
	SyncStarted  SyncStatus = "STARTED"
	SyncRetrying SyncStatus = "RETRYING"
	SyncSuccess  SyncStatus = "SUCCESS"
	SyncFailed   SyncStatus = "FAILED"
)

// IsTerminal reports whether the status closes an attempt.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncSuccess || s == SyncFailed
}

// SessionStatus is the state of a fetch session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionAborted   SessionStatus = "ABORTED"
)

// DataSource tags record provenance.
type DataSource string

const (
	SourceFMP DataSource = "FMP"
)

// DateLayout is the canonical calendar-date layout.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a provider date such as "2025-01-02" or "2025-01-02T00:00:00Z"
// or "2025-01-02 16:00:00".
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// NormalizeTicker upper-cases and trims an entity identifier.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

func dateKey(t time.Time) string {
	return Day(t).Format(DateLayout)
}
