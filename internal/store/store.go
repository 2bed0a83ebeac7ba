// Package store persists canonical records with idempotent bulk upserts and
// serves the read API used by gap detection and collaborators.
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/mkoziy/finsync/internal/models"
)

// DefaultBatchSize is the number of rows per INSERT statement and transaction.
const DefaultBatchSize = 500

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("store: record not found")

// Store writes and reads canonical records.
type Store struct {
	db         *bun.DB
	batchSize  int
	newBackoff func() backoff.BackOff
	log        logrus.FieldLogger
	now        func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithBatchSize sets rows per chunk.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBackoff overrides the retry policy for transient database errors.
func WithBackoff(f func() backoff.BackOff) Option {
	return func(s *Store) { s.newBackoff = f }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the timestamp source for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a Store over db.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		batchSize: DefaultBatchSize,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		s.log = l
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *bun.DB { return s.db }

// UpsertBatch writes records so that each natural key has exactly one row.
// Duplicates within the batch collapse to the last occurrence. Rows are
// grouped by table and written in chunks, each chunk in its own transaction.
// It returns the number of rows inserted or updated.
func (s *Store) UpsertBatch(ctx context.Context, records []models.Record) (int64, error) {
	groups := groupByTable(Dedup(records))
	now := s.now().UTC()

	var written int64
	for _, g := range groups {
		for start := 0; start < len(g.records); start += s.batchSize {
			end := min(start+s.batchSize, len(g.records))
			chunk := g.records[start:end]
			stamp(chunk, now)

			n, err := s.upsertChunk(ctx, chunk)
			if err != nil {
				return written, fmt.Errorf("upsert %s rows %d-%d: %w", g.table, start, end, err)
			}
			written += n
		}
	}
	return written, nil
}

func (s *Store) upsertChunk(ctx context.Context, chunk []models.Record) (int64, error) {
	var affected int64
	op := func() error {
		affected = 0
		err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			q := upsertQuery(tx, chunk)
			res, err := q.Exec(ctx)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				affected = n
			} else {
				affected = int64(len(chunk))
			}
			return nil
		})
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.WithError(err).WithField("wait", wait).Warn("transient database error, retrying chunk")
	}
	err := backoff.RetryNotify(op, backoff.WithContext(s.newBackoff(), ctx), notify)
	return affected, err
}

// upsertQuery builds one multi-row INSERT ... ON CONFLICT DO UPDATE for chunk.
// All records in chunk share a concrete type.
func upsertQuery(db bun.IDB, chunk []models.Record) *bun.InsertQuery {
	first := chunk[0]
	slice := reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(first)), 0, len(chunk))
	for _, r := range chunk {
		slice = reflect.Append(slice, reflect.ValueOf(r))
	}
	ptr := reflect.New(slice.Type())
	ptr.Elem().Set(slice)

	q := db.NewInsert().
		Model(ptr.Interface()).
		On(fmt.Sprintf("CONFLICT (%s) DO UPDATE", strings.Join(first.ConflictColumns(), ", "))).
		Returning("NULL")
	for _, col := range models.UpdateColumns(first) {
		q = q.Set("? = EXCLUDED.?", bun.Ident(col), bun.Ident(col))
	}
	return q
}

// Dedup keeps one record per natural key: the last occurrence wins and takes
// the position of the first.
func Dedup(records []models.Record) []models.Record {
	idx := make(map[models.NaturalKey]int, len(records))
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		k := r.NaturalKey()
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

type tableGroup struct {
	table   string
	records []models.Record
}

// groupByTable splits records by table and concrete type, keeping first-seen order.
func groupByTable(records []models.Record) []tableGroup {
	var groups []tableGroup
	pos := make(map[string]int)
	for _, r := range records {
		key := r.NaturalKey().Table + "|" + reflect.TypeOf(r).String()
		i, ok := pos[key]
		if !ok {
			i = len(groups)
			pos[key] = i
			groups = append(groups, tableGroup{table: r.NaturalKey().Table})
		}
		groups[i].records = append(groups[i].records, r)
	}
	return groups
}

// stamp sets timestamps so inserts never rely on dialect defaults.
func stamp(records []models.Record, now time.Time) {
	tv := reflect.ValueOf(now)
	for _, r := range records {
		if f, err := models.FieldByColumn(r, "updated_at"); err == nil {
			f.Set(tv)
		}
		if f, err := models.FieldByColumn(r, "created_at"); err == nil && f.Interface().(time.Time).IsZero() {
			f.Set(tv)
		}
	}
}

// IsTransient reports database errors worth retrying: lock contention,
// serialization failures and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"database is locked",
		"sqlite_busy",
		"database table is locked",
		"could not serialize access",
		"deadlock detected",
		"connection reset",
		"broken pipe",
		"bad connection",
		"40001",
		"40p01",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
