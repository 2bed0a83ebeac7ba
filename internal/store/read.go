package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/mkoziy/finsync/internal/models"
)

// Filter narrows a range read. Zero bounds are open.
type Filter struct {
	From   time.Time
	To     time.Time
	Period models.Period
	// Periods applies when Period is empty.
	Periods []models.Period
	Limit   int
}

// ExistingDates returns the distinct stored dates for ticker in table within
// [from, to], ascending.
func (s *Store) ExistingDates(ctx context.Context, table, ticker string, from, to time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := s.db.NewSelect().
		TableExpr("?", bun.Ident(table)).
		ColumnExpr("DISTINCT date").
		Where("ticker = ?", models.NormalizeTicker(ticker)).
		Where("date >= ?", models.Day(from)).
		Where("date <= ?", models.Day(to)).
		OrderExpr("date ASC").
		Scan(ctx, &dates)
	if err != nil {
		return nil, fmt.Errorf("existing dates %s/%s: %w", table, ticker, err)
	}
	for i := range dates {
		dates[i] = models.Day(dates[i])
	}
	return dates, nil
}

// LatestFetchedAt returns the newest fetched_at for ticker in table, or the
// zero time when nothing is stored. Periods narrow the rows considered.
func (s *Store) LatestFetchedAt(ctx context.Context, table, ticker string, periods ...models.Period) (time.Time, error) {
	var latest []time.Time
	q := s.db.NewSelect().
		TableExpr("?", bun.Ident(table)).
		Column("fetched_at").
		Where("ticker = ?", models.NormalizeTicker(ticker)).
		OrderExpr("fetched_at DESC").
		Limit(1)
	if len(periods) > 0 {
		q = q.Where("period IN (?)", bun.In(periods))
	}
	err := q.Scan(ctx, &latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest fetched_at %s/%s: %w", table, ticker, err)
	}
	if len(latest) == 0 {
		return time.Time{}, nil
	}
	return latest[0], nil
}

// Tickers lists the distinct tickers stored in table.
func (s *Store) Tickers(ctx context.Context, table string) ([]string, error) {
	var tickers []string
	err := s.db.NewSelect().
		TableExpr("?", bun.Ident(table)).
		ColumnExpr("DISTINCT ticker").
		OrderExpr("ticker ASC").
		Scan(ctx, &tickers)
	if err != nil {
		return nil, fmt.Errorf("tickers %s: %w", table, err)
	}
	return tickers, nil
}

// PriceOn returns the daily price for ticker on date.
func (s *Store) PriceOn(ctx context.Context, ticker string, date time.Time) (*models.StockPrice, error) {
	return Point[models.StockPrice](ctx, s, ticker, date)
}

// PriceRange returns daily prices for ticker within [start, end], ascending.
func (s *Store) PriceRange(ctx context.Context, ticker string, start, end time.Time) ([]models.StockPrice, error) {
	return Range[models.StockPrice](ctx, s, ticker, Filter{From: start, To: end})
}

// Point returns the row of T for ticker on date. Periodic tables may narrow
// by period; the latest-fetched matching row for the date is returned.
func Point[T any](ctx context.Context, s *Store, ticker string, date time.Time, periods ...models.Period) (*T, error) {
	row := new(T)
	q := s.db.NewSelect().
		Model(row).
		Where("ticker = ?", models.NormalizeTicker(ticker)).
		Where("date = ?", models.Day(date)).
		OrderExpr("fetched_at DESC").
		Limit(1)
	if len(periods) > 0 {
		q = q.Where("period IN (?)", bun.In(periods))
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("point %T %s: %w", row, ticker, err)
	}
	return row, nil
}

// Range returns rows of T for ticker matching f, ordered by date.
func Range[T any](ctx context.Context, s *Store, ticker string, f Filter) ([]T, error) {
	var rows []T
	q := s.db.NewSelect().
		Model(&rows).
		Where("ticker = ?", models.NormalizeTicker(ticker)).
		OrderExpr("date ASC")
	if !f.From.IsZero() {
		q = q.Where("date >= ?", models.Day(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("date <= ?", models.Day(f.To))
	}
	switch {
	case f.Period != "":
		q = q.Where("period = ?", f.Period)
	case len(f.Periods) > 0:
		q = q.Where("period IN (?)", bun.In(f.Periods))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("range %T %s: %w", rows, ticker, err)
	}
	return rows, nil
}

// Count returns the number of rows in table, optionally for one ticker.
func (s *Store) Count(ctx context.Context, table, ticker string) (int, error) {
	q := s.db.NewSelect().TableExpr("?", bun.Ident(table))
	if ticker != "" {
		q = q.Where("ticker = ?", models.NormalizeTicker(ticker))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
