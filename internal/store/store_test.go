package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoziy/finsync/internal/database"
	"github.com/mkoziy/finsync/internal/migrations"
	"github.com/mkoziy/finsync/internal/models"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	db, err := database.NewDB("file::memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.RunMigrations(context.Background(), db))
	return New(db, opts...)
}

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func price(ticker string, d time.Time, close float64) *models.StockPrice {
	return &models.StockPrice{
		Ticker: ticker, Date: d,
		Open: close, High: close + 1, Low: close - 1, Close: close,
		Volume: 1000, Source: "FMP", FetchedAt: d.Add(22 * time.Hour),
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var batch []models.Record
	for _, d := range []int{2, 3, 6, 7, 8} {
		batch = append(batch, price("AAPL", day(time.January, d), 240))
	}

	n, err := s.UpsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	first, err := s.PriceOn(ctx, "AAPL", day(time.January, 2))
	require.NoError(t, err)

	batch[0] = price("AAPL", day(time.January, 2), 250)
	_, err = s.UpsertBatch(ctx, batch)
	require.NoError(t, err)

	count, err := s.Count(ctx, models.TableStockPrices, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	got, err := s.PriceOn(ctx, "aapl", day(time.January, 2))
	require.NoError(t, err)
	assert.Equal(t, 250.0, got.Close)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt))
}

func TestUpsertDedupLastWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	batch := []models.Record{
		price("AAPL", day(time.January, 2), 1),
		price("MSFT", day(time.January, 2), 2),
		price("AAPL", day(time.January, 2), 3),
	}
	deduped := Dedup(batch)
	require.Len(t, deduped, 2)
	assert.Equal(t, 3.0, deduped[0].(*models.StockPrice).Close)
	assert.Equal(t, "MSFT", deduped[1].(*models.StockPrice).Ticker)

	n, err := s.UpsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.PriceOn(ctx, "AAPL", day(time.January, 2))
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Close)
}

func TestUpsertChunksAndMixedTables(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithBatchSize(2))

	eps := 2.4
	batch := []models.Record{
		price("AAPL", day(time.January, 2), 1),
		&models.IncomeStatement{Ticker: "AAPL", Date: day(time.March, 29), Period: models.PeriodQ2, Revenue: 95e9, Source: "FMP", FetchedAt: day(time.April, 1)},
		price("AAPL", day(time.January, 3), 1),
		price("AAPL", day(time.January, 6), 1),
		&models.EarningsSurprise{Ticker: "AAPL", Date: day(time.January, 30), EPSActual: &eps, Source: "FMP", FetchedAt: day(time.February, 1)},
		&models.IncomeStatement{Ticker: "AAPL", Date: day(time.March, 29), Period: models.PeriodFY, Revenue: 391e9, Source: "FMP", FetchedAt: day(time.April, 1)},
	}
	n, err := s.UpsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	stmts, err := Range[models.IncomeStatement](ctx, s, "AAPL", Filter{Period: models.PeriodFY})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, 391e9, stmts[0].Revenue)

	q2, err := Point[models.IncomeStatement](ctx, s, "AAPL", day(time.March, 29), models.PeriodQ2)
	require.NoError(t, err)
	assert.Equal(t, 95e9, q2.Revenue)

	sur, err := Point[models.EarningsSurprise](ctx, s, "AAPL", day(time.January, 30))
	require.NoError(t, err)
	require.NotNil(t, sur.EPSActual)
	assert.Nil(t, sur.EPSEstimated)
}

func TestUpsertCanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.UpsertBatch(ctx, []models.Record{price("AAPL", day(time.January, 2), 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	n, err := s.UpsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadHelpers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertBatch(ctx, []models.Record{
		price("AAPL", day(time.January, 2), 1),
		price("AAPL", day(time.January, 6), 2),
		price("AAPL", day(time.January, 8), 3),
		price("MSFT", day(time.January, 3), 4),
	})
	require.NoError(t, err)

	dates, err := s.ExistingDates(ctx, models.TableStockPrices, "AAPL", day(time.January, 3), day(time.January, 8))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(time.January, 6), day(time.January, 8)}, dates)

	latest, err := s.LatestFetchedAt(ctx, models.TableStockPrices, "AAPL")
	require.NoError(t, err)
	assert.True(t, latest.Equal(day(time.January, 8).Add(22*time.Hour)), latest)

	none, err := s.LatestFetchedAt(ctx, models.TableStockPrices, "NVDA")
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	tickers, err := s.Tickers(ctx, models.TableStockPrices)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, tickers)

	rng, err := s.PriceRange(ctx, "AAPL", day(time.January, 1), day(time.January, 7))
	require.NoError(t, err)
	require.Len(t, rng, 2)
	assert.Equal(t, 2.0, rng[1].Close)

	_, err = s.PriceOn(ctx, "AAPL", day(time.January, 3))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnnualAndQuarterlyRowsStayApart(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fye := day(time.September, 27)
	quarterFetch := day(time.January, 10)
	annualFetch := day(time.March, 2)
	f := func(v float64) *float64 { return &v }
	_, err := s.UpsertBatch(ctx, []models.Record{
		&models.AnalystEstimate{Ticker: "AAPL", Date: fye, Period: models.PeriodQuarter, EPSAvg: f(1.8), Source: "FMP", FetchedAt: quarterFetch},
		&models.AnalystEstimate{Ticker: "AAPL", Date: fye, Period: models.PeriodFY, EPSAvg: f(7.4), Source: "FMP", FetchedAt: annualFetch},
	})
	require.NoError(t, err)

	n, err := s.Count(ctx, models.TableAnalystEstimates, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	quarterly := []models.Period{models.PeriodQ1, models.PeriodQ2, models.PeriodQ3, models.PeriodQ4, models.PeriodQuarter}
	latest, err := s.LatestFetchedAt(ctx, models.TableAnalystEstimates, "AAPL", quarterly...)
	require.NoError(t, err)
	assert.True(t, latest.Equal(quarterFetch), latest)
	latest, err = s.LatestFetchedAt(ctx, models.TableAnalystEstimates, "AAPL", models.PeriodFY)
	require.NoError(t, err)
	assert.True(t, latest.Equal(annualFetch), latest)

	rows, err := Range[models.AnalystEstimate](ctx, s, "AAPL", Filter{Periods: []models.Period{models.PeriodFY}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 7.4, *rows[0].EPSAvg)
}

func TestConsensusSnapshotPerDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	n := func(v int64) *int64 { return &v }

	asOf := day(time.February, 3)
	_, err := s.UpsertBatch(ctx, []models.Record{
		&models.AnalystConsensus{Ticker: "AAPL", Date: asOf, Buy: n(28), Consensus: "Buy", Source: "FMP", FetchedAt: asOf.Add(time.Hour)},
	})
	require.NoError(t, err)
	_, err = s.UpsertBatch(ctx, []models.Record{
		&models.AnalystConsensus{Ticker: "AAPL", Date: asOf, Buy: n(29), Consensus: "Buy", Source: "FMP", FetchedAt: asOf.Add(5 * time.Hour)},
		&models.AnalystConsensus{Ticker: "AAPL", Date: asOf.AddDate(0, 0, 1), Buy: n(30), Consensus: "Strong Buy", Source: "FMP", FetchedAt: asOf.Add(25 * time.Hour)},
	})
	require.NoError(t, err)

	rows, err := Range[models.AnalystConsensus](ctx, s, "AAPL", Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(29), *rows[0].Buy)
	assert.Equal(t, "Strong Buy", rows[1].Consensus)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsTransient(fmt.Errorf("exec: %w", errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)"))))
	assert.True(t, IsTransient(errors.New("driver: bad connection")))
	assert.False(t, IsTransient(errors.New("UNIQUE constraint failed")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}
