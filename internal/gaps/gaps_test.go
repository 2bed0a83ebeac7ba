package gaps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoziy/finsync/internal/calendar"
	"github.com/mkoziy/finsync/internal/models"
)

type fakeKeys struct {
	dates   []time.Time
	latest  time.Time
	err     error
	queried [2]time.Time
	periods []models.Period
	calls   int
}

func (f *fakeKeys) ExistingDates(_ context.Context, _, _ string, from, to time.Time) ([]time.Time, error) {
	f.calls++
	f.queried = [2]time.Time{from, to}
	var out []time.Time
	for _, d := range f.dates {
		if !d.Before(from) && !d.After(to) {
			out = append(out, d)
		}
	}
	return out, f.err
}

func (f *fakeKeys) LatestFetchedAt(_ context.Context, _, _ string, periods ...models.Period) (time.Time, error) {
	f.periods = periods
	return f.latest, f.err
}

func d(m time.Month, day int) time.Time {
	return time.Date(2025, m, day, 0, 0, 0, 0, time.UTC)
}

func detectorAt(t *testing.T, keys KeyReader, y int, m time.Month, day, hh, mm int) *Detector {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(y, m, day, hh, mm, 0, 0, ny)
	cal, err := calendar.New(calendar.DefaultConfig(), calendar.WithClock(calendar.ClockFunc(func() time.Time { return now })))
	require.NoError(t, err)
	return New(cal, keys)
}

func TestMissingPeriodsEmptyStore(t *testing.T) {
	keys := &fakeKeys{}
	det := detectorAt(t, keys, 2025, time.January, 9, 20, 0)

	got, err := det.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 2), d(time.January, 8), false)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d(time.January, 2), d(time.January, 3), d(time.January, 6), d(time.January, 7), d(time.January, 8)}, got)
}

func TestMissingPeriodsSubtractsExisting(t *testing.T) {
	keys := &fakeKeys{dates: []time.Time{d(time.January, 3), d(time.January, 7)}}
	det := detectorAt(t, keys, 2025, time.January, 9, 20, 0)

	got, err := det.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 2), d(time.January, 8), false)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d(time.January, 2), d(time.January, 6), d(time.January, 8)}, got)
}

func TestMissingPeriodsComplete(t *testing.T) {
	keys := &fakeKeys{dates: []time.Time{d(time.January, 2), d(time.January, 3), d(time.January, 6), d(time.January, 7), d(time.January, 8)}}
	det := detectorAt(t, keys, 2025, time.January, 9, 20, 0)

	got, err := det.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 2), d(time.January, 8), false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMissingPeriodsClipsOpenSession(t *testing.T) {
	keys := &fakeKeys{}
	det := detectorAt(t, keys, 2025, time.January, 8, 11, 0)

	got, err := det.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 6), d(time.January, 8), false)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d(time.January, 6), d(time.January, 7)}, got)
	assert.Equal(t, d(time.January, 7), keys.queried[1])
}

func TestMissingPeriodsForceToday(t *testing.T) {
	all := []time.Time{d(time.January, 6), d(time.January, 7), d(time.January, 8)}

	afterClose := detectorAt(t, &fakeKeys{dates: all}, 2025, time.January, 8, 17, 0)
	got, err := afterClose.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 6), d(time.January, 8), true)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d(time.January, 8)}, got)

	open := detectorAt(t, &fakeKeys{dates: all}, 2025, time.January, 8, 11, 0)
	got, err = open.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 6), d(time.January, 8), true)
	require.NoError(t, err)
	assert.Empty(t, got)

	beforeOpen := detectorAt(t, &fakeKeys{dates: all[:2]}, 2025, time.January, 8, 8, 0)
	got, err = beforeOpen.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 6), d(time.January, 8), true)
	require.NoError(t, err)
	assert.Empty(t, got)

	outside := detectorAt(t, &fakeKeys{dates: all}, 2025, time.January, 10, 17, 0)
	got, err = outside.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 6), d(time.January, 8), true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMissingPeriodsWeekendWindowSkipsStore(t *testing.T) {
	keys := &fakeKeys{}
	det := detectorAt(t, keys, 2025, time.January, 9, 20, 0)

	got, err := det.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 4), d(time.January, 5), false)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, keys.calls)

	got, err = det.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 8), d(time.January, 2), false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMissingPeriodsStoreError(t *testing.T) {
	det := detectorAt(t, &fakeKeys{err: errors.New("boom")}, 2025, time.January, 9, 20, 0)
	_, err := det.MissingPeriods(context.Background(), "stock_prices", "AAPL", d(time.January, 2), d(time.January, 8), false)
	assert.Error(t, err)
}

func TestNeedsRefresh(t *testing.T) {
	ctx := context.Background()
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2025, time.January, 9, 20, 0, 0, 0, ny)

	stale := detectorAt(t, &fakeKeys{latest: now.Add(-48 * time.Hour)}, 2025, time.January, 9, 20, 0)
	ok, err := stale.NeedsRefresh(ctx, "income_statements", "AAPL", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	fresh := detectorAt(t, &fakeKeys{latest: now.Add(-time.Hour)}, 2025, time.January, 9, 20, 0)
	ok, err = fresh.NeedsRefresh(ctx, "income_statements", "AAPL", 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	empty := detectorAt(t, &fakeKeys{}, 2025, time.January, 9, 20, 0)
	ok, err = empty.NeedsRefresh(ctx, "income_statements", "AAPL", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	keys := &fakeKeys{latest: now.Add(-time.Hour)}
	annual := detectorAt(t, keys, 2025, time.January, 9, 20, 0)
	_, err = annual.NeedsRefresh(ctx, "income_statements", "AAPL", 24*time.Hour, models.PeriodFY)
	require.NoError(t, err)
	assert.Equal(t, []models.Period{models.PeriodFY}, keys.periods)
}

func TestSpan(t *testing.T) {
	from, to, ok := Span([]time.Time{d(time.January, 2), d(time.January, 8)})
	require.True(t, ok)
	assert.Equal(t, d(time.January, 2), from)
	assert.Equal(t, d(time.January, 8), to)
	_, _, ok = Span(nil)
	assert.False(t, ok)
}
