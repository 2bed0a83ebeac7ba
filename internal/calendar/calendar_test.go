package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNYSE(t *testing.T) *Calendar {
	t.Helper()
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	return c
}

func ny(t *testing.T, c *Calendar, y int, m time.Month, d, hh, mm int) time.Time {
	t.Helper()
	return time.Date(y, m, d, hh, mm, 0, 0, c.Location())
}

func TestHolidays2025(t *testing.T) {
	c := newNYSE(t)
	want := []string{
		"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26",
		"2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
	}
	var got []string
	for _, h := range c.Holidays(2025) {
		got = append(got, h.Date.Format("2006-01-02"))
	}
	assert.Equal(t, want, got)

	assert.False(t, c.IsTradingDay(date(2025, time.July, 4)))
	assert.False(t, c.IsTradingDay(date(2025, time.December, 25)))
	h, ok := c.IsHoliday(date(2025, time.April, 18))
	require.True(t, ok)
	assert.Equal(t, "Good Friday", h.Name)
}

func TestWeekendsNeverTrading(t *testing.T) {
	c := newNYSE(t)
	for d := date(2025, time.January, 1); d.Year() == 2025; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			assert.False(t, c.IsTradingDay(d), d.Format("2006-01-02"))
		}
	}
	for _, d := range c.TradingDays(date(2025, time.January, 1), date(2025, time.December, 31)) {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
	}
}

func TestGoodFriday(t *testing.T) {
	assert.Equal(t, date(2025, time.April, 20), Easter(2025))
	assert.Equal(t, date(2026, time.April, 5), Easter(2026))
	assert.Equal(t, date(2024, time.March, 31), Easter(2024))

	c := newNYSE(t)
	_, ok := c.IsHoliday(date(2026, time.April, 3))
	assert.True(t, ok)
	_, ok = c.IsHoliday(date(2024, time.March, 29))
	assert.True(t, ok)
}

func TestObservance(t *testing.T) {
	c := newNYSE(t)

	// 2026-07-04 is a Saturday.
	assert.False(t, c.IsTradingDay(date(2026, time.July, 3)))
	// 2022-12-25 is a Sunday.
	assert.False(t, c.IsTradingDay(date(2022, time.December, 26)))
	// 2023-01-01 is a Sunday.
	assert.False(t, c.IsTradingDay(date(2023, time.January, 2)))
	// 2022-01-01 is a Saturday and is not observed on Dec 31.
	assert.True(t, c.IsTradingDay(date(2021, time.December, 31)))
	for _, h := range c.Holidays(2022) {
		assert.NotEqual(t, "New Year's Day", h.Name)
	}
	// 2027-06-19 is a Saturday.
	assert.False(t, c.IsTradingDay(date(2027, time.June, 18)))
}

func TestJuneteenthStartsIn2022(t *testing.T) {
	c := newNYSE(t)
	assert.True(t, c.IsTradingDay(date(2021, time.June, 18)))
	assert.False(t, c.IsTradingDay(date(2022, time.June, 20)))
}

func TestIsMarketOpen(t *testing.T) {
	c := newNYSE(t)
	assert.True(t, c.IsMarketOpen(ny(t, c, 2025, time.January, 6, 10, 0)))
	assert.True(t, c.IsMarketOpen(ny(t, c, 2025, time.January, 6, 9, 30)))
	assert.False(t, c.IsMarketOpen(ny(t, c, 2025, time.January, 6, 9, 29)))
	assert.False(t, c.IsMarketOpen(ny(t, c, 2025, time.January, 6, 16, 0)))
	assert.False(t, c.IsMarketOpen(ny(t, c, 2025, time.January, 4, 11, 0)))
	assert.False(t, c.IsMarketOpen(ny(t, c, 2025, time.July, 4, 11, 0)))

	// 15:00 UTC on a January Monday is 10:00 in New York.
	assert.True(t, c.IsMarketOpen(time.Date(2025, time.January, 6, 15, 0, 0, 0, time.UTC)))
}

func TestSessionClosed(t *testing.T) {
	c := newNYSE(t)
	assert.False(t, c.SessionClosed(ny(t, c, 2025, time.January, 6, 8, 0)))
	assert.False(t, c.SessionClosed(ny(t, c, 2025, time.January, 6, 15, 59)))
	assert.True(t, c.SessionClosed(ny(t, c, 2025, time.January, 6, 16, 0)))
	assert.False(t, c.SessionClosed(ny(t, c, 2025, time.January, 4, 18, 0)))
}

func TestLastCompletedTradingDay(t *testing.T) {
	c := newNYSE(t)

	intraday := ny(t, c, 2025, time.January, 6, 11, 0)
	assert.Equal(t, date(2025, time.January, 3), c.LastCompletedTradingDay(intraday, true))
	assert.Equal(t, date(2025, time.January, 6), c.LastCompletedTradingDay(intraday, false))

	preOpen := ny(t, c, 2025, time.January, 6, 8, 0)
	assert.Equal(t, date(2025, time.January, 3), c.LastCompletedTradingDay(preOpen, true))

	afterClose := ny(t, c, 2025, time.January, 6, 17, 0)
	assert.Equal(t, date(2025, time.January, 6), c.LastCompletedTradingDay(afterClose, true))

	sunday := ny(t, c, 2025, time.January, 5, 12, 0)
	assert.Equal(t, date(2025, time.January, 3), c.LastCompletedTradingDay(sunday, true))

	afterHoliday := ny(t, c, 2025, time.July, 5, 12, 0)
	assert.Equal(t, date(2025, time.July, 3), c.LastCompletedTradingDay(afterHoliday, true))
}

func TestTradingDays(t *testing.T) {
	c := newNYSE(t)
	days := c.TradingDays(date(2025, time.January, 2), date(2025, time.January, 8))
	require.Len(t, days, 5)
	assert.Equal(t, date(2025, time.January, 2), days[0])
	assert.Equal(t, date(2025, time.January, 6), days[2])
	assert.Equal(t, date(2025, time.January, 8), days[4])

	assert.Empty(t, c.TradingDays(date(2025, time.January, 8), date(2025, time.January, 2)))
	assert.Equal(t, date(2025, time.July, 7), c.NextTradingDay(date(2025, time.July, 3)))
}

func TestClockInjection(t *testing.T) {
	fixed := time.Date(2025, time.January, 6, 20, 0, 0, 0, time.UTC)
	c, err := New(Config{}, WithClock(ClockFunc(func() time.Time { return fixed })))
	require.NoError(t, err)
	assert.Equal(t, fixed, c.Now())
	assert.Equal(t, date(2025, time.January, 6), c.Today())
	assert.Equal(t, "NYSE", c.Exchange())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
	_, err = New(Config{Open: "16:00", Close: "09:30"})
	assert.Error(t, err)
	_, err = New(Config{Open: "9am"})
	assert.Error(t, err)
}
