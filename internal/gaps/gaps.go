// Package gaps decides which periods of a dataset still need fetching.
package gaps

import (
	"context"
	"fmt"
	"time"

	"github.com/mkoziy/finsync/internal/calendar"
	"github.com/mkoziy/finsync/internal/models"
)

// KeyReader exposes the stored natural-key dates the detector compares against.
type KeyReader interface {
	ExistingDates(ctx context.Context, table, ticker string, from, to time.Time) ([]time.Time, error)
	LatestFetchedAt(ctx context.Context, table, ticker string, periods ...models.Period) (time.Time, error)
}

// Detector computes gap sets. It never writes.
type Detector struct {
	cal  *calendar.Calendar
	keys KeyReader
}

// New builds a Detector.
func New(cal *calendar.Calendar, keys KeyReader) *Detector {
	return &Detector{cal: cal, keys: keys}
}

// MissingPeriods returns the trading days in [start, end] that have no stored
// record in table for entity, ascending. The window end is clipped to the last
// completed session so intraday data is never treated as final. With
// forceRefreshToday, today is returned when it is a trading day inside the
// window and its session has closed, even if a record already exists.
func (d *Detector) MissingPeriods(ctx context.Context, table, entity string, start, end time.Time, forceRefreshToday bool) ([]time.Time, error) {
	start, end = models.Day(start), models.Day(end)
	if end.Before(start) {
		return nil, nil
	}

	now := d.cal.Now()
	clipped := end
	if last := d.cal.LastCompletedTradingDay(now, true); last.Before(clipped) {
		clipped = last
	}

	var missing []time.Time
	if !clipped.Before(start) {
		expected := d.cal.TradingDays(start, clipped)
		if len(expected) > 0 {
			existing, err := d.keys.ExistingDates(ctx, table, entity, start, clipped)
			if err != nil {
				return nil, fmt.Errorf("read existing %s dates for %s: %w", table, entity, err)
			}
			have := make(map[time.Time]bool, len(existing))
			for _, e := range existing {
				have[models.Day(e)] = true
			}
			for _, day := range expected {
				if !have[day] {
					missing = append(missing, day)
				}
			}
		}
	}

	if forceRefreshToday {
		today := d.cal.Today()
		inWindow := !today.Before(start) && !today.After(end)
		if inWindow && d.cal.SessionClosed(now) && !contains(missing, today) {
			missing = append(missing, today)
		}
	}
	return missing, nil
}

// NeedsRefresh reports whether periodic data for entity is absent or older
// than maxAge. Periods, when given, restrict the check to rows with those
// labels so annual and quarterly rows in one table age separately.
func (d *Detector) NeedsRefresh(ctx context.Context, table, entity string, maxAge time.Duration, periods ...models.Period) (bool, error) {
	latest, err := d.keys.LatestFetchedAt(ctx, table, entity, periods...)
	if err != nil {
		return false, fmt.Errorf("read latest %s fetch for %s: %w", table, entity, err)
	}
	if latest.IsZero() {
		return true, nil
	}
	return d.cal.Now().Sub(latest) > maxAge, nil
}

// Span returns the first and last date of a gap set.
func Span(days []time.Time) (time.Time, time.Time, bool) {
	if len(days) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return days[0], days[len(days)-1], true
}

func contains(days []time.Time, d time.Time) bool {
	for _, x := range days {
		if x.Equal(d) {
			return true
		}
	}
	return false
}
