package calendar

import (
	"fmt"
	"sort"
	"sync"
	"time"
	_ "time/tzdata"
)

// Config describes an exchange session.
type Config struct {
	Exchange string `yaml:"exchange"`
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`
	Close    string `yaml:"close"`
}

// DefaultConfig returns the NYSE regular session.
func DefaultConfig() Config {
	return Config{
		Exchange: "NYSE",
		Timezone: "America/New_York",
		Open:     "09:30",
		Close:    "16:00",
	}
}

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Holiday is a full-day exchange closure. Date is the observed date at
// midnight UTC.
type Holiday struct {
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Observed bool      `json:"observed"`
}

// Calendar answers trading-day questions for one exchange.
type Calendar struct {
	exchange string
	loc      *time.Location
	open     time.Duration
	close    time.Duration
	clock    Clock

	mu    sync.Mutex
	years map[int]map[time.Time]Holiday
}

// Option customizes a Calendar.
type Option func(*Calendar)

// WithClock overrides the clock used by Now and the gap detector.
func WithClock(c Clock) Option {
	return func(cal *Calendar) { cal.clock = c }
}

// New builds a Calendar. Empty config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) (*Calendar, error) {
	def := DefaultConfig()
	if cfg.Exchange == "" {
		cfg.Exchange = def.Exchange
	}
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.Open == "" {
		cfg.Open = def.Open
	}
	if cfg.Close == "" {
		cfg.Close = def.Close
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	open, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("parse open time: %w", err)
	}
	closeAt, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("parse close time: %w", err)
	}
	if closeAt <= open {
		return nil, fmt.Errorf("close %s must be after open %s", cfg.Close, cfg.Open)
	}

	c := &Calendar{
		exchange: cfg.Exchange,
		loc:      loc,
		open:     open,
		close:    closeAt,
		clock:    SystemClock{},
		years:    make(map[int]map[time.Time]Holiday),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Exchange returns the exchange name.
func (c *Calendar) Exchange() string { return c.exchange }

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the current instant from the injected clock.
func (c *Calendar) Now() time.Time { return c.clock.Now() }

// Today returns the current exchange-local calendar date at midnight UTC.
func (c *Calendar) Today() time.Time {
	return c.localDate(c.clock.Now())
}

// IsTradingDay reports whether the calendar date of d is a full session day.
// The date is read from d's own year/month/day, not converted to exchange time.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	day := dateOf(d)
	if isWeekend(day.Weekday()) {
		return false
	}
	_, holiday := c.IsHoliday(day)
	return !holiday
}

// IsHoliday returns the holiday observed on d, if any.
func (c *Calendar) IsHoliday(d time.Time) (Holiday, bool) {
	day := dateOf(d)
	h, ok := c.yearHolidays(day.Year())[day]
	return h, ok
}

// Holidays lists the observed holidays of a year in date order.
func (c *Calendar) Holidays(year int) []Holiday {
	set := c.yearHolidays(year)
	out := make([]Holiday, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// IsMarketOpen reports whether the regular session is in progress at instant.
func (c *Calendar) IsMarketOpen(instant time.Time) bool {
	local := instant.In(c.loc)
	if !c.IsTradingDay(c.localDate(instant)) {
		return false
	}
	tod := sinceMidnight(local)
	return tod >= c.open && tod < c.close
}

// sessionPending reports whether instant falls on a trading day whose session
// has not closed yet.
func (c *Calendar) sessionPending(instant time.Time) bool {
	if !c.IsTradingDay(c.localDate(instant)) {
		return false
	}
	return sinceMidnight(instant.In(c.loc)) < c.close
}

// SessionClosed reports whether instant falls on a trading day after that
// day's close.
func (c *Calendar) SessionClosed(instant time.Time) bool {
	if !c.IsTradingDay(c.localDate(instant)) {
		return false
	}
	return sinceMidnight(instant.In(c.loc)) >= c.close
}

// LastCompletedTradingDay walks backward from the exchange-local date of
// reference to the nearest trading day. With excludeIfOpenToday, a reference
// date whose session is open or not yet closed is skipped so intraday data is
// never treated as final.
func (c *Calendar) LastCompletedTradingDay(reference time.Time, excludeIfOpenToday bool) time.Time {
	day := c.localDate(reference)
	if excludeIfOpenToday && c.sessionPending(reference) {
		day = day.AddDate(0, 0, -1)
	}
	for !c.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// NextTradingDay returns the first trading day strictly after d.
func (c *Calendar) NextTradingDay(d time.Time) time.Time {
	day := dateOf(d).AddDate(0, 0, 1)
	for !c.IsTradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// TradingDays enumerates trading days in [start, end], ascending.
func (c *Calendar) TradingDays(start, end time.Time) []time.Time {
	from, to := dateOf(start), dateOf(end)
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

func (c *Calendar) yearHolidays(year int) map[time.Time]Holiday {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.years[year]; ok {
		return set
	}
	set := make(map[time.Time]Holiday)
	for _, h := range nyseHolidays(year) {
		set[h.Date] = h
	}
	c.years[year] = set
	return set
}

func (c *Calendar) localDate(instant time.Time) time.Time {
	return dateOf(instant.In(c.loc))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return sinceMidnight(t), nil
}

func isWeekend(w time.Weekday) bool {
	return w == time.Saturday || w == time.Sunday
}
