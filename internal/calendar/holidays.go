package calendar

import "time"

// nyseHolidays returns the full-day closures observed in year.
func nyseHolidays(year int) []Holiday {
	var hs []Holiday
	add := func(name string, d time.Time, observed bool) {
		if d.Year() == year {
			hs = append(hs, Holiday{Name: name, Date: d, Observed: observed})
		}
	}

	// A Saturday New Year's Day is not observed on the preceding Friday.
	newYear := date(year, time.January, 1)
	switch newYear.Weekday() {
	case time.Saturday:
	case time.Sunday:
		add("New Year's Day", newYear.AddDate(0, 0, 1), true)
	default:
		add("New Year's Day", newYear, false)
	}

	add("Martin Luther King Jr. Day", nthWeekday(year, time.January, time.Monday, 3), false)
	add("Washington's Birthday", nthWeekday(year, time.February, time.Monday, 3), false)
	add("Good Friday", Easter(year).AddDate(0, 0, -2), false)
	add("Memorial Day", lastWeekday(year, time.May, time.Monday), false)
	if year >= 2022 {
		d, obs := observe(date(year, time.June, 19))
		add("Juneteenth", d, obs)
	}
	d, obs := observe(date(year, time.July, 4))
	add("Independence Day", d, obs)
	add("Labor Day", nthWeekday(year, time.September, time.Monday, 1), false)
	add("Thanksgiving Day", nthWeekday(year, time.November, time.Thursday, 4), false)
	d, obs = observe(date(year, time.December, 25))
	add("Christmas Day", d, obs)

	return hs
}

// observe shifts a weekend holiday: Saturday to Friday, Sunday to Monday.
func observe(d time.Time) (time.Time, bool) {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1), true
	case time.Sunday:
		return d.AddDate(0, 0, 1), true
	}
	return d, false
}

// Easter returns Easter Sunday of year (Anonymous Gregorian algorithm).
func Easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	first := date(year, month, 1)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	last := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
