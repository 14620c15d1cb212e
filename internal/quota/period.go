package quota

import "time"

// Period rollover happens on calendar boundaries in a reference timezone:
// daily counters reset when the calendar day of last_reset differs from the
// calendar day of now, monthly counters when the month differs. Resets zero
// counters and advance last_reset; usage history is never rewritten.

// DayStart returns midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// MonthStart returns midnight of the first day of t's calendar month in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// DailyStale reports whether the daily counters reset at lastReset belong to
// an earlier calendar day than now.
func DailyStale(lastReset, now time.Time, loc *time.Location) bool {
	return lastReset.Before(DayStart(now, loc))
}

// MonthlyStale reports whether the monthly counters reset at lastReset belong
// to an earlier calendar month than now.
func MonthlyStale(lastReset, now time.Time, loc *time.Location) bool {
	return lastReset.Before(MonthStart(now, loc))
}
