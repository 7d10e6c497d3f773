package treasury

import "time"

// DateOf truncates t to its calendar date in UTC.
// Ledger dates are calendar days; all comparisons go through this.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in UTC
func Today() time.Time {
	return DateOf(time.Now().UTC())
}

// DaysBetween returns the whole calendar days from a to b (negative if b is before a)
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// dayNumber maps a date to a sortable day index
func dayNumber(t time.Time) int64 {
	return DateOf(t).Unix() / 86400
}
