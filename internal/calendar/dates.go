package calendar

import "time"

// TransportMonths are the calendar months in which transport is billed.
// April, August and December are end-of-term breaks.
var TransportMonths = []time.Month{
	time.January, time.February, time.March,
	time.May, time.June, time.July,
	time.September, time.October, time.November,
}

// IsTransportMonth reports whether transport is billed in month.
func IsTransportMonth(month int) bool {
	for _, m := range TransportMonths {
		if int(m) == month {
			return true
		}
	}
	return false
}

// MonthName returns the English month name, or "Unknown".
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return "Unknown"
	}
	return time.Month(month).String()
}

// Date builds a civil date at UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Day truncates t to its civil date, keeping the wall-clock calendar day.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return Date(t.Year(), t.Month(), t.Day())
}

// MonthStart returns the first day of the month containing t.
func MonthStart(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return Date(t.Year(), t.Month(), 1)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return Date(year, month+1, 0).Day()
}

// DueDate places day inside month, clamped to the month length.
// Non-positive days fall back to the first.
func DueDate(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return Date(year, month, day)
}

// OnOrBefore reports whether a is not after b.
func OnOrBefore(a, b time.Time) bool {
	return !a.After(b)
}
