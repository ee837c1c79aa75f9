// Package calendar maps civil dates onto billing periods.
package calendar

import (
	"strconv"
	"time"
)

// BillingCycle selects how a school year is divided into billing periods.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "MONTHLY"
	CycleTermly  BillingCycle = "TERMLY"
)

const monthsPerTerm = 4

// Valid reports whether the cycle is one of the supported values.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleTermly
}

// Normalize falls back to the monthly cycle for empty or unknown values.
func (c BillingCycle) Normalize() BillingCycle {
	if c == CycleTermly {
		return CycleTermly
	}
	return CycleMonthly
}

// PeriodCount returns the number of billing periods in one year.
func PeriodCount(cycle BillingCycle) int {
	if cycle.Normalize() == CycleTermly {
		return 3
	}
	return 12
}

// ValidPeriod reports whether period exists in the cycle.
func ValidPeriod(period int, cycle BillingCycle) bool {
	return period >= 1 && period <= PeriodCount(cycle)
}

// PeriodOf returns the billing period containing date.
func PeriodOf(date time.Time, cycle BillingCycle) int {
	month := int(date.Month())
	if cycle.Normalize() == CycleTermly {
		return (month-1)/monthsPerTerm + 1
	}
	return month
}

// PeriodStart returns the first day of a period. Unknown periods yield the zero time.
func PeriodStart(year, period int, cycle BillingCycle) time.Time {
	if !ValidPeriod(period, cycle) {
		return time.Time{}
	}
	return Date(year, firstMonth(period, cycle), 1)
}

// PeriodEnd returns the last day of a period. Unknown periods yield the zero time.
func PeriodEnd(year, period int, cycle BillingCycle) time.Time {
	if !ValidPeriod(period, cycle) {
		return time.Time{}
	}
	months := PeriodMonths(period, cycle)
	last := months[len(months)-1]
	return Date(year, last+1, 0)
}

// PeriodMonths lists the calendar months covered by a period.
func PeriodMonths(period int, cycle BillingCycle) []time.Month {
	if !ValidPeriod(period, cycle) {
		return nil
	}
	if cycle.Normalize() == CycleMonthly {
		return []time.Month{time.Month(period)}
	}
	first := firstMonth(period, cycle)
	months := make([]time.Month, 0, monthsPerTerm)
	for i := 0; i < monthsPerTerm; i++ {
		months = append(months, first+time.Month(i))
	}
	return months
}

// PeriodName returns a display label such as "March" or "Term 2".
func PeriodName(period int, cycle BillingCycle) string {
	if !ValidPeriod(period, cycle) {
		return "Unknown"
	}
	if cycle.Normalize() == CycleTermly {
		return "Term " + strconv.Itoa(period)
	}
	return time.Month(period).String()
}

func firstMonth(period int, cycle BillingCycle) time.Month {
	if cycle.Normalize() == CycleTermly {
		return time.Month((period-1)*monthsPerTerm + 1)
	}
	return time.Month(period)
}
