package billing

import (
	"fmt"
	"math"

	"github.com/schoolledger/schoolledger/internal/calendar"
)

// ValidationReport lists inconsistencies found in a student's payment records.
type ValidationReport struct {
	StudentID string   `json:"studentId"`
	Valid     bool     `json:"valid"`
	Warnings  []string `json:"warnings"`
}

// ValidatePaymentCalculations inspects every period and transport month and
// reports discrepancies. Nothing is corrected.
func ValidatePaymentCalculations(s Student, settings AppSettings) ValidationReport {
	report := ValidationReport{StudentID: s.ID, Warnings: []string{}}
	warn := func(format string, args ...any) {
		report.Warnings = append(report.Warnings, fmt.Sprintf(format, args...))
	}

	cycle := settings.Cycle()
	if want := calendar.PeriodCount(cycle); len(s.FeePayments) != want {
		warn("expected %d fee periods for %s billing, found %d", want, cycle, len(s.FeePayments))
	}

	seen := make(map[int]bool, len(s.FeePayments))
	for _, p := range s.FeePayments {
		label := fmt.Sprintf("period %d", p.Period)
		if !calendar.ValidPeriod(p.Period, cycle) {
			warn("%s: outside the %s cycle", label, cycle)
		}
		if seen[p.Period] {
			warn("%s: duplicate record", label)
		}
		seen[p.Period] = true
		checkRecord(warn, label, p.AmountDue, p.AmountPaid, p.OutstandingAmount, p.Paid, p.IsSkipped)
	}

	seenMonths := make(map[int]bool, len(s.TransportPayments))
	for _, p := range s.TransportPayments {
		label := fmt.Sprintf("transport %s", calendar.MonthName(p.Month))
		if !calendar.IsTransportMonth(p.Month) {
			warn("%s: not a transport month", label)
		}
		if seenMonths[p.Month] {
			warn("%s: duplicate record", label)
		}
		seenMonths[p.Month] = true
		checkRecord(warn, label, p.AmountDue, p.AmountPaid, p.OutstandingAmount, p.Paid, p.IsSkipped)
	}
	if !s.HasTransport && len(s.TransportPayments) > 0 {
		warn("transport is inactive but %d transport months are recorded", len(s.TransportPayments))
	}

	report.Valid = len(report.Warnings) == 0
	return report
}

func checkRecord(warn func(string, ...any), label string, due, paid, outstanding float64, isPaid, skipped bool) {
	if skipped {
		if due != 0 || paid != 0 || outstanding != 0 || !isPaid {
			warn("%s: skipped but carries amounts (due %.2f, paid %.2f, outstanding %.2f)", label, due, paid, outstanding)
		}
		return
	}
	expected := nonNegative(due - paid)
	if math.Abs(outstanding-expected) > Tolerance {
		warn("%s: outstanding %.2f does not match due %.2f minus paid %.2f", label, outstanding, due, paid)
	}
	if paid > due+Tolerance {
		warn("%s: paid %.2f exceeds amount due %.2f", label, paid, due)
	}
	if isPaid != settled(outstanding) {
		warn("%s: paid flag %t disagrees with outstanding %.2f", label, isPaid, outstanding)
	}
	if due < 0 || paid < 0 || outstanding < 0 {
		warn("%s: negative amount", label)
	}
}
