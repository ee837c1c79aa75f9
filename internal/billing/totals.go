package billing

import (
	"time"

	"github.com/schoolledger/schoolledger/internal/calendar"
)

// StudentTotals compares what was expected up to a date with what was paid.
type StudentTotals struct {
	TotalPaid      float64 `json:"totalPaid"`
	ExpectedToDate float64 `json:"expectedToDate"`
	// TotalOwed is clamped on the aggregate, so an overpaid period offsets an
	// underpaid one.
	TotalOwed float64 `json:"totalOwed"`
	AnnualFee float64 `json:"annualFee"`

	TuitionExpectedToDate   float64 `json:"tuitionExpectedToDate"`
	TransportPaid           float64 `json:"transportPaid"`
	TransportExpectedToDate float64 `json:"transportExpectedToDate"`
	TransportOwed           float64 `json:"transportOwed"`
	AnnualTransportFee      float64 `json:"annualTransportFee"`
}

// PeriodOutstanding is one unpaid tuition period.
type PeriodOutstanding struct {
	Period            int     `json:"period"`
	PeriodName        string  `json:"periodName"`
	OutstandingAmount float64 `json:"outstandingAmount"`
}

// OutstandingBreakdown is the balance accrued since enrollment, split by fee type.
type OutstandingBreakdown struct {
	Tuition   float64             `json:"tuition"`
	Transport float64             `json:"transport"`
	Total     float64             `json:"total"`
	Periods   []PeriodOutstanding `json:"periods"`
}

// CalculateStudentTotals accumulates amount due and paid for every non-skipped,
// billable period that has started by asOf.
func CalculateStudentTotals(s Student, settings AppSettings, asOf time.Time) StudentTotals {
	today := calendar.Day(asOf)
	cycle := settings.Cycle()
	year := s.Year()
	admission := AdmissionMonthStart(s)

	var paid, expected, tuition, annual accumulator
	for _, p := range s.FeePayments {
		start := calendar.PeriodStart(year, p.Period, cycle)
		if start.IsZero() || start.Before(admission) || p.IsSkipped {
			continue
		}
		annual.Add(p.AmountDue)
		if start.After(today) {
			continue
		}
		expected.Add(p.AmountDue)
		paid.Add(p.AmountPaid)
		tuition.Add(TuitionComponent(p, s, settings))
	}

	var tPaid, tExpected, tAnnual accumulator
	activation := transportStart(s)
	for _, p := range s.TransportPayments {
		start := calendar.Date(year, time.Month(p.Month), 1)
		if p.IsSkipped || start.Before(activation) || start.Before(admission) {
			continue
		}
		tAnnual.Add(p.AmountDue)
		if start.After(today) {
			continue
		}
		tExpected.Add(p.AmountDue)
		tPaid.Add(p.AmountPaid)
	}

	totals := StudentTotals{
		TotalPaid:               paid.Float(),
		ExpectedToDate:          expected.Float(),
		AnnualFee:               annual.Float(),
		TuitionExpectedToDate:   tuition.Float(),
		TransportPaid:           tPaid.Float(),
		TransportExpectedToDate: tExpected.Float(),
		AnnualTransportFee:      tAnnual.Float(),
		TransportOwed:           TransportOutstandingToDate(s, asOf),
	}
	totals.TotalOwed = round2(nonNegative(totals.ExpectedToDate - totals.TotalPaid))
	return totals
}

// RefreshTotals stores the current totalPaid and totalOwed on a copy of s.
func RefreshTotals(s Student, settings AppSettings, asOf time.Time) Student {
	totals := CalculateStudentTotals(s, settings, asOf)
	s.TotalPaid = totals.TotalPaid
	s.TotalOwed = totals.TotalOwed
	return s
}

// CalculateOutstandingFromEnrollment sums what is still owed for every period
// between the admission month and asOf. Tuition and transport are reported
// separately; the tuition side never includes the transport component.
func CalculateOutstandingFromEnrollment(s Student, settings AppSettings, asOf time.Time) OutstandingBreakdown {
	today := calendar.Day(asOf)
	cycle := settings.Cycle()
	year := s.Year()
	admission := AdmissionMonthStart(s)

	out := OutstandingBreakdown{Periods: []PeriodOutstanding{}}
	var tuition accumulator
	for _, p := range s.FeePayments {
		start := calendar.PeriodStart(year, p.Period, cycle)
		if start.IsZero() || start.Before(admission) || start.After(today) || p.IsSkipped {
			continue
		}
		owed := round2(nonNegative(TuitionComponent(p, s, settings) - p.AmountPaid))
		if owed <= Tolerance {
			continue
		}
		tuition.Add(owed)
		out.Periods = append(out.Periods, PeriodOutstanding{
			Period:            p.Period,
			PeriodName:        calendar.PeriodName(p.Period, cycle),
			OutstandingAmount: owed,
		})
	}
	out.Tuition = tuition.Float()
	out.Transport = TransportOutstandingToDate(s, asOf)
	out.Total = round2(out.Tuition + out.Transport)
	return out
}

// TuitionComponent is the tuition-only part of a period's amount due.
func TuitionComponent(p FeePayment, s Student, settings AppSettings) float64 {
	return round2(nonNegative(p.AmountDue - transportCarried(p, s, settings)))
}

// SchoolSummary folds the totals of many students.
type SchoolSummary struct {
	Students       int     `json:"students"`
	TotalPaid      float64 `json:"totalPaid"`
	ExpectedToDate float64 `json:"expectedToDate"`
	TotalOwed      float64 `json:"totalOwed"`
	TransportPaid  float64 `json:"transportPaid"`
	TransportOwed  float64 `json:"transportOwed"`
}

// SchoolTotals aggregates student totals. Students with malformed payment
// collections contribute zero rather than failing the whole summary.
func SchoolTotals(students []Student, settings AppSettings, asOf time.Time) SchoolSummary {
	var paid, expected, owed, tPaid, tOwed accumulator
	for _, s := range students {
		t := CalculateStudentTotals(s, settings, asOf)
		paid.Add(t.TotalPaid)
		expected.Add(t.ExpectedToDate)
		owed.Add(t.TotalOwed)
		tPaid.Add(t.TransportPaid)
		tOwed.Add(t.TransportOwed)
	}
	return SchoolSummary{
		Students:       len(students),
		TotalPaid:      paid.Float(),
		ExpectedToDate: expected.Float(),
		TotalOwed:      owed.Float(),
		TransportPaid:  tPaid.Float(),
		TransportOwed:  tOwed.Float(),
	}
}
