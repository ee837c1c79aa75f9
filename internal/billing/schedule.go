package billing

import (
	"time"

	"github.com/schoolledger/schoolledger/internal/calendar"
)

// BaseFee is the tuition charged per period before any transport component.
func BaseFee(s Student, settings AppSettings) float64 {
	if s.HasCustomFees {
		return s.CustomSchoolFee
	}
	return settings.StandardFee(s.ClassGroup)
}

// AdmissionMonthStart is the first day of the admission month. Periods starting
// earlier are pre-admission and never billed.
func AdmissionMonthStart(s Student) time.Time {
	return calendar.MonthStart(s.AdmissionDate)
}

// PeriodBillable reports whether period starts at or after the admission month.
func PeriodBillable(s Student, settings AppSettings, period int) bool {
	start := calendar.PeriodStart(s.Year(), period, settings.Cycle())
	if start.IsZero() {
		return false
	}
	return !start.Before(AdmissionMonthStart(s))
}

// TransportComponent is the transport amount a tuition period carries when
// transport is active. Waivers are not considered here.
func TransportComponent(s Student, settings AppSettings, period int) float64 {
	if !s.HasTransport || s.TransportFee <= 0 {
		return 0
	}
	if !PeriodBillable(s, settings, period) {
		return 0
	}
	return s.TransportFee
}

// transportCarried returns the transport amount actually embedded in p.AmountDue.
// Records built before activation carry none even though transport is on.
func transportCarried(p FeePayment, s Student, settings AppSettings) float64 {
	if p.IsSkipped {
		return 0
	}
	component := TransportComponent(s, settings, p.Period)
	if component <= 0 {
		return 0
	}
	if p.AmountDue-component < BaseFee(s, settings)-Tolerance {
		return 0
	}
	return component
}

// BuildFeeSchedule rebuilds the full-year fee periods for s. Paid amounts, paid
// dates, skips and waivers of existing periods are preserved by period number.
func BuildFeeSchedule(s Student, settings AppSettings) Student {
	out := s.Clone()
	cycle := settings.Cycle()
	year := s.Year()
	base := BaseFee(s, settings)

	existing := make(map[int]FeePayment, len(s.FeePayments))
	for _, p := range s.FeePayments {
		if _, dup := existing[p.Period]; !dup {
			existing[p.Period] = p
		}
	}

	count := calendar.PeriodCount(cycle)
	payments := make([]FeePayment, 0, count)
	for period := 1; period <= count; period++ {
		months := calendar.PeriodMonths(period, cycle)
		p := FeePayment{
			Period:  period,
			DueDate: calendar.DueDate(year, months[0], settings.PaymentDueDay()),
		}
		if prev, ok := existing[period]; ok {
			p.AmountPaid = prev.AmountPaid
			p.PaidDate = cloneTime(prev.PaidDate)
			p.IsTransportWaived = prev.IsTransportWaived
			p.IsSkipped = prev.IsSkipped
		}
		if p.IsSkipped {
			payments = append(payments, skippedFeePayment(p))
			continue
		}
		due := base
		if !p.IsTransportWaived {
			due += TransportComponent(s, settings, period)
		}
		p.AmountDue = round2(due)
		settleFee(&p)
		payments = append(payments, p)
	}

	out.FeePayments = payments
	out.TotalOwed = scheduleOwed(out, settings)
	return out
}

// scheduleOwed sums outstanding balances of billable periods across the whole year.
func scheduleOwed(s Student, settings AppSettings) float64 {
	var owed accumulator
	for _, p := range s.FeePayments {
		if !PeriodBillable(s, settings, p.Period) {
			continue
		}
		if p.OutstandingAmount > Tolerance {
			owed.Add(p.OutstandingAmount)
		}
	}
	return owed.Float()
}

// NeedsReschedule reports whether an edit changed any input of the fee schedule.
func NeedsReschedule(before, after Student) bool {
	return !calendar.Day(before.AdmissionDate).Equal(calendar.Day(after.AdmissionDate)) ||
		before.HasTransport != after.HasTransport ||
		before.TransportFee != after.TransportFee ||
		before.HasCustomFees != after.HasCustomFees ||
		before.CustomSchoolFee != after.CustomSchoolFee ||
		before.ClassGroup != after.ClassGroup ||
		before.AcademicYear != after.AcademicYear
}

func settleFee(p *FeePayment) {
	p.OutstandingAmount = round2(nonNegative(p.AmountDue - p.AmountPaid))
	p.Paid = settled(p.OutstandingAmount)
}

func skippedFeePayment(p FeePayment) FeePayment {
	p.IsSkipped = true
	p.AmountDue = 0
	p.AmountPaid = 0
	p.OutstandingAmount = 0
	p.Paid = true
	p.PaidDate = nil
	return p
}

func findFeePeriod(payments []FeePayment, period int) int {
	for i, p := range payments {
		if p.Period == period {
			return i
		}
	}
	return -1
}
