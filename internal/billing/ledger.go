package billing

import (
	"time"

	"github.com/schoolledger/schoolledger/internal/calendar"
)

// RecordPayment sets the amount paid for a tuition period. The amount replaces
// any previous figure for that period. On error s is returned unchanged.
func RecordPayment(s Student, settings AppSettings, period int, amount float64, asOf time.Time) (Student, error) {
	if !ValidAmount(amount) {
		return s, ErrInvalidAmount
	}
	idx := findFeePeriod(s.FeePayments, period)
	if idx < 0 {
		return s, ErrPeriodNotFound
	}
	if s.FeePayments[idx].IsSkipped {
		return s, ErrPeriodSkipped
	}

	out := s.Clone()
	p := &out.FeePayments[idx]
	p.AmountDue = actualAmountDue(*p, out, settings)
	p.AmountPaid = round2(amount)
	settleFee(p)
	p.PaidDate = paidDate(amount, asOf)
	return RefreshTotals(out, settings, asOf), nil
}

// actualAmountDue strips a transport component still embedded in a waived period.
func actualAmountDue(p FeePayment, s Student, settings AppSettings) float64 {
	if !p.IsTransportWaived {
		return p.AmountDue
	}
	return round2(nonNegative(p.AmountDue - transportCarried(p, s, settings)))
}

// ToggleSkip exempts a period from any obligation, or restores it.
func ToggleSkip(s Student, settings AppSettings, period int, skip bool, asOf time.Time) (Student, error) {
	idx := findFeePeriod(s.FeePayments, period)
	if idx < 0 {
		return s, ErrPeriodNotFound
	}
	if s.FeePayments[idx].IsSkipped == skip {
		return s, nil
	}

	out := s.Clone()
	p := &out.FeePayments[idx]
	if skip {
		*p = skippedFeePayment(*p)
		return RefreshTotals(out, settings, asOf), nil
	}

	p.IsSkipped = false
	p.Paid = false
	due := BaseFee(out, settings)
	if !p.IsTransportWaived {
		due += TransportComponent(out, settings, period)
	}
	p.AmountDue = round2(due)
	settleFee(p)
	return RefreshTotals(out, settings, asOf), nil
}

// SetTransportWaiver removes or restores the transport component of one tuition period.
func SetTransportWaiver(s Student, settings AppSettings, period int, waive bool, asOf time.Time) (Student, error) {
	idx := findFeePeriod(s.FeePayments, period)
	if idx < 0 {
		return s, ErrPeriodNotFound
	}
	if s.FeePayments[idx].IsTransportWaived == waive {
		return s, nil
	}

	out := s.Clone()
	p := &out.FeePayments[idx]
	if !p.IsSkipped {
		if waive {
			p.AmountDue = round2(nonNegative(p.AmountDue - transportCarried(*p, out, settings)))
		} else {
			p.AmountDue = round2(p.AmountDue + TransportComponent(out, settings, period))
		}
		settleFee(p)
	}
	p.IsTransportWaived = waive
	return RefreshTotals(out, settings, asOf), nil
}

// RecordTransportPayment sets the amount paid for one transport month.
func RecordTransportPayment(s Student, settings AppSettings, month int, amount float64, asOf time.Time) (Student, error) {
	if !ValidAmount(amount) {
		return s, ErrInvalidAmount
	}
	idx := findTransportMonth(s.TransportPayments, month)
	if idx < 0 {
		return s, ErrPeriodNotFound
	}
	if s.TransportPayments[idx].IsSkipped {
		return s, ErrPeriodSkipped
	}

	out := s.Clone()
	p := &out.TransportPayments[idx]
	p.AmountPaid = round2(amount)
	settleTransport(p)
	p.PaidDate = paidDate(amount, asOf)
	return RefreshTotals(out, settings, asOf), nil
}

// ToggleTransportSkip exempts a transport month, or restores it at the current fee.
func ToggleTransportSkip(s Student, settings AppSettings, month int, skip bool, asOf time.Time) (Student, error) {
	idx := findTransportMonth(s.TransportPayments, month)
	if idx < 0 {
		return s, ErrPeriodNotFound
	}
	if s.TransportPayments[idx].IsSkipped == skip {
		return s, nil
	}

	out := s.Clone()
	p := &out.TransportPayments[idx]
	if skip {
		*p = skippedTransportPayment(*p)
		return RefreshTotals(out, settings, asOf), nil
	}
	p.IsSkipped = false
	p.AmountDue = transportMonthDue(*p, out)
	settleTransport(p)
	return RefreshTotals(out, settings, asOf), nil
}

// SetTransportPaymentWaiver zeroes the amount due for a transport month, or restores it.
func SetTransportPaymentWaiver(s Student, settings AppSettings, month int, waive bool, asOf time.Time) (Student, error) {
	idx := findTransportMonth(s.TransportPayments, month)
	if idx < 0 {
		return s, ErrPeriodNotFound
	}
	if s.TransportPayments[idx].IsWaived == waive {
		return s, nil
	}

	out := s.Clone()
	p := &out.TransportPayments[idx]
	p.IsWaived = waive
	if !p.IsSkipped {
		p.AmountDue = transportMonthDue(*p, out)
		settleTransport(p)
	}
	return RefreshTotals(out, settings, asOf), nil
}

func transportMonthDue(p TransportPayment, s Student) float64 {
	if p.IsSkipped || p.IsWaived {
		return 0
	}
	return round2(s.TransportFee)
}

func settleTransport(p *TransportPayment) {
	p.OutstandingAmount = round2(nonNegative(p.AmountDue - p.AmountPaid))
	p.Paid = settled(p.OutstandingAmount)
}

func skippedTransportPayment(p TransportPayment) TransportPayment {
	p.IsSkipped = true
	p.AmountDue = 0
	p.AmountPaid = 0
	p.OutstandingAmount = 0
	p.Paid = true
	p.PaidDate = nil
	return p
}

func findTransportMonth(payments []TransportPayment, month int) int {
	for i, p := range payments {
		if p.Month == month {
			return i
		}
	}
	return -1
}

func paidDate(amount float64, asOf time.Time) *time.Time {
	if amount <= 0 {
		return nil
	}
	d := calendar.Day(asOf)
	return &d
}
