package billing

import (
	"time"

	"github.com/schoolledger/schoolledger/internal/calendar"
)

// ActivateTransport switches transport on at fee from the activation month
// onwards. Any previous transport months are replaced. Tuition periods are not
// touched; they pick the component up when the fee schedule is next rebuilt.
func ActivateTransport(s Student, settings AppSettings, fee float64, activation time.Time) (Student, error) {
	if !ValidAmount(fee) || fee == 0 {
		return s, ErrInvalidAmount
	}
	if activation.IsZero() {
		return s, ErrInvalidDate
	}
	start := activationStart(s, activation)

	out := s.Clone()
	out.HasTransport = true
	out.TransportFee = round2(fee)
	out.TransportActivationDate = &start
	out.TransportPayments = buildTransportPayments(out, settings, start)
	return out, nil
}

// activationStart clamps an activation earlier than the admission month to
// the admission date.
func activationStart(s Student, activation time.Time) time.Time {
	start := calendar.Day(activation)
	if !s.AdmissionDate.IsZero() && start.Before(AdmissionMonthStart(s)) {
		start = calendar.Day(s.AdmissionDate)
	}
	return start
}

// ActivationMoved reports whether activation lands on a different start than
// the one s was activated with.
func ActivationMoved(s Student, activation *time.Time) bool {
	if !s.HasTransport || activation == nil || activation.IsZero() {
		return false
	}
	if s.TransportActivationDate == nil {
		return true
	}
	return !activationStart(s, *activation).Equal(calendar.Day(*s.TransportActivationDate))
}

func buildTransportPayments(s Student, settings AppSettings, from time.Time) []TransportPayment {
	year := s.Year()
	fromMonth := calendar.MonthStart(from)
	payments := make([]TransportPayment, 0, len(calendar.TransportMonths))
	for _, month := range calendar.TransportMonths {
		if calendar.Date(year, month, 1).Before(fromMonth) {
			continue
		}
		payments = append(payments, TransportPayment{
			Month:             int(month),
			MonthName:         month.String(),
			AmountDue:         s.TransportFee,
			OutstandingAmount: s.TransportFee,
			DueDate:           calendar.DueDate(year, month, settings.TransportDueDay()),
			IsActive:          true,
		})
	}
	return payments
}

// RenewTransport rebuilds the transport months for the student's current
// academic year, starting in January. Used when a student moves to a new year.
func RenewTransport(s Student, settings AppSettings) Student {
	if !s.HasTransport || s.TransportFee <= 0 {
		s.TransportPayments = []TransportPayment{}
		return s
	}
	start := calendar.Date(s.Year(), time.January, 1)
	if !s.AdmissionDate.IsZero() && start.Before(AdmissionMonthStart(s)) {
		start = calendar.Day(s.AdmissionDate)
	}
	out := s.Clone()
	out.TransportActivationDate = &start
	out.TransportPayments = buildTransportPayments(out, settings, start)
	return out
}

// ChangeTransportFee reprices transport months that are neither skipped nor waived.
func ChangeTransportFee(s Student, fee float64) (Student, error) {
	if !ValidAmount(fee) || fee == 0 {
		return s, ErrInvalidAmount
	}
	out := s.Clone()
	out.TransportFee = round2(fee)
	for i := range out.TransportPayments {
		p := &out.TransportPayments[i]
		if p.IsSkipped || p.IsWaived {
			continue
		}
		p.AmountDue = out.TransportFee
		settleTransport(p)
	}
	return out, nil
}

// DeactivateTransport turns transport off. Transport months are discarded and
// every tuition period not yet waived is marked waived, with any embedded
// transport component removed from its amount due. The change is one-way.
func DeactivateTransport(s Student, settings AppSettings, asOf time.Time) Student {
	out := s.Clone()
	for i := range out.FeePayments {
		p := &out.FeePayments[i]
		if p.IsTransportWaived {
			continue
		}
		if carried := transportCarried(*p, s, settings); carried > 0 {
			p.AmountDue = round2(nonNegative(p.AmountDue - carried))
			settleFee(p)
		}
		p.IsTransportWaived = true
	}
	out.TransportPayments = []TransportPayment{}
	out.HasTransport = false
	out.TransportFee = 0
	out.TransportActivationDate = nil
	return RefreshTotals(out, settings, asOf)
}

// TransportOutstandingToDate sums unpaid transport for months that have
// started by asOf and are at or after the activation month. Future and skipped
// months never count.
func TransportOutstandingToDate(s Student, asOf time.Time) float64 {
	today := calendar.Day(asOf)
	year := s.Year()
	activation := transportStart(s)
	admission := AdmissionMonthStart(s)

	var owed accumulator
	for _, p := range s.TransportPayments {
		if p.IsSkipped || p.IsWaived {
			continue
		}
		start := calendar.Date(year, time.Month(p.Month), 1)
		if start.After(today) || start.Before(activation) || start.Before(admission) {
			continue
		}
		owed.Add(p.OutstandingAmount)
	}
	return owed.Float()
}

func transportStart(s Student) time.Time {
	if s.TransportActivationDate == nil {
		return time.Time{}
	}
	return calendar.MonthStart(*s.TransportActivationDate)
}
