package promotion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
)

var (
	// ErrInvalidClass indicates a target class that cannot be placed.
	ErrInvalidClass = errors.New("promotion: invalid class")
	// ErrNotFound indicates an unknown transferred or pending record.
	ErrNotFound = errors.New("promotion: record not found")
	// ErrInvalidRule indicates a malformed promotion rule.
	ErrInvalidRule = errors.New("promotion: invalid rule")
)

// TransferredStudent is a student removed from the active roster.
type TransferredStudent struct {
	billing.Student
	TransferDate           time.Time `json:"transferDate"`
	TransferReason         string    `json:"transferReason"`
	OriginalClassGroup     string    `json:"originalClassGroup"`
	OriginalClassName      string    `json:"originalClassName"`
	PaymentHistoryRetained bool      `json:"paymentHistoryRetained"`
}

// PendingPromotedStudent waits for manual placement into TargetClassName.
type PendingPromotedStudent struct {
	billing.Student
	PendingSince       time.Time       `json:"pendingSince"`
	TargetClassName    string          `json:"targetClassName"`
	OriginalClassGroup string          `json:"originalClassGroup"`
	OriginalClassName  string          `json:"originalClassName"`
	OriginalData       billing.Student `json:"originalData"`
}

// Promote moves s into className for the following academic year. The fee
// schedule restarts empty at the new class's fee, transport months are renewed
// from January and stored totals are reset.
func Promote(s billing.Student, settings billing.AppSettings, className string, asOf time.Time) (billing.Student, error) {
	className = strings.Join(strings.Fields(className), " ")
	if className == "" {
		return s, ErrInvalidClass
	}
	from := s.ClassName
	year := s.Year() + 1
	if y := calendar.Day(asOf).Year(); y > year {
		year = y
	}

	out := s.Clone()
	out.ClassName = className
	out.ClassGroup = groupFor(settings, className, s.ClassGroup)
	out.AcademicYear = year
	out.FeePayments = nil
	out = billing.RenewTransport(out, settings)
	out = billing.BuildFeeSchedule(out, settings)
	out.TotalPaid = 0
	out.TotalOwed = 0
	out = out.AppendNote(asOf, fmt.Sprintf("Promoted from %s to %s for %d", from, className, year))
	out.UpdatedAt = asOf.UTC()
	return out, nil
}

// groupFor picks the class group listing className, trying the name without a
// section suffix next, and keeps current when neither is listed.
func groupFor(settings billing.AppSettings, className, current string) string {
	if g, ok := settings.GroupForClass(className); ok {
		return g.ID
	}
	if level, ok := ParseClass(className); ok {
		if g, ok := settings.GroupForClass(level.BaseName()); ok {
			return g.ID
		}
	}
	return current
}

// Transfer removes s from the roster. Without retained history both payment
// collections are cleared, transport is switched off and totals are zeroed.
func Transfer(s billing.Student, reason string, retainHistory bool, asOf time.Time) TransferredStudent {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Transferred"
	}
	out := s.Clone()
	if !retainHistory {
		out.FeePayments = []billing.FeePayment{}
		out.TransportPayments = []billing.TransportPayment{}
		out.HasTransport = false
		out.TransportFee = 0
		out.TransportActivationDate = nil
		out.TotalPaid = 0
		out.TotalOwed = 0
	}
	out = out.AppendNote(asOf, fmt.Sprintf("Left %s: %s", s.ClassName, reason))
	out.UpdatedAt = asOf.UTC()
	return TransferredStudent{
		Student:                out,
		TransferDate:           calendar.Day(asOf),
		TransferReason:         reason,
		OriginalClassGroup:     s.ClassGroup,
		OriginalClassName:      s.ClassName,
		PaymentHistoryRetained: retainHistory,
	}
}

// Graduate transfers s out after completing the top class of its track.
func Graduate(s billing.Student, retainHistory bool, asOf time.Time) TransferredStudent {
	return Transfer(s, fmt.Sprintf("Graduated from %s", s.ClassName), retainHistory, asOf)
}

// MoveToPending parks s until an administrator places it into target.
func MoveToPending(s billing.Student, target string, asOf time.Time) PendingPromotedStudent {
	snapshot := s.Clone()
	out := s.Clone().AppendNote(asOf, fmt.Sprintf("Awaiting placement from %s into %s", s.ClassName, target))
	out.UpdatedAt = asOf.UTC()
	return PendingPromotedStudent{
		Student:            out,
		PendingSince:       calendar.Day(asOf),
		TargetClassName:    target,
		OriginalClassGroup: s.ClassGroup,
		OriginalClassName:  s.ClassName,
		OriginalData:       snapshot,
	}
}

// RestorePending promotes the snapshot of p into its target class, or into
// override when one is given.
func RestorePending(p PendingPromotedStudent, settings billing.AppSettings, override string, asOf time.Time) (billing.Student, error) {
	target := strings.TrimSpace(override)
	if target == "" {
		target = p.TargetClassName
	}
	base := p.OriginalData
	if base.ID == "" {
		base = p.Student
	}
	base.Notes = p.Notes
	return Promote(base, settings, target, asOf)
}

// RestoreTransferred returns t to the roster in its original class. A student
// restored in a later year starts a fresh schedule for the current year.
func RestoreTransferred(t TransferredStudent, settings billing.AppSettings, asOf time.Time) billing.Student {
	out := t.Student.Clone()
	out.ClassName = t.OriginalClassName
	if t.OriginalClassGroup != "" {
		out.ClassGroup = t.OriginalClassGroup
	}
	if year := calendar.Day(asOf).Year(); out.Year() < year {
		out.AcademicYear = year
		out.FeePayments = nil
		out = billing.RenewTransport(out, settings)
	}
	out = billing.BuildFeeSchedule(out, settings)
	out = billing.RefreshTotals(out, settings, asOf)
	out = out.AppendNote(asOf, fmt.Sprintf("Restored to %s after transfer (%s)", out.ClassName, t.TransferReason))
	out.UpdatedAt = asOf.UTC()
	return out
}
