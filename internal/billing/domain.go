// Package billing computes fee schedules, payments and balances for students.
package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/schoolledger/schoolledger/internal/calendar"
)

// FeePayment is one tuition billing period of a student's year.
type FeePayment struct {
	Period            int        `json:"period"`
	AmountDue         float64    `json:"amountDue"`
	AmountPaid        float64    `json:"amountPaid"`
	OutstandingAmount float64    `json:"outstandingAmount"`
	Paid              bool       `json:"paid"`
	DueDate           time.Time  `json:"dueDate"`
	PaidDate          *time.Time `json:"paidDate,omitempty"`
	IsTransportWaived bool       `json:"isTransportWaived"`
	IsSkipped         bool       `json:"isSkipped"`
}

// TransportPayment is one billed transport month.
type TransportPayment struct {
	Month             int        `json:"month"`
	MonthName         string     `json:"monthName"`
	AmountDue         float64    `json:"amountDue"`
	AmountPaid        float64    `json:"amountPaid"`
	OutstandingAmount float64    `json:"outstandingAmount"`
	Paid              bool       `json:"paid"`
	DueDate           time.Time  `json:"dueDate"`
	PaidDate          *time.Time `json:"paidDate,omitempty"`
	IsActive          bool       `json:"isActive"`
	IsSkipped         bool       `json:"isSkipped"`
	IsWaived          bool       `json:"isWaived"`
}

// Student is the billing aggregate. It owns both payment collections.
type Student struct {
	ID            string    `json:"id"`
	FullName      string    `json:"fullName"`
	DateOfBirth   time.Time `json:"dateOfBirth"`
	AdmissionDate time.Time `json:"admissionDate"`
	ClassGroup    string    `json:"classGroup"`
	ClassName     string    `json:"className"`
	AcademicYear  int       `json:"academicYear"`
	ParentName    string    `json:"parentName,omitempty"`
	ParentContact string    `json:"parentContact,omitempty"`

	HasCustomFees           bool       `json:"hasCustomFees"`
	CustomSchoolFee         float64    `json:"customSchoolFee"`
	HasTransport            bool       `json:"hasTransport"`
	TransportFee            float64    `json:"transportFee"`
	TransportActivationDate *time.Time `json:"transportActivationDate,omitempty"`

	FeePayments       []FeePayment       `json:"feePayments"`
	TransportPayments []TransportPayment `json:"transportPayments"`

	TotalPaid float64 `json:"totalPaid"`
	TotalOwed float64 `json:"totalOwed"`
	Notes     string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Year returns the academic year the schedule is built for.
func (s Student) Year() int {
	if s.AcademicYear > 0 {
		return s.AcademicYear
	}
	return s.AdmissionDate.Year()
}

// Clone returns a deep copy so callers can modify the result without aliasing s.
func (s Student) Clone() Student {
	out := s
	out.TransportActivationDate = cloneTime(s.TransportActivationDate)
	if s.FeePayments != nil {
		out.FeePayments = make([]FeePayment, len(s.FeePayments))
		for i, p := range s.FeePayments {
			p.PaidDate = cloneTime(p.PaidDate)
			out.FeePayments[i] = p
		}
	}
	if s.TransportPayments != nil {
		out.TransportPayments = make([]TransportPayment, len(s.TransportPayments))
		for i, p := range s.TransportPayments {
			p.PaidDate = cloneTime(p.PaidDate)
			out.TransportPayments[i] = p
		}
	}
	return out
}

// AppendNote adds a dated line to the student's append-only note log.
func (s Student) AppendNote(at time.Time, text string) Student {
	line := fmt.Sprintf("[%s] %s", calendar.Day(at).Format("2006-01-02"), strings.TrimSpace(text))
	if strings.TrimSpace(s.Notes) == "" {
		s.Notes = line
		return s
	}
	s.Notes = strings.TrimRight(s.Notes, "\n") + "\n" + line
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ClassGroup groups classes billed at the same standard fee.
type ClassGroup struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	StandardFee float64  `json:"standardFee"`
	Classes     []string `json:"classes,omitempty"`
}

// MonthDay is a recurring calendar date, encoded as "MM-DD".
type MonthDay struct {
	Month time.Month
	Day   int
}

// Matches reports whether t falls on the month/day pair.
func (m MonthDay) Matches(t time.Time) bool {
	return t.Month() == m.Month && t.Day() == m.Day
}

// IsZero reports whether the pair is unset.
func (m MonthDay) IsZero() bool {
	return m.Month == 0 && m.Day == 0
}

// String formats the pair as "MM-DD".
func (m MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(m.Month), m.Day)
}

// ParseMonthDay parses "MM-DD".
func ParseMonthDay(raw string) (MonthDay, error) {
	t, err := time.Parse("01-02", strings.TrimSpace(raw))
	if err != nil {
		return MonthDay{}, fmt.Errorf("billing: invalid month-day %q: %w", raw, err)
	}
	return MonthDay{Month: t.Month(), Day: t.Day()}, nil
}

func (m MonthDay) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(m.String())
}

func (m *MonthDay) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*m = MonthDay{}
		return nil
	}
	parsed, err := ParseMonthDay(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// AppSettings is the school-wide configuration. Calculations only read it.
type AppSettings struct {
	SchoolName           string                `json:"schoolName"`
	Currency             string                `json:"currency"`
	BillingCycle         calendar.BillingCycle `json:"billingCycle"`
	ClassGroups          []ClassGroup          `json:"classGroups"`
	PaymentDueDate       int                   `json:"paymentDueDate"`
	TransportDueDate     int                   `json:"transportDueDate"`
	AutoPromotionEnabled bool                  `json:"autoPromotionEnabled"`
	AutoPromotionDate    MonthDay              `json:"autoPromotionDate"`
}

const defaultDueDay = 5

// DefaultSettings returns the settings used before an administrator saves any.
func DefaultSettings() AppSettings {
	return AppSettings{
		SchoolName:           "School",
		Currency:             "USD",
		BillingCycle:         calendar.CycleMonthly,
		PaymentDueDate:       defaultDueDay,
		TransportDueDate:     defaultDueDay,
		AutoPromotionEnabled: false,
		AutoPromotionDate:    MonthDay{Month: time.January, Day: 1},
	}
}

// Cycle returns the effective billing cycle.
func (s AppSettings) Cycle() calendar.BillingCycle {
	return s.BillingCycle.Normalize()
}

// PaymentDueDay returns the configured tuition due day.
func (s AppSettings) PaymentDueDay() int {
	if s.PaymentDueDate <= 0 {
		return defaultDueDay
	}
	return s.PaymentDueDate
}

// TransportDueDay returns the configured transport due day.
func (s AppSettings) TransportDueDay() int {
	if s.TransportDueDate <= 0 {
		return defaultDueDay
	}
	return s.TransportDueDate
}

// PromotionDate returns the auto-promotion date, defaulting to January 1.
func (s AppSettings) PromotionDate() MonthDay {
	if s.AutoPromotionDate.IsZero() {
		return MonthDay{Month: time.January, Day: 1}
	}
	return s.AutoPromotionDate
}

// FindClassGroup looks a group up by id, then by case-insensitive name.
func (s AppSettings) FindClassGroup(ref string) (ClassGroup, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ClassGroup{}, false
	}
	for _, g := range s.ClassGroups {
		if g.ID == ref {
			return g, true
		}
	}
	for _, g := range s.ClassGroups {
		if strings.EqualFold(g.Name, ref) {
			return g, true
		}
	}
	return ClassGroup{}, false
}

// GroupForClass returns the group listing className among its classes.
func (s AppSettings) GroupForClass(className string) (ClassGroup, bool) {
	className = strings.TrimSpace(className)
	for _, g := range s.ClassGroups {
		for _, c := range g.Classes {
			if strings.EqualFold(strings.TrimSpace(c), className) {
				return g, true
			}
		}
	}
	return ClassGroup{}, false
}

// StandardFee returns the fee of the referenced class group, or 0 when unknown.
func (s AppSettings) StandardFee(classGroup string) float64 {
	g, ok := s.FindClassGroup(classGroup)
	if !ok {
		return 0
	}
	return g.StandardFee
}
