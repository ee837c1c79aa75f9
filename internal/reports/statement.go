package reports

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/extrabilling"
)

//go:embed templates/*.html
var templateFS embed.FS

var statementTemplate = template.Must(template.New("statement.html").Funcs(template.FuncMap{
	// Replaced per render with the configured formatter.
	"money": func(float64) string { return "" },
	"date":  func(time.Time) string { return "" },
}).ParseFS(templateFS, "templates/statement.html"))

// Line statuses.
const (
	StatusPaid        = "Paid"
	StatusPartPaid    = "Part paid"
	StatusDue         = "Due"
	StatusUpcoming    = "Upcoming"
	StatusSkipped     = "Skipped"
	StatusWaived      = "Waived"
	StatusNotEnrolled = "Not enrolled"
)

// StatementLine is one billed period or transport month.
type StatementLine struct {
	Label       string    `json:"label"`
	DueDate     time.Time `json:"dueDate"`
	AmountDue   float64   `json:"amountDue"`
	AmountPaid  float64   `json:"amountPaid"`
	Outstanding float64   `json:"outstanding"`
	Status      string    `json:"status"`
}

// Statement is a printable account of one student's year.
type Statement struct {
	School           string                       `json:"school"`
	Currency         string                       `json:"currency"`
	GeneratedAt      time.Time                    `json:"generatedAt"`
	StudentID        string                       `json:"studentId"`
	FullName         string                       `json:"fullName"`
	ClassName        string                       `json:"className"`
	ParentName       string                       `json:"parentName,omitempty"`
	AcademicYear     int                          `json:"academicYear"`
	Totals           billing.StudentTotals        `json:"totals"`
	Outstanding      billing.OutstandingBreakdown `json:"outstanding"`
	Tuition          []StatementLine              `json:"tuition"`
	Transport        []StatementLine              `json:"transport"`
	Extras           []StatementLine              `json:"extras"`
	ExtraOutstanding float64                      `json:"extraOutstanding"`
	BalanceDue       float64                      `json:"balanceDue"`
}

// BuildStatement lays out a student's fee periods, transport months and extra
// charges as of a date.
func BuildStatement(s billing.Student, settings billing.AppSettings, charges []extrabilling.ExtraCharge, asOf time.Time) Statement {
	today := calendar.Day(asOf)
	cycle := settings.Cycle()
	year := s.Year()
	admission := billing.AdmissionMonthStart(s)

	st := Statement{
		School:       settings.SchoolName,
		Currency:     settings.Currency,
		GeneratedAt:  asOf.UTC(),
		StudentID:    s.ID,
		FullName:     s.FullName,
		ClassName:    s.ClassName,
		ParentName:   s.ParentName,
		AcademicYear: year,
		Totals:       billing.CalculateStudentTotals(s, settings, asOf),
		Outstanding:  billing.CalculateOutstandingFromEnrollment(s, settings, asOf),
		Tuition:      []StatementLine{},
		Transport:    []StatementLine{},
		Extras:       []StatementLine{},
	}

	for _, p := range s.FeePayments {
		start := calendar.PeriodStart(year, p.Period, cycle)
		line := StatementLine{
			Label:       calendar.PeriodName(p.Period, cycle),
			DueDate:     p.DueDate,
			AmountDue:   p.AmountDue,
			AmountPaid:  p.AmountPaid,
			Outstanding: p.OutstandingAmount,
		}
		switch {
		case p.IsSkipped:
			line.Status = StatusSkipped
		case start.Before(admission):
			line.Status = StatusNotEnrolled
		default:
			line.Status = paymentStatus(p.Paid, p.AmountPaid, start.After(today))
		}
		st.Tuition = append(st.Tuition, line)
	}

	for _, t := range s.TransportPayments {
		if !t.IsActive {
			continue
		}
		line := StatementLine{
			Label:       t.MonthName,
			DueDate:     t.DueDate,
			AmountDue:   t.AmountDue,
			AmountPaid:  t.AmountPaid,
			Outstanding: t.OutstandingAmount,
		}
		switch {
		case t.IsSkipped:
			line.Status = StatusSkipped
		case t.IsWaived:
			line.Status = StatusWaived
		default:
			start := calendar.Date(year, time.Month(t.Month), 1)
			line.Status = paymentStatus(t.Paid, t.AmountPaid, start.After(today))
		}
		st.Transport = append(st.Transport, line)
	}

	var extra dec
	for _, c := range charges {
		if c.StudentID != s.ID {
			continue
		}
		st.Extras = append(st.Extras, StatementLine{
			Label:       c.Title,
			DueDate:     c.DueDate,
			AmountDue:   c.Amount,
			AmountPaid:  c.AmountPaid,
			Outstanding: c.OutstandingAmount,
			Status:      paymentStatus(c.Paid, c.AmountPaid, c.DueDate.After(today)),
		})
		extra.add(c.OutstandingAmount)
	}
	st.ExtraOutstanding = extra.float()
	extra.add(st.Outstanding.Total)
	st.BalanceDue = extra.float()
	return st
}

func paymentStatus(paid bool, amountPaid float64, upcoming bool) string {
	switch {
	case paid:
		return StatusPaid
	case amountPaid > 0:
		return StatusPartPaid
	case upcoming:
		return StatusUpcoming
	default:
		return StatusDue
	}
}

// RenderStatementHTML writes st as a standalone HTML document.
func RenderStatementHTML(w io.Writer, st Statement, f Formatter) error {
	tpl, err := statementTemplate.Clone()
	if err != nil {
		return err
	}
	tpl.Funcs(template.FuncMap{"money": f.Money, "date": f.Date})
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "statement.html", st); err != nil {
		return fmt.Errorf("reports: render statement: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}
