package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/expenses"
	"github.com/schoolledger/schoolledger/internal/extrabilling"
	"github.com/schoolledger/schoolledger/internal/promotion"
)

// Seeder loads a small demo school through the regular services, so every
// record goes through validation and the audit log.
type Seeder struct {
	Billing      *billing.Service
	Promotion    *promotion.Service
	Expenses     *expenses.Service
	ExtraBilling *extrabilling.Service
	Out          io.Writer
}

type demoStudent struct {
	name, parent, group, class string
	born                       time.Time
	admittedMonth              time.Month
	transport                  float64
	paidPeriods                int
}

// SeedDemo writes settings, students, payments, expenses and extra charges
// for the academic year of now. It refuses to run against a non-empty roster.
func (s Seeder) SeedDemo(ctx context.Context, now time.Time) error {
	existing, err := s.Billing.ListStudents(ctx, billing.StudentFilter{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("seed: roster already has %d students", len(existing))
	}
	year := now.Year()

	settings := billing.DefaultSettings()
	settings.SchoolName = "Hillside Academy"
	settings.ClassGroups = []billing.ClassGroup{
		{ID: "ecd", Name: "ECD", StandardFee: 40, Classes: []string{"ECD A", "ECD B"}},
		{ID: "primary", Name: "Primary", StandardFee: 60, Classes: []string{"Grade 1", "Grade 2", "Grade 3", "Grade 4", "Grade 5", "Grade 6", "Grade 7"}},
		{ID: "secondary", Name: "Secondary", StandardFee: 90, Classes: []string{"Form 1", "Form 2", "Form 3", "Form 4", "Form 5", "Form 6"}},
	}
	if _, err := s.Billing.UpdateSettings(ctx, settings); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}

	roster := []demoStudent{
		{"Tariro Moyo", "Grace Moyo", "primary", "Grade 3", calendar.Date(year-9, time.April, 2), time.January, 0, 2},
		{"Farai Ncube", "Peter Ncube", "primary", "Grade 7", calendar.Date(year-13, time.July, 19), time.January, 25, 1},
		{"Rudo Chikwanha", "Anna Chikwanha", "secondary", "Form 2", calendar.Date(year-15, time.February, 8), time.January, 0, 3},
		{"Nyasha Dube", "Tendai Dube", "ecd", "ECD B", calendar.Date(year-6, time.October, 30), time.February, 15, 0},
		{"Kuda Sibanda", "Ruth Sibanda", "secondary", "Form 4", calendar.Date(year-17, time.May, 11), time.January, 0, 1},
	}
	for _, d := range roster {
		in := billing.StudentInput{
			FullName:      d.name,
			DateOfBirth:   d.born,
			AdmissionDate: calendar.Date(year, d.admittedMonth, 10),
			ClassGroup:    d.group,
			ClassName:     d.class,
			AcademicYear:  year,
			ParentName:    d.parent,
			ParentContact: "+263 77 000 0000",
		}
		if d.transport > 0 {
			activation := calendar.Date(year, d.admittedMonth, 1)
			in.HasTransport = true
			in.TransportFee = d.transport
			in.TransportActivationDate = &activation
		}
		st, err := s.Billing.CreateStudent(ctx, in)
		if err != nil {
			return fmt.Errorf("seed student %s: %w", d.name, err)
		}
		for p := 0; p < d.paidPeriods && p < len(st.FeePayments); p++ {
			fp := st.FeePayments[p]
			if _, err := s.Billing.RecordPayment(ctx, st.ID, fp.Period, fp.AmountDue); err != nil {
				return fmt.Errorf("seed payment %s/%d: %w", d.name, fp.Period, err)
			}
		}
		s.printf("student %s (%s)\n", d.name, d.class)
	}

	for _, e := range []expenses.Input{
		{Category: "Salaries", Title: "January salaries", Amount: 420, Date: calendar.Date(year, time.January, 28)},
		{Category: "Utilities", Title: "Electricity", Amount: 65.5, Date: calendar.Date(year, time.February, 3)},
		{Category: "Transport", Title: "Bus fuel", Amount: 80, Date: calendar.Date(year, time.February, 14)},
	} {
		if _, err := s.Expenses.Create(ctx, e); err != nil {
			return fmt.Errorf("seed expense %s: %w", e.Title, err)
		}
	}

	if _, err := s.ExtraBilling.Create(ctx, extrabilling.Input{
		ClassName: "Grade 3",
		Title:     "Museum trip",
		Amount:    12,
		DueDate:   calendar.Date(year, time.March, 15),
	}); err != nil {
		return fmt.Errorf("seed extra charge: %w", err)
	}

	limit := 200.0
	if _, err := s.Promotion.SaveRules(ctx, []promotion.Rule{{
		ID:         "max-arrears",
		Name:       "Arrears under 200",
		Enabled:    true,
		Conditions: promotion.Conditions{MaxOutstandingAmount: &limit},
	}}); err != nil {
		return fmt.Errorf("seed promotion rules: %w", err)
	}
	s.printf("seeded %d students for %d\n", len(roster), year)
	return nil
}

func (s Seeder) printf(format string, args ...any) {
	if s.Out != nil {
		_, _ = fmt.Fprintf(s.Out, format, args...)
	}
}
