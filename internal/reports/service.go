package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/expenses"
	"github.com/schoolledger/schoolledger/internal/extrabilling"
	"github.com/schoolledger/schoolledger/report"
)

// ErrPDFUnavailable is returned when no PDF renderer is configured.
var ErrPDFUnavailable = errors.New("reports: pdf rendering not configured")

// StudentSource reads the roster and settings.
type StudentSource interface {
	LoadStudents(ctx context.Context) ([]billing.Student, error)
	LoadSettings(ctx context.Context) (billing.AppSettings, error)
}

// ChargeSource reads extra charges.
type ChargeSource interface {
	LoadCharges(ctx context.Context) ([]extrabilling.ExtraCharge, error)
}

// ExpenseSource reads recorded expenses.
type ExpenseSource interface {
	LoadExpenses(ctx context.Context) ([]expenses.Expense, error)
}

// PDFRenderer converts HTML to PDF.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string, opts report.Options) ([]byte, error)
}

// Cache memoises report payloads under versioned keys.
type Cache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Service assembles reports from the stored collections.
type Service struct {
	students StudentSource
	charges  ChargeSource
	expenses ExpenseSource
	cache    Cache
	pdf      PDFRenderer
	locale   string
	logger   *slog.Logger
	now      func() time.Time
	flight   singleflight.Group
}

// NewService builds Service instance.
func NewService(students StudentSource, charges ChargeSource, expenseSource ExpenseSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		students: students,
		charges:  charges,
		expenses: expenseSource,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithCache enables report caching.
func (s *Service) WithCache(cache Cache) *Service {
	s.cache = cache
	return s
}

// WithPDF enables statement PDFs.
func (s *Service) WithPDF(pdf PDFRenderer) *Service {
	s.pdf = pdf
	return s
}

// WithLocale sets the BCP 47 locale used to print amounts on statements.
func (s *Service) WithLocale(locale string) *Service {
	s.locale = locale
	return s
}

// ClassBreakdown reports balances per class as of today.
func (s *Service) ClassBreakdown(ctx context.Context) ([]ClassRow, error) {
	asOf := s.now()
	return cached(ctx, s, []string{"reports", "classes", day(asOf)}, func(snap Snapshot) ([]ClassRow, error) {
		return ClassBreakdown(snap.Students, snap.Settings, asOf), nil
	})
}

// Outstanding lists every student who owes money as of today.
func (s *Service) Outstanding(ctx context.Context) ([]OutstandingRow, error) {
	asOf := s.now()
	return cached(ctx, s, []string{"reports", "outstanding", day(asOf)}, func(snap Snapshot) ([]OutstandingRow, error) {
		return OutstandingList(snap.Students, snap.Settings, snap.Charges, asOf), nil
	})
}

// Finance summarises income against expenses. A zero year means the current one.
func (s *Service) Finance(ctx context.Context, year int) (FinanceSummary, error) {
	asOf := s.now()
	if year == 0 {
		year = asOf.Year()
	}
	return cached(ctx, s, []string{"reports", "finance", strconv.Itoa(year), day(asOf)}, func(snap Snapshot) (FinanceSummary, error) {
		return BuildFinanceSummary(snap, year, asOf), nil
	})
}

// Statement builds the statement of one student.
func (s *Service) Statement(ctx context.Context, id string) (Statement, error) {
	asOf := s.now()
	return cached(ctx, s, []string{"reports", "statement", id, day(asOf)}, func(snap Snapshot) (Statement, error) {
		for _, st := range snap.Students {
			if st.ID == id {
				return BuildStatement(st, snap.Settings, snap.Charges, asOf), nil
			}
		}
		return Statement{}, billing.ErrStudentNotFound
	})
}

// StatementHTML renders the statement of one student as HTML.
func (s *Service) StatementHTML(ctx context.Context, id string) ([]byte, error) {
	st, err := s.Statement(ctx, id)
	if err != nil {
		return nil, err
	}
	format, err := NewFormatter(s.locale, st.Currency)
	if err != nil {
		s.logger.Warn("statement formatter", slog.Any("error", err))
		format, _ = NewFormatter("", "")
	}
	var buf bytes.Buffer
	if err := RenderStatementHTML(&buf, st, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StatementPDF renders the statement through the PDF renderer. Concurrent
// requests for the same statement share one conversion.
func (s *Service) StatementPDF(ctx context.Context, id string) ([]byte, error) {
	if s.pdf == nil {
		return nil, ErrPDFUnavailable
	}
	key := "statement:" + id + ":" + day(s.now())
	v, err, shared := s.flight.Do(key, func() (any, error) {
		html, err := s.StatementHTML(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.pdf.RenderHTML(ctx, string(html), report.A4)
	})
	if errors.Is(err, report.ErrNotConfigured) {
		return nil, fmt.Errorf("%w: %w", ErrPDFUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("statement pdf shared", slog.String("student_id", id))
	}
	return v.([]byte), nil
}

// Snapshot loads every collection a report needs in parallel.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		students, err := s.students.LoadStudents(ctx)
		if err != nil {
			return fmt.Errorf("reports: load students: %w", err)
		}
		snap.Students = students
		return nil
	})
	g.Go(func() error {
		settings, err := s.students.LoadSettings(ctx)
		if err != nil {
			return fmt.Errorf("reports: load settings: %w", err)
		}
		snap.Settings = settings
		return nil
	})
	if s.charges != nil {
		g.Go(func() error {
			charges, err := s.charges.LoadCharges(ctx)
			if err != nil {
				return fmt.Errorf("reports: load charges: %w", err)
			}
			snap.Charges = charges
			return nil
		})
	}
	if s.expenses != nil {
		g.Go(func() error {
			list, err := s.expenses.LoadExpenses(ctx)
			if err != nil {
				return fmt.Errorf("reports: load expenses: %w", err)
			}
			snap.Expenses = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func cached[T any](ctx context.Context, s *Service, parts []string, build func(Snapshot) (T, error)) (T, error) {
	var out T
	loader := func(ctx context.Context) (any, error) {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return build(snap)
	}
	if s.cache == nil {
		v, err := loader(ctx)
		if err != nil {
			return out, err
		}
		return v.(T), nil
	}
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("report cache key failed", slog.Any("error", err))
		v, err := loader(ctx)
		if err != nil {
			return out, err
		}
		return v.(T), nil
	}
	if err := s.cache.FetchJSON(ctx, key, &out, loader); err != nil {
		return out, err
	}
	return out, nil
}

func day(t time.Time) string {
	return calendar.Day(t).Format("2006-01-02")
}
