package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
)

// RepositoryPort defines data access methods for billing.
type RepositoryPort interface {
	LoadStudents(ctx context.Context) ([]Student, error)
	SaveStudents(ctx context.Context, students []Student) error
	LoadSettings(ctx context.Context) (AppSettings, error)
	SaveSettings(ctx context.Context, settings AppSettings) error
}

// AuditPort records changes made through the service.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator drops cached report data after a write.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// PaymentObserver is notified of every recorded payment.
type PaymentObserver interface {
	ObservePayment(kind string, amount float64)
}

// Service loads a snapshot, applies one calculation and saves the result.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	logger  *slog.Logger
	cache   Invalidator
	metrics PaymentObserver
	now     func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithCache registers a cache to bump after writes.
func (s *Service) WithCache(cache Invalidator) *Service {
	s.cache = cache
	return s
}

// WithMetrics registers a payment observer.
func (s *Service) WithMetrics(metrics PaymentObserver) *Service {
	s.metrics = metrics
	return s
}

// StudentInput carries the editable fields of a student.
type StudentInput struct {
	FullName                string
	DateOfBirth             time.Time
	AdmissionDate           time.Time
	ClassGroup              string
	ClassName               string
	AcademicYear            int
	ParentName              string
	ParentContact           string
	HasCustomFees           bool
	CustomSchoolFee         float64
	HasTransport            bool
	TransportFee            float64
	TransportActivationDate *time.Time
	Notes                   string
}

// StudentFilter narrows ListStudents. Empty fields match everything.
type StudentFilter struct {
	ClassGroup string
	ClassName  string
	Query      string
}

// ListStudents returns students sorted by name.
func (s *Service) ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error) {
	students, err := s.loadStudents(ctx)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := make([]Student, 0, len(students))
	for _, st := range students {
		if filter.ClassGroup != "" && st.ClassGroup != filter.ClassGroup {
			continue
		}
		if filter.ClassName != "" && !strings.EqualFold(st.ClassName, filter.ClassName) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(st.FullName), query) {
			continue
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// GetStudent returns one student.
func (s *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	students, err := s.loadStudents(ctx)
	if err != nil {
		return Student{}, err
	}
	idx := indexOf(students, id)
	if idx < 0 {
		return Student{}, ErrStudentNotFound
	}
	return students[idx], nil
}

// CreateStudent enrolls a student, activating transport when requested and
// building the fee schedule for the academic year.
func (s *Service) CreateStudent(ctx context.Context, in StudentInput) (Student, error) {
	unlock := shared.LockCollection(store.KeyStudents)
	defer unlock()

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return Student{}, err
	}
	group, err := validateStudentInput(in, settings)
	if err != nil {
		return Student{}, err
	}
	students, err := s.loadStudents(ctx)
	if err != nil {
		return Student{}, err
	}

	now := s.now()
	st := Student{
		ID:                uuid.NewString(),
		CreatedAt:         now.UTC(),
		FeePayments:       []FeePayment{},
		TransportPayments: []TransportPayment{},
	}
	applyIdentity(&st, in, group)
	st.AcademicYear = in.AcademicYear
	if st.AcademicYear <= 0 {
		st.AcademicYear = max(now.Year(), st.AdmissionDate.Year())
	}
	st.HasCustomFees = in.HasCustomFees
	st.CustomSchoolFee = round2(in.CustomSchoolFee)
	if in.HasTransport {
		st, err = ActivateTransport(st, settings, in.TransportFee, activationFor(in))
		if err != nil {
			return Student{}, err
		}
	}
	if note := strings.TrimSpace(in.Notes); note != "" {
		st.Notes = note
	}
	st = RefreshTotals(BuildFeeSchedule(st, settings), settings, now)
	st.UpdatedAt = now.UTC()

	students = append(students, st)
	if err := s.saveStudents(ctx, students); err != nil {
		return Student{}, err
	}
	s.logger.Info("student created", slog.String("student_id", st.ID), slog.String("class", st.ClassName))
	s.after(ctx, "student.create", st.ID, map[string]any{"name": st.FullName})
	return st, nil
}

// UpdateStudent applies an edit. Transport switches on or off through the
// lifecycle functions and the fee schedule is rebuilt when any of its inputs changed.
func (s *Service) UpdateStudent(ctx context.Context, id string, in StudentInput) (Student, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return Student{}, err
	}
	group, err := validateStudentInput(in, settings)
	if err != nil {
		return Student{}, err
	}
	return s.mutate(ctx, id, "student.update", nil, func(before Student, settings AppSettings, now time.Time) (Student, error) {
		after := before.Clone()
		applyIdentity(&after, in, group)
		if in.AcademicYear > 0 {
			after.AcademicYear = in.AcademicYear
		}
		after.HasCustomFees = in.HasCustomFees
		after.CustomSchoolFee = round2(in.CustomSchoolFee)
		after.Notes = in.Notes

		var err error
		switch {
		case before.HasTransport && !in.HasTransport:
			after = DeactivateTransport(after, settings, now)
		case !before.HasTransport && in.HasTransport:
			after, err = ActivateTransport(after, settings, in.TransportFee, activationFor(in))
		case in.HasTransport && ActivationMoved(after, in.TransportActivationDate):
			after, err = ActivateTransport(after, settings, in.TransportFee, *in.TransportActivationDate)
		case before.HasTransport && in.HasTransport && round2(in.TransportFee) != before.TransportFee:
			after, err = ChangeTransportFee(after, in.TransportFee)
		}
		if err != nil {
			return before, err
		}
		if after.HasTransport && before.Year() != after.Year() {
			after = RenewTransport(after, settings)
		}
		if NeedsReschedule(before, after) {
			after = BuildFeeSchedule(after, settings)
		}
		return RefreshTotals(after, settings, now), nil
	})
}

// DeleteStudent removes a student from the active set.
func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	unlock := shared.LockCollection(store.KeyStudents)
	defer unlock()

	students, err := s.loadStudents(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(students, id)
	if idx < 0 {
		return ErrStudentNotFound
	}
	students = append(students[:idx], students[idx+1:]...)
	if err := s.saveStudents(ctx, students); err != nil {
		return err
	}
	s.after(ctx, "student.delete", id, nil)
	return nil
}

// RecordPayment sets the amount paid for a tuition period.
func (s *Service) RecordPayment(ctx context.Context, id string, period int, amount float64) (Student, error) {
	st, err := s.mutate(ctx, id, "payment.record", map[string]any{"period": period, "amount": amount},
		func(st Student, settings AppSettings, now time.Time) (Student, error) {
			return RecordPayment(st, settings, period, amount, now)
		})
	if err != nil {
		return Student{}, err
	}
	s.observe("tuition", amount)
	s.logger.Info("payment recorded", slog.String("student_id", id), slog.Int("period", period), slog.Float64("amount", amount))
	return st, nil
}

// SetPeriodSkipped skips or restores a tuition period.
func (s *Service) SetPeriodSkipped(ctx context.Context, id string, period int, skip bool) (Student, error) {
	return s.mutate(ctx, id, "payment.skip", map[string]any{"period": period, "skip": skip},
		func(st Student, settings AppSettings, now time.Time) (Student, error) {
			return ToggleSkip(st, settings, period, skip, now)
		})
}

// SetTransportWaiver waives or restores the transport component of a tuition period.
func (s *Service) SetTransportWaiver(ctx context.Context, id string, period int, waive bool) (Student, error) {
	return s.mutate(ctx, id, "payment.transport_waiver", map[string]any{"period": period, "waive": waive},
		func(st Student, settings AppSettings, now time.Time) (Student, error) {
			return SetTransportWaiver(st, settings, period, waive, now)
		})
}

// RecordTransportPayment sets the amount paid for a transport month.
func (s *Service) RecordTransportPayment(ctx context.Context, id string, month int, amount float64) (Student, error) {
	st, err := s.mutate(ctx, id, "transport.record", map[string]any{"month": month, "amount": amount},
		func(st Student, settings AppSettings, now time.Time) (Student, error) {
			return RecordTransportPayment(st, settings, month, amount, now)
		})
	if err != nil {
		return Student{}, err
	}
	s.observe("transport", amount)
	s.logger.Info("transport payment recorded", slog.String("student_id", id), slog.Int("month", month), slog.Float64("amount", amount))
	return st, nil
}

// SetTransportMonthSkipped skips or restores a transport month.
func (s *Service) SetTransportMonthSkipped(ctx context.Context, id string, month int, skip bool) (Student, error) {
	return s.mutate(ctx, id, "transport.skip", map[string]any{"month": month, "skip": skip},
		func(st Student, settings AppSettings, now time.Time) (Student, error) {
			return ToggleTransportSkip(st, settings, month, skip, now)
		})
}

// SetTransportMonthWaived waives or restores a transport month.
func (s *Service) SetTransportMonthWaived(ctx context.Context, id string, month int, waive bool) (Student, error) {
	return s.mutate(ctx, id, "transport.waive", map[string]any{"month": month, "waive": waive},
		func(st Student, settings AppSettings, now time.Time) (Student, error) {
			return SetTransportPaymentWaiver(st, settings, month, waive, now)
		})
}

// ActivateTransport turns transport on and rebuilds the fee schedule so tuition
// periods carry the component.
func (s *Service) ActivateTransport(ctx context.Context, id string, fee float64, activation time.Time) (Student, error) {
	return s.mutate(ctx, id, "transport.activate", map[string]any{"fee": fee, "activation": activation.Format("2006-01-02")},
		func(st Student, settings AppSettings, now time.Time) (Student, error) {
			out, err := ActivateTransport(st, settings, fee, activation)
			if err != nil {
				return st, err
			}
			return RefreshTotals(BuildFeeSchedule(out, settings), settings, now), nil
		})
}

// DeactivateTransport turns transport off.
func (s *Service) DeactivateTransport(ctx context.Context, id string) (Student, error) {
	return s.mutate(ctx, id, "transport.deactivate", nil,
		func(st Student, settings AppSettings, now time.Time) (Student, error) {
			return DeactivateTransport(st, settings, now), nil
		})
}

// Totals returns the expected-to-date figures of a student.
func (s *Service) Totals(ctx context.Context, id string) (StudentTotals, error) {
	st, settings, err := s.studentWithSettings(ctx, id)
	if err != nil {
		return StudentTotals{}, err
	}
	return CalculateStudentTotals(st, settings, s.now()), nil
}

// Outstanding returns the balance accrued since enrollment.
func (s *Service) Outstanding(ctx context.Context, id string) (OutstandingBreakdown, error) {
	st, settings, err := s.studentWithSettings(ctx, id)
	if err != nil {
		return OutstandingBreakdown{}, err
	}
	return CalculateOutstandingFromEnrollment(st, settings, s.now()), nil
}

// Validate reports inconsistencies in one student's records.
func (s *Service) Validate(ctx context.Context, id string) (ValidationReport, error) {
	st, settings, err := s.studentWithSettings(ctx, id)
	if err != nil {
		return ValidationReport{}, err
	}
	return ValidatePaymentCalculations(st, settings), nil
}

// ValidateAll returns the reports of students with at least one warning.
func (s *Service) ValidateAll(ctx context.Context) ([]ValidationReport, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	students, err := s.loadStudents(ctx)
	if err != nil {
		return nil, err
	}
	reports := []ValidationReport{}
	for _, st := range students {
		if r := ValidatePaymentCalculations(st, settings); !r.Valid {
			reports = append(reports, r)
		}
	}
	return reports, nil
}

// Summary folds the totals of every active student.
func (s *Service) Summary(ctx context.Context) (SchoolSummary, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return SchoolSummary{}, err
	}
	students, err := s.loadStudents(ctx)
	if err != nil {
		return SchoolSummary{}, err
	}
	return SchoolTotals(students, settings, s.now()), nil
}

// Settings returns the current settings.
func (s *Service) Settings(ctx context.Context) (AppSettings, error) {
	return s.loadSettings(ctx)
}

// UpdateSettings validates and stores next. Students whose base fee, due day or
// cycle changed get their schedule rebuilt. Switching cycle is refused once any
// tuition payment has been recorded.
func (s *Service) UpdateSettings(ctx context.Context, next AppSettings) (AppSettings, error) {
	next, err := normalizeSettings(next)
	if err != nil {
		return AppSettings{}, err
	}

	unlock := shared.LockCollection(store.KeyStudents)
	defer unlock()

	current, err := s.loadSettings(ctx)
	if err != nil {
		return AppSettings{}, err
	}
	students, err := s.loadStudents(ctx)
	if err != nil {
		return AppSettings{}, err
	}

	cycleChanged := current.Cycle() != next.Cycle()
	if cycleChanged && anyTuitionPayments(students) {
		return AppSettings{}, ErrCycleChangeWithPayments
	}
	dueChanged := current.PaymentDueDay() != next.PaymentDueDay()
	transportDueChanged := current.TransportDueDay() != next.TransportDueDay()

	now := s.now()
	rebuilt := 0
	for i, st := range students {
		changed := false
		if cycleChanged || dueChanged || BaseFee(st, current) != BaseFee(st, next) {
			if cycleChanged {
				st.FeePayments = nil
			}
			st = BuildFeeSchedule(st, next)
			changed = true
		}
		if transportDueChanged && len(st.TransportPayments) > 0 {
			st = st.Clone()
			for j := range st.TransportPayments {
				p := &st.TransportPayments[j]
				p.DueDate = calendar.DueDate(st.Year(), time.Month(p.Month), next.TransportDueDay())
			}
			changed = true
		}
		if changed {
			st = RefreshTotals(st, next, now)
			st.UpdatedAt = now.UTC()
			students[i] = st
			rebuilt++
		}
	}
	if rebuilt > 0 {
		if err := s.saveStudents(ctx, students); err != nil {
			return AppSettings{}, err
		}
	}
	if err := s.repo.SaveSettings(ctx, next); err != nil {
		return AppSettings{}, fmt.Errorf("billing: save settings: %w", err)
	}
	s.logger.Info("settings updated", slog.String("cycle", string(next.Cycle())), slog.Int("rebuilt", rebuilt))
	s.after(ctx, "settings.update", "settings", map[string]any{"cycle": string(next.Cycle()), "rebuilt": rebuilt})
	return next, nil
}

// RefreshAllTotals recomputes stored totals for every student as of now and
// returns how many changed. Stored totals drift as the date advances.
func (s *Service) RefreshAllTotals(ctx context.Context) (int, error) {
	unlock := shared.LockCollection(store.KeyStudents)
	defer unlock()

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return 0, err
	}
	students, err := s.loadStudents(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	changed := 0
	for i, st := range students {
		refreshed := RefreshTotals(st, settings, now)
		if refreshed.TotalPaid != st.TotalPaid || refreshed.TotalOwed != st.TotalOwed {
			students[i] = refreshed
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.saveStudents(ctx, students); err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return changed, nil
}

func (s *Service) mutate(ctx context.Context, id, action string, meta map[string]any, fn func(Student, AppSettings, time.Time) (Student, error)) (Student, error) {
	unlock := shared.LockCollection(store.KeyStudents)
	defer unlock()

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return Student{}, err
	}
	students, err := s.loadStudents(ctx)
	if err != nil {
		return Student{}, err
	}
	idx := indexOf(students, id)
	if idx < 0 {
		return Student{}, ErrStudentNotFound
	}

	now := s.now()
	updated, err := fn(students[idx], settings, now)
	if err != nil {
		return Student{}, err
	}
	updated.UpdatedAt = now.UTC()
	students[idx] = updated
	if err := s.saveStudents(ctx, students); err != nil {
		return Student{}, err
	}
	s.after(ctx, action, id, meta)
	return updated, nil
}

func (s *Service) studentWithSettings(ctx context.Context, id string) (Student, AppSettings, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return Student{}, AppSettings{}, err
	}
	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return Student{}, AppSettings{}, err
	}
	return st, settings, nil
}

func (s *Service) loadStudents(ctx context.Context) ([]Student, error) {
	students, err := s.repo.LoadStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing: load students: %w", err)
	}
	return students, nil
}

func (s *Service) saveStudents(ctx context.Context, students []Student) error {
	if err := s.repo.SaveStudents(ctx, students); err != nil {
		return fmt.Errorf("billing: save students: %w", err)
	}
	return nil
}

func (s *Service) loadSettings(ctx context.Context) (AppSettings, error) {
	settings, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return AppSettings{}, fmt.Errorf("billing: load settings: %w", err)
	}
	return settings, nil
}

// after records the audit entry and bumps the report cache. Failures are logged only.
func (s *Service) after(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    shared.ActorFromContext(ctx),
			Action:   action,
			Entity:   "student",
			EntityID: entityID,
			Meta:     meta,
			At:       s.now().UTC(),
		})
		if err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	s.invalidate(ctx)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) observe(kind string, amount float64) {
	if s.metrics != nil {
		s.metrics.ObservePayment(kind, amount)
	}
}

func validateStudentInput(in StudentInput, settings AppSettings) (string, error) {
	if strings.TrimSpace(in.FullName) == "" {
		return "", fmt.Errorf("%w: full name required", ErrInvalidStudent)
	}
	if in.AdmissionDate.IsZero() {
		return "", fmt.Errorf("%w: admission date required", ErrInvalidStudent)
	}
	group, ok := settings.FindClassGroup(in.ClassGroup)
	if !ok {
		group, ok = settings.GroupForClass(in.ClassName)
	}
	if in.HasCustomFees && !ValidAmount(in.CustomSchoolFee) {
		return "", ErrInvalidAmount
	}
	if in.HasTransport && (!ValidAmount(in.TransportFee) || in.TransportFee == 0) {
		return "", ErrInvalidAmount
	}
	if !ok {
		if !in.HasCustomFees {
			return "", fmt.Errorf("%w: unknown class group %q", ErrInvalidStudent, in.ClassGroup)
		}
		return strings.TrimSpace(in.ClassGroup), nil
	}
	return group.ID, nil
}

func applyIdentity(st *Student, in StudentInput, group string) {
	st.FullName = strings.TrimSpace(in.FullName)
	st.DateOfBirth = calendar.Day(in.DateOfBirth)
	st.AdmissionDate = calendar.Day(in.AdmissionDate)
	st.ClassGroup = group
	st.ClassName = strings.TrimSpace(in.ClassName)
	st.ParentName = strings.TrimSpace(in.ParentName)
	st.ParentContact = strings.TrimSpace(in.ParentContact)
}

func activationFor(in StudentInput) time.Time {
	if in.TransportActivationDate != nil && !in.TransportActivationDate.IsZero() {
		return *in.TransportActivationDate
	}
	return in.AdmissionDate
}

func normalizeSettings(next AppSettings) (AppSettings, error) {
	if next.BillingCycle == "" {
		next.BillingCycle = calendar.CycleMonthly
	}
	if !next.BillingCycle.Valid() {
		return AppSettings{}, fmt.Errorf("%w: unknown billing cycle %q", ErrInvalidSettings, next.BillingCycle)
	}
	if next.PaymentDueDate < 0 || next.PaymentDueDate > 31 || next.TransportDueDate < 0 || next.TransportDueDate > 31 {
		return AppSettings{}, fmt.Errorf("%w: due day must be between 1 and 31", ErrInvalidSettings)
	}
	if next.AutoPromotionDate.IsZero() {
		next.AutoPromotionDate = MonthDay{Month: time.January, Day: 1}
	}
	seen := map[string]bool{}
	groups := make([]ClassGroup, 0, len(next.ClassGroups))
	for _, g := range next.ClassGroups {
		g.Name = strings.TrimSpace(g.Name)
		if g.Name == "" {
			return AppSettings{}, fmt.Errorf("%w: class group name required", ErrInvalidSettings)
		}
		if !ValidAmount(g.StandardFee) {
			return AppSettings{}, fmt.Errorf("%w: class group %s: %w", ErrInvalidSettings, g.Name, ErrInvalidAmount)
		}
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		if seen[g.ID] {
			return AppSettings{}, fmt.Errorf("%w: duplicate class group id %s", ErrInvalidSettings, g.ID)
		}
		seen[g.ID] = true
		g.StandardFee = round2(g.StandardFee)
		groups = append(groups, g)
	}
	next.ClassGroups = groups
	return next, nil
}

func anyTuitionPayments(students []Student) bool {
	for _, st := range students {
		for _, p := range st.FeePayments {
			if p.AmountPaid > 0 {
				return true
			}
		}
	}
	return false
}

func indexOf(students []Student, id string) int {
	for i, st := range students {
		if st.ID == id {
			return i
		}
	}
	return -1
}
