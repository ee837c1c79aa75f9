package extrabilling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
)

// RepositoryPort defines data access for extra charges.
type RepositoryPort interface {
	LoadCharges(ctx context.Context) ([]ExtraCharge, error)
	SaveCharges(ctx context.Context, charges []ExtraCharge) error
}

// StudentLister reads the active roster.
type StudentLister interface {
	LoadStudents(ctx context.Context) ([]billing.Student, error)
}

// Repository stores charges as one KV collection.
type Repository struct {
	kv store.KV
}

// NewRepository constructs a repository.
func NewRepository(kv store.KV) *Repository {
	return &Repository{kv: kv}
}

func (r *Repository) LoadCharges(ctx context.Context) ([]ExtraCharge, error) {
	out := []ExtraCharge{}
	if _, err := store.LoadJSON(ctx, r.kv, store.KeyExtraCharges, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) SaveCharges(ctx context.Context, charges []ExtraCharge) error {
	if charges == nil {
		charges = []ExtraCharge{}
	}
	return store.SaveJSON(ctx, r.kv, store.KeyExtraCharges, charges)
}

// Input describes a new charge for one student or for every student in a class.
type Input struct {
	StudentID string
	ClassName string
	Title     string
	Amount    float64
	DueDate   time.Time
}

// Filter narrows List.
type Filter struct {
	StudentID string
	OpenOnly  bool
}

// Service manages extra charges.
type Service struct {
	repo     RepositoryPort
	students StudentLister
	audit    billing.AuditPort
	cache    billing.Invalidator
	metrics  billing.PaymentObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, students StudentLister, audit billing.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, students: students, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithCache registers a cache to bump after writes.
func (s *Service) WithCache(cache billing.Invalidator) *Service {
	s.cache = cache
	return s
}

// WithMetrics registers a payment observer.
func (s *Service) WithMetrics(metrics billing.PaymentObserver) *Service {
	s.metrics = metrics
	return s
}

// List returns matching charges ordered by due date.
func (s *Service) List(ctx context.Context, filter Filter) ([]ExtraCharge, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ExtraCharge, 0, len(all))
	for _, c := range all {
		if filter.StudentID != "" && c.StudentID != filter.StudentID {
			continue
		}
		if filter.OpenOnly && c.Paid {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

// Create bills one student, or every student whose class matches ClassName.
func (s *Service) Create(ctx context.Context, in Input) ([]ExtraCharge, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.ClassName = strings.TrimSpace(in.ClassName)
	switch {
	case in.Title == "":
		return nil, fmt.Errorf("%w: title required", ErrInvalidCharge)
	case !billing.ValidAmount(in.Amount) || in.Amount == 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidCharge)
	case (in.StudentID == "") == (in.ClassName == ""):
		return nil, fmt.Errorf("%w: give either a student or a class", ErrInvalidCharge)
	}

	roster, err := s.students.LoadStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("extrabilling: load students: %w", err)
	}
	var targets []billing.Student
	for _, st := range roster {
		if in.StudentID != "" && st.ID == in.StudentID {
			targets = append(targets, st)
		}
		if in.ClassName != "" && strings.EqualFold(st.ClassName, in.ClassName) {
			targets = append(targets, st)
		}
	}
	if len(targets) == 0 {
		if in.StudentID != "" {
			return nil, billing.ErrStudentNotFound
		}
		return nil, ErrNoStudents
	}

	now := s.now()
	due := calendar.Day(now)
	if !in.DueDate.IsZero() {
		due = calendar.Day(in.DueDate)
	}
	batch := ""
	if in.ClassName != "" {
		batch = uuid.NewString()
	}
	created := make([]ExtraCharge, 0, len(targets))
	for _, st := range targets {
		c := ExtraCharge{
			ID:          uuid.NewString(),
			StudentID:   st.ID,
			StudentName: st.FullName,
			ClassName:   st.ClassName,
			BatchID:     batch,
			Title:       in.Title,
			Amount:      roundMoney(in.Amount),
			DueDate:     due,
			CreatedAt:   now.UTC(),
		}
		settle(&c)
		created = append(created, c)
	}

	unlock := shared.LockCollection(store.KeyExtraCharges)
	defer unlock()
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, append(all, created...)); err != nil {
		return nil, err
	}
	for _, c := range created {
		s.record(ctx, "extra.create", c)
	}
	s.invalidate(ctx)
	return created, nil
}

// RecordPayment sets the amount paid against a charge.
func (s *Service) RecordPayment(ctx context.Context, id string, amount float64) (ExtraCharge, error) {
	unlock := shared.LockCollection(store.KeyExtraCharges)
	defer unlock()

	all, err := s.load(ctx)
	if err != nil {
		return ExtraCharge{}, err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return ExtraCharge{}, ErrNotFound
	}
	updated, err := RecordPayment(all[idx], amount, s.now())
	if err != nil {
		return ExtraCharge{}, err
	}
	all[idx] = updated
	if err := s.save(ctx, all); err != nil {
		return ExtraCharge{}, err
	}
	if s.metrics != nil {
		s.metrics.ObservePayment("extra", amount)
	}
	s.record(ctx, "extra.payment", updated)
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes a charge.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := shared.LockCollection(store.KeyExtraCharges)
	defer unlock()

	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return ErrNotFound
	}
	removed := all[idx]
	if err := s.save(ctx, append(all[:idx], all[idx+1:]...)); err != nil {
		return err
	}
	s.record(ctx, "extra.delete", removed)
	s.invalidate(ctx)
	return nil
}

// Balances returns per-student totals across all charges.
func (s *Service) Balances(ctx context.Context) ([]StudentBalance, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return Balances(all), nil
}

// StudentOutstanding returns what one student still owes in extra charges.
func (s *Service) StudentOutstanding(ctx context.Context, studentID string) (float64, error) {
	charges, err := s.List(ctx, Filter{StudentID: studentID})
	if err != nil {
		return 0, err
	}
	if b := Balances(charges); len(b) > 0 {
		return b[0].Outstanding, nil
	}
	return 0, nil
}

func (s *Service) load(ctx context.Context) ([]ExtraCharge, error) {
	all, err := s.repo.LoadCharges(ctx)
	if err != nil {
		return nil, fmt.Errorf("extrabilling: load: %w", err)
	}
	return all, nil
}

func (s *Service) save(ctx context.Context, all []ExtraCharge) error {
	if err := s.repo.SaveCharges(ctx, all); err != nil {
		return fmt.Errorf("extrabilling: save: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, action string, c ExtraCharge) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "extra_charge",
		EntityID: c.ID,
		Meta:     map[string]any{"studentId": c.StudentID, "amount": c.Amount, "amountPaid": c.AmountPaid},
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("cache bump failed", slog.Any("error", err))
	}
}

func indexOf(all []ExtraCharge, id string) int {
	for i, c := range all {
		if c.ID == id {
			return i
		}
	}
	return -1
}
