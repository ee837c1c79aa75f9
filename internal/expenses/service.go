package expenses

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

// RepositoryPort defines data access for expenses.
type RepositoryPort interface {
	LoadExpenses(ctx context.Context) ([]Expense, error)
	SaveExpenses(ctx context.Context, expenses []Expense) error
}

// Repository stores expenses as one KV collection.
type Repository struct {
	kv store.KV
}

// NewRepository constructs a repository.
func NewRepository(kv store.KV) *Repository {
	return &Repository{kv: kv}
}

func (r *Repository) LoadExpenses(ctx context.Context) ([]Expense, error) {
	out := []Expense{}
	if _, err := store.LoadJSON(ctx, r.kv, store.KeyExpenses, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) SaveExpenses(ctx context.Context, expenses []Expense) error {
	if expenses == nil {
		expenses = []Expense{}
	}
	return store.SaveJSON(ctx, r.kv, store.KeyExpenses, expenses)
}

// Input carries the editable fields of an expense.
type Input struct {
	Category string
	Title    string
	Amount   float64
	Date     time.Time
	Notes    string
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Year     int
	Category string
}

// Service manages expenses.
type Service struct {
	repo   RepositoryPort
	audit  billing.AuditPort
	cache  billing.Invalidator
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit billing.AuditPort, logger *slog.Logger) *Service {
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
func (s *Service) WithCache(cache billing.Invalidator) *Service {
	s.cache = cache
	return s
}

// List returns matching expenses, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Expense, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Expense, 0, len(all))
	for _, e := range all {
		if filter.Year != 0 && e.Date.Year() != filter.Year {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(categoryOf(e), filter.Category) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// Create records a new expense.
func (s *Service) Create(ctx context.Context, in Input) (Expense, error) {
	if err := validate(in); err != nil {
		return Expense{}, err
	}
	unlock := shared.LockCollection(store.KeyExpenses)
	defer unlock()

	all, err := s.load(ctx)
	if err != nil {
		return Expense{}, err
	}
	now := s.now().UTC()
	e := apply(Expense{ID: uuid.NewString(), CreatedAt: now}, in)
	e.UpdatedAt = now
	if err := s.save(ctx, append(all, e)); err != nil {
		return Expense{}, err
	}
	s.after(ctx, "expense.create", e)
	return e, nil
}

// Update replaces the editable fields of an expense.
func (s *Service) Update(ctx context.Context, id string, in Input) (Expense, error) {
	if err := validate(in); err != nil {
		return Expense{}, err
	}
	unlock := shared.LockCollection(store.KeyExpenses)
	defer unlock()

	all, err := s.load(ctx)
	if err != nil {
		return Expense{}, err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return Expense{}, ErrNotFound
	}
	e := apply(all[idx], in)
	e.UpdatedAt = s.now().UTC()
	all[idx] = e
	if err := s.save(ctx, all); err != nil {
		return Expense{}, err
	}
	s.after(ctx, "expense.update", e)
	return e, nil
}

// Delete removes an expense.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := shared.LockCollection(store.KeyExpenses)
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
	s.after(ctx, "expense.delete", removed)
	return nil
}

// Summary totals the expenses of year. Zero means the current year.
func (s *Service) Summary(ctx context.Context, year int) (Summary, error) {
	if year == 0 {
		year = s.now().Year()
	}
	all, err := s.load(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(all, year), nil
}

func (s *Service) load(ctx context.Context) ([]Expense, error) {
	all, err := s.repo.LoadExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("expenses: load: %w", err)
	}
	return all, nil
}

func (s *Service) save(ctx context.Context, all []Expense) error {
	if err := s.repo.SaveExpenses(ctx, all); err != nil {
		return fmt.Errorf("expenses: save: %w", err)
	}
	return nil
}

func (s *Service) after(ctx context.Context, action string, e Expense) {
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    shared.ActorFromContext(ctx),
			Action:   action,
			Entity:   "expense",
			EntityID: e.ID,
			Meta:     map[string]any{"amount": e.Amount, "category": e.Category},
			At:       s.now().UTC(),
		})
		if err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("cache bump failed", slog.Any("error", err))
		}
	}
}

func validate(in Input) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidExpense)
	}
	if !billing.ValidAmount(in.Amount) || in.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidExpense)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date required", ErrInvalidExpense)
	}
	return nil
}

func apply(e Expense, in Input) Expense {
	e.Category = strings.TrimSpace(in.Category)
	if e.Category == "" {
		e.Category = DefaultCategory
	}
	e.Title = strings.TrimSpace(in.Title)
	e.Amount = in.Amount
	e.Date = calendar.Day(in.Date)
	e.Notes = strings.TrimSpace(in.Notes)
	return e
}

func indexOf(all []Expense, id string) int {
	for i, e := range all {
		if e.ID == id {
			return i
		}
	}
	return -1
}
