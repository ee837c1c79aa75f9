package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
)

const (
	TriggerManual    = "manual"
	TriggerAutomatic = "automatic"

	runHistoryLimit = 50
)

// RepositoryPort defines data access for the promotion collections.
type RepositoryPort interface {
	LoadTransferred(ctx context.Context) ([]TransferredStudent, error)
	SaveTransferred(ctx context.Context, students []TransferredStudent) error
	LoadPending(ctx context.Context) ([]PendingPromotedStudent, error)
	SavePending(ctx context.Context, students []PendingPromotedStudent) error
	LoadRules(ctx context.Context) ([]Rule, error)
	SaveRules(ctx context.Context, rules []Rule) error
	LoadRuns(ctx context.Context) ([]RunRecord, error)
	CommitRun(ctx context.Context, c RunCommit) error
}

// StudentStore is the slice of the billing repository promotion needs.
type StudentStore interface {
	LoadStudents(ctx context.Context) ([]billing.Student, error)
	SaveStudents(ctx context.Context, students []billing.Student) error
	LoadSettings(ctx context.Context) (billing.AppSettings, error)
}

// OutcomeObserver counts students per run outcome.
type OutcomeObserver interface {
	ObservePromotion(outcome string, count int)
}

// Service applies promotion transitions to the stored roster.
type Service struct {
	repo     RepositoryPort
	students StudentStore
	audit    billing.AuditPort
	cache    billing.Invalidator
	metrics  OutcomeObserver
	logger   *slog.Logger
	ladder   Ladder
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, students StudentStore, audit billing.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, students: students, audit: audit, logger: logger, ladder: DefaultLadder(), now: time.Now}
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

// WithMetrics registers an outcome observer.
func (s *Service) WithMetrics(metrics OutcomeObserver) *Service {
	s.metrics = metrics
	return s
}

// WithLadder replaces the default class progressions.
func (s *Service) WithLadder(l Ladder) *Service {
	if len(l.Tracks) > 0 {
		s.ladder = l
	}
	return s
}

// RunOptions tunes a manual pass.
type RunOptions struct {
	RetainHistory bool
	DryRun        bool
}

// Preview computes a pass without saving anything.
func (s *Service) Preview(ctx context.Context, retainHistory bool) (RunResult, error) {
	return s.Run(ctx, RunOptions{RetainHistory: retainHistory, DryRun: true})
}

// Run promotes the whole roster now.
func (s *Service) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	unlock := lockAll()
	defer unlock()
	return s.run(ctx, TriggerManual, opts)
}

// AutoRunResult reports what the automatic trigger did.
type AutoRunResult struct {
	Ran     bool       `json:"ran"`
	Message string     `json:"message"`
	Result  *RunResult `json:"result,omitempty"`
}

// RunAutomatic runs the pass when CheckAutoRun allows it. Any other day is a
// no-op with an explanatory message.
func (s *Service) RunAutomatic(ctx context.Context) (AutoRunResult, error) {
	unlock := lockAll()
	defer unlock()

	settings, err := s.students.LoadSettings(ctx)
	if err != nil {
		return AutoRunResult{}, fmt.Errorf("promotion: load settings: %w", err)
	}
	runs, err := s.repo.LoadRuns(ctx)
	if err != nil {
		return AutoRunResult{}, fmt.Errorf("promotion: load runs: %w", err)
	}
	decision := CheckAutoRun(settings, lastAutomaticYear(runs), s.now())
	if !decision.Due {
		s.logger.Info("automatic promotion skipped", slog.String("reason", decision.Message))
		return AutoRunResult{Message: decision.Message}, nil
	}
	res, err := s.run(ctx, TriggerAutomatic, RunOptions{})
	if err != nil {
		return AutoRunResult{}, err
	}
	return AutoRunResult{Ran: true, Message: res.Message(), Result: &res}, nil
}

func (s *Service) run(ctx context.Context, trigger string, opts RunOptions) (RunResult, error) {
	settings, err := s.students.LoadSettings(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("promotion: load settings: %w", err)
	}
	students, err := s.students.LoadStudents(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("promotion: load students: %w", err)
	}
	rules, err := s.repo.LoadRules(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("promotion: load rules: %w", err)
	}
	now := s.now()
	res := Run(RunInput{
		Students:      students,
		Settings:      settings,
		Rules:         rules,
		Ladder:        s.ladder,
		RetainHistory: opts.RetainHistory,
		AsOf:          now,
	})
	if opts.DryRun {
		return res, nil
	}

	transferred, err := s.repo.LoadTransferred(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("promotion: load transferred: %w", err)
	}
	pending, err := s.repo.LoadPending(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("promotion: load pending: %w", err)
	}
	runs, err := s.repo.LoadRuns(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("promotion: load runs: %w", err)
	}
	err = s.repo.CommitRun(ctx, RunCommit{
		Students:    res.Active,
		Transferred: mergeTransferred(transferred, res.Transferred),
		Pending:     mergePending(pending, res.Pending),
		Runs:        appendRun(runs, s.runRecord(ctx, trigger, res, now)),
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("promotion: save run: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObservePromotion("promoted", len(res.Promoted))
		s.metrics.ObservePromotion("transferred", len(res.Transferred))
		s.metrics.ObservePromotion("pending", len(res.Pending))
		s.metrics.ObservePromotion("blocked", len(res.Blocked))
	}
	s.logger.Info("promotion run complete",
		slog.String("trigger", trigger),
		slog.Int("promoted", len(res.Promoted)),
		slog.Int("transferred", len(res.Transferred)),
		slog.Int("pending", len(res.Pending)),
		slog.Int("blocked", len(res.Blocked)),
		slog.Int("errors", len(res.Errors)),
	)
	s.after(ctx, "promotion.run", "run", trigger, map[string]any{
		"promoted":    len(res.Promoted),
		"transferred": len(res.Transferred),
		"pending":     len(res.Pending),
		"blocked":     len(res.Blocked),
	})
	return res, nil
}

// runRecord summarises a pass. Year is the local calendar year of at, the
// same year CheckAutoRun compares against.
func (s *Service) runRecord(ctx context.Context, trigger string, res RunResult, at time.Time) RunRecord {
	return RunRecord{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		Year:        calendar.Day(at).Year(),
		At:          at.UTC(),
		Actor:       shared.ActorFromContext(ctx),
		Promoted:    len(res.Promoted),
		Transferred: len(res.Transferred),
		Pending:     len(res.Pending),
		Blocked:     len(res.Blocked),
		Errors:      len(res.Errors),
	}
}

func appendRun(runs []RunRecord, r RunRecord) []RunRecord {
	runs = append(runs, r)
	if len(runs) > runHistoryLimit {
		runs = runs[len(runs)-runHistoryLimit:]
	}
	return runs
}

// mergeTransferred appends added, replacing any entry with the same student id.
func mergeTransferred(existing, added []TransferredStudent) []TransferredStudent {
	out := slices.DeleteFunc(slices.Clone(existing), func(t TransferredStudent) bool {
		return slices.ContainsFunc(added, func(a TransferredStudent) bool { return a.ID == t.ID })
	})
	return append(out, added...)
}

func mergePending(existing, added []PendingPromotedStudent) []PendingPromotedStudent {
	out := slices.DeleteFunc(slices.Clone(existing), func(p PendingPromotedStudent) bool {
		return slices.ContainsFunc(added, func(a PendingPromotedStudent) bool { return a.ID == p.ID })
	})
	return append(out, added...)
}

func lastAutomaticYear(runs []RunRecord) int {
	last := 0
	for _, r := range runs {
		if r.Trigger == TriggerAutomatic && r.Year > last {
			last = r.Year
		}
	}
	return last
}

// TransferStudent removes one student from the roster.
func (s *Service) TransferStudent(ctx context.Context, id, reason string, retainHistory bool) (TransferredStudent, error) {
	unlock := lockAll()
	defer unlock()

	students, err := s.students.LoadStudents(ctx)
	if err != nil {
		return TransferredStudent{}, fmt.Errorf("promotion: load students: %w", err)
	}
	idx := studentIndex(students, id)
	if idx < 0 {
		return TransferredStudent{}, billing.ErrStudentNotFound
	}
	transferred, err := s.repo.LoadTransferred(ctx)
	if err != nil {
		return TransferredStudent{}, fmt.Errorf("promotion: load transferred: %w", err)
	}

	t := Transfer(students[idx], reason, retainHistory, s.now())
	if err := s.repo.SaveTransferred(ctx, append(transferred, t)); err != nil {
		return TransferredStudent{}, fmt.Errorf("promotion: save transferred: %w", err)
	}
	students = append(students[:idx], students[idx+1:]...)
	if err := s.students.SaveStudents(ctx, students); err != nil {
		return TransferredStudent{}, fmt.Errorf("promotion: save students: %w", err)
	}
	s.after(ctx, "promotion.transfer", id, "", map[string]any{"reason": t.TransferReason, "retained": retainHistory})
	return t, nil
}

// ListTransferred returns the transferred collection, newest first.
func (s *Service) ListTransferred(ctx context.Context) ([]TransferredStudent, error) {
	out, err := s.repo.LoadTransferred(ctx)
	if err != nil {
		return nil, fmt.Errorf("promotion: load transferred: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// ListPending returns students awaiting placement, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]PendingPromotedStudent, error) {
	out, err := s.repo.LoadPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("promotion: load pending: %w", err)
	}
	return out, nil
}

// RestorePending places a pending student into its target class, or override.
func (s *Service) RestorePending(ctx context.Context, id, override string) (billing.Student, error) {
	unlock := lockAll()
	defer unlock()

	pending, err := s.repo.LoadPending(ctx)
	if err != nil {
		return billing.Student{}, fmt.Errorf("promotion: load pending: %w", err)
	}
	idx := -1
	for i, p := range pending {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return billing.Student{}, ErrNotFound
	}
	settings, students, err := s.roster(ctx)
	if err != nil {
		return billing.Student{}, err
	}

	restored, err := RestorePending(pending[idx], settings, override, s.now())
	if err != nil {
		return billing.Student{}, err
	}
	if err := s.students.SaveStudents(ctx, upsert(students, restored)); err != nil {
		return billing.Student{}, fmt.Errorf("promotion: save students: %w", err)
	}
	pending = append(pending[:idx], pending[idx+1:]...)
	if err := s.repo.SavePending(ctx, pending); err != nil {
		return billing.Student{}, fmt.Errorf("promotion: save pending: %w", err)
	}
	s.after(ctx, "promotion.restore_pending", id, "", map[string]any{"className": restored.ClassName})
	return restored, nil
}

// RestoreTransferred returns a transferred student to the roster.
func (s *Service) RestoreTransferred(ctx context.Context, id string) (billing.Student, error) {
	unlock := lockAll()
	defer unlock()

	transferred, err := s.repo.LoadTransferred(ctx)
	if err != nil {
		return billing.Student{}, fmt.Errorf("promotion: load transferred: %w", err)
	}
	idx := -1
	for i, t := range transferred {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return billing.Student{}, ErrNotFound
	}
	settings, students, err := s.roster(ctx)
	if err != nil {
		return billing.Student{}, err
	}

	restored := RestoreTransferred(transferred[idx], settings, s.now())
	if err := s.students.SaveStudents(ctx, upsert(students, restored)); err != nil {
		return billing.Student{}, fmt.Errorf("promotion: save students: %w", err)
	}
	transferred = append(transferred[:idx], transferred[idx+1:]...)
	if err := s.repo.SaveTransferred(ctx, transferred); err != nil {
		return billing.Student{}, fmt.Errorf("promotion: save transferred: %w", err)
	}
	s.after(ctx, "promotion.restore_transferred", id, "", map[string]any{"className": restored.ClassName})
	return restored, nil
}

// Rules returns the configured promotion rules.
func (s *Service) Rules(ctx context.Context) ([]Rule, error) {
	rules, err := s.repo.LoadRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("promotion: load rules: %w", err)
	}
	return rules, nil
}

// SaveRules replaces the rule set. Rules without an id get one.
func (s *Service) SaveRules(ctx context.Context, rules []Rule) ([]Rule, error) {
	for i := range rules {
		rules[i].Name = strings.TrimSpace(rules[i].Name)
		if rules[i].Name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", ErrInvalidRule, i+1)
		}
		if m := rules[i].Conditions.MaxOutstandingAmount; m != nil && !billing.ValidAmount(*m) {
			return nil, fmt.Errorf("%w: %s has a negative outstanding limit", ErrInvalidRule, rules[i].Name)
		}
		if rules[i].Conditions.MinimumAgeYears < 0 {
			return nil, fmt.Errorf("%w: %s has a negative minimum age", ErrInvalidRule, rules[i].Name)
		}
		if rules[i].ID == "" {
			rules[i].ID = uuid.NewString()
		}
	}
	if err := s.repo.SaveRules(ctx, rules); err != nil {
		return nil, fmt.Errorf("promotion: save rules: %w", err)
	}
	s.after(ctx, "promotion.rules_update", "rules", "", map[string]any{"count": len(rules)})
	return rules, nil
}

// Runs returns the stored run history, newest first.
func (s *Service) Runs(ctx context.Context) ([]RunRecord, error) {
	runs, err := s.repo.LoadRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("promotion: load runs: %w", err)
	}
	slices.Reverse(runs)
	return runs, nil
}

// Schedule reports the next automatic run date.
type Schedule struct {
	Enabled bool      `json:"enabled"`
	Date    string    `json:"date"`
	NextRun time.Time `json:"nextRun"`
}

// NextRun computes the next automatic run from the stored settings.
func (s *Service) NextRun(ctx context.Context) (Schedule, error) {
	settings, err := s.students.LoadSettings(ctx)
	if err != nil {
		return Schedule{}, fmt.Errorf("promotion: load settings: %w", err)
	}
	next, err := NextAutoRun(settings, s.now())
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{Enabled: settings.AutoPromotionEnabled, Date: settings.PromotionDate().String(), NextRun: next}, nil
}

func (s *Service) roster(ctx context.Context) (billing.AppSettings, []billing.Student, error) {
	settings, err := s.students.LoadSettings(ctx)
	if err != nil {
		return billing.AppSettings{}, nil, fmt.Errorf("promotion: load settings: %w", err)
	}
	students, err := s.students.LoadStudents(ctx)
	if err != nil {
		return billing.AppSettings{}, nil, fmt.Errorf("promotion: load students: %w", err)
	}
	return settings, students, nil
}

func (s *Service) after(ctx context.Context, action, entityID, trigger string, meta map[string]any) {
	if trigger != "" {
		meta["trigger"] = trigger
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    shared.ActorFromContext(ctx),
			Action:   action,
			Entity:   "promotion",
			EntityID: entityID,
			Meta:     meta,
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

// lockAll takes the roster locks in a fixed order.
func lockAll() func() {
	students := shared.LockCollection(store.KeyStudents)
	transferred := shared.LockCollection(store.KeyTransferred)
	pending := shared.LockCollection(store.KeyPending)
	runs := shared.LockCollection(store.KeyPromotionRuns)
	return func() {
		runs()
		pending()
		transferred()
		students()
	}
}

func studentIndex(students []billing.Student, id string) int {
	for i, st := range students {
		if st.ID == id {
			return i
		}
	}
	return -1
}

func upsert(students []billing.Student, st billing.Student) []billing.Student {
	if idx := studentIndex(students, st.ID); idx >= 0 {
		students[idx] = st
		return students
	}
	return append(students, st)
}
