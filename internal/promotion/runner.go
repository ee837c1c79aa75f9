package promotion

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
)

// RunInput is everything a promotion pass reads.
type RunInput struct {
	Students      []billing.Student
	Settings      billing.AppSettings
	Rules         []Rule
	Ladder        Ladder
	RetainHistory bool
	AsOf          time.Time
}

// Movement describes one student changing class.
type Movement struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// BlockedStudent stays in place because rules failed.
type BlockedStudent struct {
	StudentID   string   `json:"studentId"`
	StudentName string   `json:"studentName"`
	ClassName   string   `json:"className"`
	Reasons     []string `json:"reasons"`
}

// RunResult is the outcome of one pass. Active is the new roster: promoted,
// blocked and unrecognised students, in input order.
type RunResult struct {
	Active      []billing.Student        `json:"-"`
	Promoted    []Movement               `json:"promoted"`
	Transferred []TransferredStudent     `json:"transferred"`
	Pending     []PendingPromotedStudent `json:"pending"`
	Blocked     []BlockedStudent         `json:"blocked"`
	Errors      []string                 `json:"errors"`
	Warnings    []string                 `json:"warnings"`
}

// Message summarises the counts.
func (r RunResult) Message() string {
	return fmt.Sprintf("promoted %d, transferred %d, pending %d, blocked %d, errors %d",
		len(r.Promoted), len(r.Transferred), len(r.Pending), len(r.Blocked), len(r.Errors))
}

// Run moves every student one step up the ladder. A failure for one student
// is recorded and leaves that student unchanged; the batch always completes.
func Run(in RunInput) RunResult {
	ladder := in.Ladder
	if len(ladder.Tracks) == 0 {
		ladder = DefaultLadder()
	}
	res := RunResult{
		Active:      make([]billing.Student, 0, len(in.Students)),
		Promoted:    []Movement{},
		Transferred: []TransferredStudent{},
		Pending:     []PendingPromotedStudent{},
		Blocked:     []BlockedStudent{},
		Errors:      []string{},
		Warnings:    []string{},
	}
	for _, s := range in.Students {
		if err := step(&res, ladder, in, s); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", s.FullName, err))
			res.Active = append(res.Active, s)
		}
	}
	return res
}

func step(res *RunResult, ladder Ladder, in RunInput, s billing.Student) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	level, ok := ladder.Parse(s.ClassName)
	if !ok {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: class %q is not on a promotion ladder, left in place", s.FullName, s.ClassName))
		res.Active = append(res.Active, s)
		return nil
	}
	if reasons := EvaluateRules(in.Rules, s, in.Settings, in.AsOf); len(reasons) > 0 {
		res.Blocked = append(res.Blocked, BlockedStudent{
			StudentID:   s.ID,
			StudentName: s.FullName,
			ClassName:   s.ClassName,
			Reasons:     reasons,
		})
		for _, reason := range reasons {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: blocked, %s", s.FullName, reason))
		}
		res.Active = append(res.Active, s)
		return nil
	}

	outcome := ladder.Successor(level)
	switch outcome.Kind {
	case OutcomePromote:
		next := outcome.Next.Name()
		promoted, err := Promote(s, in.Settings, next, in.AsOf)
		if err != nil {
			return err
		}
		res.Active = append(res.Active, promoted)
		res.Promoted = append(res.Promoted, Movement{StudentID: s.ID, StudentName: s.FullName, From: s.ClassName, To: next})
	case OutcomePending:
		res.Pending = append(res.Pending, MoveToPending(s, outcome.Next.Name(), in.AsOf))
	default:
		res.Transferred = append(res.Transferred, Graduate(s, in.RetainHistory, in.AsOf))
	}
	return nil
}

// AutoRunDecision explains whether the automatic pass should run now.
type AutoRunDecision struct {
	Due     bool   `json:"due"`
	Message string `json:"message"`
}

// CheckAutoRun gates the automatic pass: it must be enabled, today must be the
// configured month and day, and it must not have run already this year.
func CheckAutoRun(settings billing.AppSettings, lastAutoRunYear int, asOf time.Time) AutoRunDecision {
	today := calendar.Day(asOf)
	date := settings.PromotionDate()
	switch {
	case !settings.AutoPromotionEnabled:
		return AutoRunDecision{Message: "automatic promotion is disabled"}
	case !date.Matches(today):
		return AutoRunDecision{Message: fmt.Sprintf("automatic promotion runs on %s, not %s", date, today.Format("01-02"))}
	case lastAutoRunYear >= today.Year():
		return AutoRunDecision{Message: fmt.Sprintf("automatic promotion already ran for %d", today.Year())}
	}
	return AutoRunDecision{Due: true, Message: "automatic promotion due"}
}

// NextAutoRun returns the next configured promotion date strictly after from.
func NextAutoRun(settings billing.AppSettings, from time.Time) (time.Time, error) {
	date := settings.PromotionDate()
	sched, err := cron.ParseStandard(fmt.Sprintf("0 0 %d %d *", date.Day, int(date.Month)))
	if err != nil {
		return time.Time{}, fmt.Errorf("promotion: schedule %s: %w", date, err)
	}
	next := sched.Next(from.UTC())
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("promotion: no run date for %s", date)
	}
	return next, nil
}
