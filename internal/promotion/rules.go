package promotion

import (
	"fmt"
	"strings"
	"time"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
)

// Conditions a student must meet for a rule to pass.
type Conditions struct {
	MaxOutstandingAmount *float64 `json:"maxOutstandingAmount,omitempty"`
	MinimumAgeYears      int      `json:"minimumAgeYears,omitempty"`
	// ClassGroups scopes the rule; empty applies it to every group.
	ClassGroups []string `json:"classGroups,omitempty"`
}

// Rule gates promotion.
type Rule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Enabled    bool       `json:"enabled"`
	Conditions Conditions `json:"conditions"`
}

func (r Rule) appliesTo(s billing.Student) bool {
	if len(r.Conditions.ClassGroups) == 0 {
		return true
	}
	for _, g := range r.Conditions.ClassGroups {
		if strings.EqualFold(g, s.ClassGroup) {
			return true
		}
	}
	return false
}

// EvaluateRules returns one reason per failed condition of every enabled rule
// that applies to s. An empty result means s may move on.
func EvaluateRules(rules []Rule, s billing.Student, settings billing.AppSettings, asOf time.Time) []string {
	var reasons []string
	var outstanding *float64
	for _, r := range rules {
		if !r.Enabled || !r.appliesTo(s) {
			continue
		}
		label := r.Name
		if label == "" {
			label = r.ID
		}
		c := r.Conditions
		if c.MaxOutstandingAmount != nil {
			if outstanding == nil {
				total := billing.CalculateOutstandingFromEnrollment(s, settings, asOf).Total
				outstanding = &total
			}
			if *outstanding > *c.MaxOutstandingAmount+billing.Tolerance {
				reasons = append(reasons, fmt.Sprintf("%s: outstanding %.2f exceeds %.2f", label, *outstanding, *c.MaxOutstandingAmount))
			}
		}
		if c.MinimumAgeYears > 0 {
			if s.DateOfBirth.IsZero() {
				reasons = append(reasons, fmt.Sprintf("%s: date of birth unknown", label))
			} else if age := AgeYears(s.DateOfBirth, asOf); age < c.MinimumAgeYears {
				reasons = append(reasons, fmt.Sprintf("%s: age %d below minimum %d", label, age, c.MinimumAgeYears))
			}
		}
	}
	return reasons
}

// AgeYears returns completed years between birth and asOf.
func AgeYears(birth, asOf time.Time) int {
	b, d := calendar.Day(birth), calendar.Day(asOf)
	years := d.Year() - b.Year()
	if d.Month() < b.Month() || (d.Month() == b.Month() && d.Day() < b.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
