// Package expenses tracks school spending alongside fee income.
package expenses

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolledger/schoolledger/internal/calendar"
)

var (
	// ErrNotFound indicates an unknown expense id.
	ErrNotFound = errors.New("expenses: expense not found")
	// ErrInvalidExpense rejects a malformed expense.
	ErrInvalidExpense = errors.New("expenses: invalid expense")
)

// DefaultCategory is used when no category is given.
const DefaultCategory = "General"

// Expense is one recorded outgoing.
type Expense struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Amount    float64   `json:"amount"`
	Date      time.Time `json:"date"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CategoryTotal is the spend of one category.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// MonthTotal is the spend of one calendar month.
type MonthTotal struct {
	Month     int     `json:"month"`
	MonthName string  `json:"monthName"`
	Total     float64 `json:"total"`
}

// Summary aggregates a year of expenses.
type Summary struct {
	Year       int             `json:"year"`
	Total      float64         `json:"total"`
	Count      int             `json:"count"`
	ByCategory []CategoryTotal `json:"byCategory"`
	ByMonth    []MonthTotal    `json:"byMonth"`
}

// Summarize totals the expenses dated in year by category (largest first) and
// by month (all twelve, zero when empty).
func Summarize(expenses []Expense, year int) Summary {
	var total decimal.Decimal
	byCategory := map[string]decimal.Decimal{}
	counts := map[string]int{}
	byMonth := make([]decimal.Decimal, 12)
	count := 0
	for _, e := range expenses {
		if e.Date.Year() != year {
			continue
		}
		amount := decimal.NewFromFloat(e.Amount)
		total = total.Add(amount)
		cat := categoryOf(e)
		byCategory[cat] = byCategory[cat].Add(amount)
		counts[cat]++
		byMonth[e.Date.Month()-1] = byMonth[e.Date.Month()-1].Add(amount)
		count++
	}

	out := Summary{
		Year:       year,
		Total:      total.Round(2).InexactFloat64(),
		Count:      count,
		ByCategory: make([]CategoryTotal, 0, len(byCategory)),
		ByMonth:    make([]MonthTotal, 12),
	}
	for cat, sum := range byCategory {
		out.ByCategory = append(out.ByCategory, CategoryTotal{Category: cat, Total: sum.Round(2).InexactFloat64(), Count: counts[cat]})
	}
	sort.Slice(out.ByCategory, func(i, j int) bool {
		if out.ByCategory[i].Total != out.ByCategory[j].Total {
			return out.ByCategory[i].Total > out.ByCategory[j].Total
		}
		return out.ByCategory[i].Category < out.ByCategory[j].Category
	})
	for i := range byMonth {
		out.ByMonth[i] = MonthTotal{Month: i + 1, MonthName: calendar.MonthName(i + 1), Total: byMonth[i].Round(2).InexactFloat64()}
	}
	return out
}

func categoryOf(e Expense) string {
	cat := strings.TrimSpace(e.Category)
	if cat == "" {
		return DefaultCategory
	}
	return cat
}
