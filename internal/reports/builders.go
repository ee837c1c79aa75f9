// Package reports builds read-only views over students, charges and expenses:
// per-class balances, debtor lists, income against spending and printable
// student statements.
package reports

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/expenses"
	"github.com/schoolledger/schoolledger/internal/extrabilling"
	"github.com/schoolledger/schoolledger/internal/promotion"
)

// Snapshot is everything a report reads, loaded once.
type Snapshot struct {
	Students []billing.Student
	Settings billing.AppSettings
	Charges  []extrabilling.ExtraCharge
	Expenses []expenses.Expense
}

// ClassRow is the fee position of one class.
type ClassRow struct {
	ClassName            string  `json:"className"`
	ClassGroup           string  `json:"classGroup"`
	Students             int     `json:"students"`
	ExpectedToDate       float64 `json:"expectedToDate"`
	Paid                 float64 `json:"paid"`
	TuitionOutstanding   float64 `json:"tuitionOutstanding"`
	TransportOutstanding float64 `json:"transportOutstanding"`
	Outstanding          float64 `json:"outstanding"`
}

// ClassBreakdown groups students by class name in ladder order. Outstanding
// amounts are accrued since enrollment; expected and paid include transport.
func ClassBreakdown(students []billing.Student, settings billing.AppSettings, asOf time.Time) []ClassRow {
	type acc struct {
		row                                ClassRow
		expected, paid, tuition, transport dec
	}
	index := map[string]*acc{}
	for _, s := range students {
		name := strings.TrimSpace(s.ClassName)
		key := strings.ToLower(name)
		a, ok := index[key]
		if !ok {
			a = &acc{row: ClassRow{ClassName: name, ClassGroup: groupName(settings, s.ClassGroup)}}
			index[key] = a
		}
		a.row.Students++
		t := billing.CalculateStudentTotals(s, settings, asOf)
		o := billing.CalculateOutstandingFromEnrollment(s, settings, asOf)
		a.expected.add(t.ExpectedToDate)
		a.paid.add(t.TotalPaid)
		a.tuition.add(o.Tuition)
		a.transport.add(o.Transport)
	}
	out := make([]ClassRow, 0, len(index))
	for _, a := range index {
		a.row.ExpectedToDate = a.expected.float()
		a.row.Paid = a.paid.float()
		a.row.TuitionOutstanding = a.tuition.float()
		a.row.TransportOutstanding = a.transport.float()
		a.row.Outstanding = a.tuition.plus(a.transport).float()
		out = append(out, a.row)
	}
	sort.Slice(out, func(i, j int) bool { return classLess(out[i].ClassName, out[j].ClassName) })
	return out
}

// OutstandingRow is one student who still owes money.
type OutstandingRow struct {
	StudentID     string                      `json:"studentId"`
	FullName      string                      `json:"fullName"`
	ClassName     string                      `json:"className"`
	ParentName    string                      `json:"parentName,omitempty"`
	ParentContact string                      `json:"parentContact,omitempty"`
	Tuition       float64                     `json:"tuition"`
	Transport     float64                     `json:"transport"`
	Extra         float64                     `json:"extra"`
	Total         float64                     `json:"total"`
	Periods       []billing.PeriodOutstanding `json:"periods"`
}

// OutstandingList returns every student with a balance, largest first.
func OutstandingList(students []billing.Student, settings billing.AppSettings, charges []extrabilling.ExtraCharge, asOf time.Time) []OutstandingRow {
	extra := map[string]float64{}
	for _, b := range extrabilling.Balances(charges) {
		extra[b.StudentID] = b.Outstanding
	}
	out := []OutstandingRow{}
	for _, s := range students {
		o := billing.CalculateOutstandingFromEnrollment(s, settings, asOf)
		var total dec
		total.add(o.Total)
		total.add(extra[s.ID])
		if total.float() <= billing.Tolerance {
			continue
		}
		out = append(out, OutstandingRow{
			StudentID:     s.ID,
			FullName:      s.FullName,
			ClassName:     s.ClassName,
			ParentName:    s.ParentName,
			ParentContact: s.ParentContact,
			Tuition:       o.Tuition,
			Transport:     o.Transport,
			Extra:         extra[s.ID],
			Total:         total.float(),
			Periods:       o.Periods,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].FullName < out[j].FullName
	})
	return out
}

// FinanceSummary sets fee and extra income against spending for one year.
type FinanceSummary struct {
	Year             int                   `json:"year"`
	AsOf             time.Time             `json:"asOf"`
	Fees             billing.SchoolSummary `json:"fees"`
	ExtraCharged     float64               `json:"extraCharged"`
	ExtraPaid        float64               `json:"extraPaid"`
	ExtraOutstanding float64               `json:"extraOutstanding"`
	Income           float64               `json:"income"`
	Expenses         expenses.Summary      `json:"expenses"`
	Net              float64               `json:"net"`
}

// BuildFinanceSummary folds fee totals for students billed in year, extra
// charges due in year, and the year's expenses.
func BuildFinanceSummary(snap Snapshot, year int, asOf time.Time) FinanceSummary {
	var billed []billing.Student
	for _, s := range snap.Students {
		if s.Year() == year {
			billed = append(billed, s)
		}
	}
	var yearCharges []extrabilling.ExtraCharge
	for _, c := range snap.Charges {
		if c.DueDate.Year() == year {
			yearCharges = append(yearCharges, c)
		}
	}
	sum := FinanceSummary{
		Year:     year,
		AsOf:     calendar.Day(asOf),
		Fees:     billing.SchoolTotals(billed, snap.Settings, asOf),
		Expenses: expenses.Summarize(snap.Expenses, year),
	}
	var charged, paid, open dec
	for _, b := range extrabilling.Balances(yearCharges) {
		charged.add(b.Charged)
		paid.add(b.Paid)
		open.add(b.Outstanding)
	}
	sum.ExtraCharged = charged.float()
	sum.ExtraPaid = paid.float()
	sum.ExtraOutstanding = open.float()

	var income dec
	income.add(sum.Fees.TotalPaid)
	income.add(sum.ExtraPaid)
	sum.Income = income.float()
	sum.Net = income.minus(sum.Expenses.Total).float()
	return sum
}

func groupName(settings billing.AppSettings, ref string) string {
	if g, ok := settings.FindClassGroup(ref); ok {
		return g.Name
	}
	return ref
}

// classLess orders classes by ladder position, then unknown classes by name.
func classLess(a, b string) bool {
	ra, ia, oka := ladderRank(a)
	rb, ib, okb := ladderRank(b)
	switch {
	case oka && okb && ra != rb:
		return ra < rb
	case oka && okb && ia != ib:
		return ia < ib
	case oka != okb:
		return oka
	}
	return strings.ToLower(a) < strings.ToLower(b)
}

func ladderRank(name string) (track, index int, ok bool) {
	level, ok := promotion.ParseClass(name)
	if !ok {
		return 0, 0, false
	}
	for i, t := range promotion.DefaultLadder().Tracks {
		if t.Family == level.Family && t.Prefix == level.Prefix {
			return i, level.Index, true
		}
	}
	return 0, 0, false
}

// dec sums money without float drift.
type dec struct {
	v decimal.Decimal
}

func (d *dec) add(f float64) {
	d.v = d.v.Add(decimal.NewFromFloat(f))
}

func (d dec) plus(o dec) dec {
	return dec{v: d.v.Add(o.v)}
}

func (d dec) minus(f float64) dec {
	return dec{v: d.v.Sub(decimal.NewFromFloat(f))}
}

func (d dec) float() float64 {
	return d.v.Round(2).InexactFloat64()
}
