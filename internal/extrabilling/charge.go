// Package extrabilling manages one-off charges billed outside the fee schedule,
// such as trips, uniforms or exam fees.
package extrabilling

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
)

var (
	// ErrNotFound indicates an unknown charge id.
	ErrNotFound = errors.New("extrabilling: charge not found")
	// ErrInvalidCharge rejects a malformed charge.
	ErrInvalidCharge = errors.New("extrabilling: invalid charge")
	// ErrNoStudents is returned when a class charge matches nobody.
	ErrNoStudents = errors.New("extrabilling: no students in class")
)

// ExtraCharge is one ad-hoc amount owed by a student.
type ExtraCharge struct {
	ID                string     `json:"id"`
	StudentID         string     `json:"studentId"`
	StudentName       string     `json:"studentName"`
	ClassName         string     `json:"className,omitempty"`
	BatchID           string     `json:"batchId,omitempty"`
	Title             string     `json:"title"`
	Amount            float64    `json:"amount"`
	AmountPaid        float64    `json:"amountPaid"`
	OutstandingAmount float64    `json:"outstandingAmount"`
	Paid              bool       `json:"paid"`
	DueDate           time.Time  `json:"dueDate"`
	PaidDate          *time.Time `json:"paidDate,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// RecordPayment sets the amount paid against c, following the ledger rules
// for tuition periods.
func RecordPayment(c ExtraCharge, amount float64, asOf time.Time) (ExtraCharge, error) {
	if !billing.ValidAmount(amount) {
		return c, billing.ErrInvalidAmount
	}
	c.AmountPaid = roundMoney(amount)
	settle(&c)
	c.PaidDate = nil
	if amount > 0 {
		d := calendar.Day(asOf)
		c.PaidDate = &d
	}
	return c, nil
}

func settle(c *ExtraCharge) {
	out := roundMoney(c.Amount - c.AmountPaid)
	if out < 0 {
		out = 0
	}
	c.OutstandingAmount = out
	c.Paid = out <= billing.Tolerance
}

// StudentBalance totals the charges of one student.
type StudentBalance struct {
	StudentID   string  `json:"studentId"`
	StudentName string  `json:"studentName"`
	Charged     float64 `json:"charged"`
	Paid        float64 `json:"paid"`
	Outstanding float64 `json:"outstanding"`
	Open        int     `json:"open"`
}

// Balances folds charges per student, in first-seen order.
func Balances(charges []ExtraCharge) []StudentBalance {
	type acc struct {
		b                          StudentBalance
		charged, paid, outstanding decimal.Decimal
	}
	index := map[string]int{}
	var accs []*acc
	for _, c := range charges {
		i, ok := index[c.StudentID]
		if !ok {
			i = len(accs)
			index[c.StudentID] = i
			accs = append(accs, &acc{b: StudentBalance{StudentID: c.StudentID, StudentName: c.StudentName}})
		}
		a := accs[i]
		a.charged = a.charged.Add(decimal.NewFromFloat(c.Amount))
		a.paid = a.paid.Add(decimal.NewFromFloat(c.AmountPaid))
		a.outstanding = a.outstanding.Add(decimal.NewFromFloat(c.OutstandingAmount))
		if !c.Paid {
			a.b.Open++
		}
	}
	out := make([]StudentBalance, 0, len(accs))
	for _, a := range accs {
		a.b.Charged = a.charged.Round(2).InexactFloat64()
		a.b.Paid = a.paid.Round(2).InexactFloat64()
		a.b.Outstanding = a.outstanding.Round(2).InexactFloat64()
		out = append(out, a.b)
	}
	return out
}

func roundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
