package billing

import (
	"math"

	"github.com/shopspring/decimal"
)

// Tolerance is the amount below which a balance counts as settled.
const Tolerance = 0.01

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func settled(outstanding float64) bool {
	return outstanding <= Tolerance
}

// ValidAmount reports whether v can be recorded as money.
func ValidAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// accumulator sums float amounts without drift.
type accumulator struct {
	total decimal.Decimal
}

func (a *accumulator) Add(v float64) {
	a.total = a.total.Add(decimal.NewFromFloat(v))
}

func (a *accumulator) Float() float64 {
	return a.total.Round(2).InexactFloat64()
}
