package reports

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders amounts for people: grouped digits, two decimals and the
// currency code.
type Formatter struct {
	printer *message.Printer
	code    string
}

// NewFormatter builds a formatter for a BCP 47 locale and an ISO 4217 code.
// An empty code formats bare numbers.
func NewFormatter(locale, code string) (Formatter, error) {
	tag := language.English
	if locale != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return Formatter{}, fmt.Errorf("reports: locale %q: %w", locale, err)
		}
		tag = parsed
	}
	f := Formatter{printer: message.NewPrinter(tag)}
	if code != "" {
		unit, err := currency.ParseISO(code)
		if err != nil {
			return Formatter{}, fmt.Errorf("reports: currency %q: %w", code, err)
		}
		f.code = unit.String()
	}
	return f, nil
}

// Number renders v with locale grouping and two decimals.
func (f Formatter) Number(v float64) string {
	if f.printer == nil {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	return f.printer.Sprintf("%.2f", v)
}

// Money renders v prefixed with the currency code when one is configured.
func (f Formatter) Money(v float64) string {
	if f.code == "" {
		return f.Number(v)
	}
	return f.code + " " + f.Number(v)
}

// Date renders a civil date the way statements print it.
func (f Formatter) Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02 Jan 2006")
}

// formatFloat is the machine-readable form used in CSV exports.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
