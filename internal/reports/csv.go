package reports

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
)

// WriteClassBreakdownCSV serialises class rows.
func WriteClassBreakdownCSV(w io.Writer, rows []ClassRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Class", "Class Group", "Students", "Expected To Date", "Paid", "Tuition Outstanding", "Transport Outstanding", "Outstanding"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.ClassName,
			row.ClassGroup,
			strconv.Itoa(row.Students),
			formatFloat(row.ExpectedToDate),
			formatFloat(row.Paid),
			formatFloat(row.TuitionOutstanding),
			formatFloat(row.TransportOutstanding),
			formatFloat(row.Outstanding),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteOutstandingCSV serialises the debtor list, one student per line.
func WriteOutstandingCSV(w io.Writer, rows []OutstandingRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Student ID", "Name", "Class", "Parent", "Contact", "Tuition", "Transport", "Extra", "Total", "Periods"}); err != nil {
		return err
	}
	for _, row := range rows {
		periods := make([]string, 0, len(row.Periods))
		for _, p := range row.Periods {
			periods = append(periods, p.PeriodName)
		}
		if err := writer.Write([]string{
			row.StudentID,
			row.FullName,
			row.ClassName,
			row.ParentName,
			row.ParentContact,
			formatFloat(row.Tuition),
			formatFloat(row.Transport),
			formatFloat(row.Extra),
			formatFloat(row.Total),
			strings.Join(periods, "; "),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFinanceSummaryCSV prints the income and expense summary as metric rows
// followed by the monthly expense series.
func WriteFinanceSummaryCSV(w io.Writer, sum FinanceSummary) error {
	writer := csv.NewWriter(w)
	records := [][]string{
		{"Metric", "Value"},
		{"Year", strconv.Itoa(sum.Year)},
		{"As Of", sum.AsOf.Format("2006-01-02")},
		{"Students", strconv.Itoa(sum.Fees.Students)},
		{"Fees Expected To Date", formatFloat(sum.Fees.ExpectedToDate)},
		{"Fees Paid", formatFloat(sum.Fees.TotalPaid)},
		{"Fees Owed", formatFloat(sum.Fees.TotalOwed)},
		{"Transport Paid", formatFloat(sum.Fees.TransportPaid)},
		{"Transport Owed", formatFloat(sum.Fees.TransportOwed)},
		{"Extra Charged", formatFloat(sum.ExtraCharged)},
		{"Extra Paid", formatFloat(sum.ExtraPaid)},
		{"Extra Outstanding", formatFloat(sum.ExtraOutstanding)},
		{"Income", formatFloat(sum.Income)},
		{"Expenses", formatFloat(sum.Expenses.Total)},
		{"Net", formatFloat(sum.Net)},
	}
	for _, c := range sum.Expenses.ByCategory {
		records = append(records, []string{"Expenses: " + c.Category, formatFloat(c.Total)})
	}
	for _, m := range sum.Expenses.ByMonth {
		records = append(records, []string{"Expenses: " + m.MonthName, formatFloat(m.Total)})
	}
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return writer.Error()
}
