package billing

import "errors"

var (
	// ErrInvalidAmount rejects negative, NaN or infinite amounts.
	ErrInvalidAmount = errors.New("billing: amount must be a non-negative number")
	// ErrPeriodNotFound indicates the period or month has no record.
	ErrPeriodNotFound = errors.New("billing: period not found")
	// ErrPeriodSkipped rejects payments into a skipped period.
	ErrPeriodSkipped = errors.New("billing: period is skipped")
	// ErrInvalidDate rejects a missing activation or admission date.
	ErrInvalidDate = errors.New("billing: date required")
	// ErrStudentNotFound indicates no student with the given id.
	ErrStudentNotFound = errors.New("billing: student not found")
	// ErrCycleChangeWithPayments blocks switching billing cycle once payments exist.
	ErrCycleChangeWithPayments = errors.New("billing: billing cycle cannot change while payments are recorded")
	// ErrInvalidSettings rejects malformed settings.
	ErrInvalidSettings = errors.New("billing: invalid settings")
	// ErrInvalidStudent rejects a student missing required fields.
	ErrInvalidStudent = errors.New("billing: invalid student")
)
