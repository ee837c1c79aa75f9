package billing

import (
	"time"
)

const dateLayout = "2006-01-02"

// StudentRequest is the JSON body for creating or editing a student.
type StudentRequest struct {
	FullName                string  `json:"fullName" validate:"required,max=200"`
	DateOfBirth             string  `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	AdmissionDate           string  `json:"admissionDate" validate:"required,datetime=2006-01-02"`
	ClassGroup              string  `json:"classGroup" validate:"max=100"`
	ClassName               string  `json:"className" validate:"required,max=100"`
	AcademicYear            int     `json:"academicYear" validate:"omitempty,gte=1900,lte=2200"`
	ParentName              string  `json:"parentName" validate:"max=200"`
	ParentContact           string  `json:"parentContact" validate:"max=100"`
	HasCustomFees           bool    `json:"hasCustomFees"`
	CustomSchoolFee         float64 `json:"customSchoolFee" validate:"gte=0"`
	HasTransport            bool    `json:"hasTransport"`
	TransportFee            float64 `json:"transportFee" validate:"gte=0"`
	TransportActivationDate string  `json:"transportActivationDate" validate:"omitempty,datetime=2006-01-02"`
	Notes                   string  `json:"notes" validate:"max=4000"`
}

// Input converts the request. Dates were checked by the validator.
func (r StudentRequest) Input() StudentInput {
	in := StudentInput{
		FullName:        r.FullName,
		DateOfBirth:     parseDate(r.DateOfBirth),
		AdmissionDate:   parseDate(r.AdmissionDate),
		ClassGroup:      r.ClassGroup,
		ClassName:       r.ClassName,
		AcademicYear:    r.AcademicYear,
		ParentName:      r.ParentName,
		ParentContact:   r.ParentContact,
		HasCustomFees:   r.HasCustomFees,
		CustomSchoolFee: r.CustomSchoolFee,
		HasTransport:    r.HasTransport,
		TransportFee:    r.TransportFee,
		Notes:           r.Notes,
	}
	if act := parseDate(r.TransportActivationDate); !act.IsZero() {
		in.TransportActivationDate = &act
	}
	return in
}

// PaymentRequest records an amount against a period or month.
type PaymentRequest struct {
	Amount *float64 `json:"amount" validate:"required,gte=0"`
}

// SkipRequest toggles the skipped flag.
type SkipRequest struct {
	Skip *bool `json:"skip" validate:"required"`
}

// WaiveRequest toggles a waiver.
type WaiveRequest struct {
	Waive *bool `json:"waive" validate:"required"`
}

// ActivateTransportRequest switches transport on.
type ActivateTransportRequest struct {
	Fee            float64 `json:"fee" validate:"gt=0"`
	ActivationDate string  `json:"activationDate" validate:"required,datetime=2006-01-02"`
}

func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
