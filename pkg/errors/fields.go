package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field error reason codes shared across entity schemas.
const (
	ReasonRequired  = "required"
	ReasonForbidden = "forbidden"
	ReasonInvalid   = "invalid"
	ReasonEmpty     = "empty_update"
)

// FieldErrors accumulates field-level violations so a caller receives every
// problem in a single response.
type FieldErrors struct {
	list []FieldError
}

// Add records a violation.
func (f *FieldErrors) Add(field, code, message string) {
	f.list = append(f.list, FieldError{Field: field, Code: code, Message: message})
}

// Required records a missing mandatory field.
func (f *FieldErrors) Required(field string) {
	f.Add(field, ReasonRequired, fmt.Sprintf("%s is required", field))
}

// Forbidden records a field that must be absent for the resolved variant.
func (f *FieldErrors) Forbidden(field, reason string) {
	f.Add(field, ReasonForbidden, fmt.Sprintf("%s must not be set %s", field, reason))
}

// Invalid records a malformed value.
func (f *FieldErrors) Invalid(field, message string) {
	f.Add(field, ReasonInvalid, message)
}

// Empty reports whether no violations were recorded.
func (f *FieldErrors) Empty() bool {
	return len(f.list) == 0
}

// Err returns a VALIDATION_ERROR carrying the accumulated fields, or nil.
func (f *FieldErrors) Err() error {
	if f.Empty() {
		return nil
	}
	return Validation(f.list)
}

// FromValidator converts go-playground/validator struct errors into the
// accumulated field error shape.
func FromValidator(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Wrap(err, ErrValidation.Code, ErrValidation.Status, "invalid payload")
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   strings.ToLower(fe.Field()),
			Code:    fe.Tag(),
			Message: fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag()),
		})
	}
	return Validation(fields)
}
