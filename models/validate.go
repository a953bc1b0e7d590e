package models

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, ok := ScheduleItem{Time: fl.Field().String()}.MinutesOfDay()
		return ok
	})
	return v
}

// FieldIssue describes one schema problem found in an incoming document.
type FieldIssue struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Value any    `json:"value,omitempty"`
}

// Validate checks d against the document schema. Issues are advisory:
// writes still go through with defaults substituted, so callers log them
// rather than reject the document.
func Validate(d TripData) []FieldIssue {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldIssue{{Field: "document", Rule: err.Error()}}
	}
	issues := make([]FieldIssue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, FieldIssue{Field: fe.Namespace(), Rule: fe.Tag(), Value: fe.Value()})
	}
	return issues
}
