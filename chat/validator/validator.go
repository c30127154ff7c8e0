// Package validator wraps struct validation for chat payloads.
package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator validates structs using the underlying validator library. It
// registers the notblank rule, which rejects strings that are empty after
// trimming whitespace.
type Validator struct {
	cli *validator.Validate
}

// ValidationError represents an error encountered during validation of a
// struct field.
type ValidationError struct {
	Field   string
	Message string
}

// New initializes and returns a new Validator.
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or nil func.
	_ = cli.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{cli: cli}
}

// ValidateStruct validates s and returns one ValidationError per failing
// field, or nil when s is valid.
func (v *Validator) ValidateStruct(s any) []ValidationError {
	err := v.cli.Struct(s)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

func (v *Validator) formatError(err error) []ValidationError {
	errs := make([]ValidationError, 0)
	for _, fe := range err.(validator.ValidationErrors) {
		errs = append(errs, ValidationError{
			Field:   fe.StructField(),
			Message: fe.Error(),
		})
	}
	return errs
}
