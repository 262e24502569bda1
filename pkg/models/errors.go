package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the metrics layer. Callers match them with errors.Is;
// every returned error wraps exactly one of these.
var (
	// ErrShapeMismatch is returned when label, embedding or matrix index sets disagree.
	ErrShapeMismatch = errors.New("scib: shape mismatch")

	// ErrMissingField is returned when a metadata column, embedding, expression
	// matrix or gene set is absent.
	ErrMissingField = errors.New("scib: missing field")

	// ErrPrecondition is returned for degenerate input below a metric's minimum
	// support where no trivial value is defined.
	ErrPrecondition = errors.New("scib: precondition violated")

	// ErrNumericDegeneracy is returned when a numeric step is ill-conditioned.
	ErrNumericDegeneracy = errors.New("scib: numerically degenerate")

	// ErrAdapter is wrapped by every integration adapter failure.
	ErrAdapter = errors.New("scib: adapter failed")
)

// ValidationError represents a structured dataset validation problem
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
	Kind    error  `json:"-"`
}

func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("validation error in field '%s': %s (value: %s)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// Unwrap exposes the error kind so errors.Is works on single validation errors.
func (ve ValidationError) Unwrap() error {
	if ve.Kind == nil {
		return ErrShapeMismatch
	}
	return ve.Kind
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(ve), ve[0].Error(), len(ve)-1)
}

// Unwrap returns every contained error for errors.Is / errors.As.
func (ve ValidationErrors) Unwrap() []error {
	errs := make([]error, len(ve))
	for i := range ve {
		errs[i] = ve[i]
	}
	return errs
}

// missing builds a wrapped ErrMissingField with a short description.
func missing(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrMissingField)
}
