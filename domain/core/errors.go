package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input errors
	ErrNoFiles          = errors.New("no trial files found")
	ErrMissingColumn    = errors.New("required column missing")
	ErrMissingCovariate = errors.New("difficulty not derivable")
	ErrNoValidTrials    = errors.New("no valid trials after filtering")

	// Model errors
	ErrBadParameters = errors.New("accumulator parameters out of domain")

	// Sampling errors
	ErrCancelled      = errors.New("sampling cancelled; partial trace discarded")
	ErrNonFiniteStart = errors.New("no finite log density at initial point")
)

// NewValidationError reports an invalid field value
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

// NewMissingColumnError names the logical field that could not be resolved
func NewMissingColumnError(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingColumn, field)
}

// IsDataError reports whether err must stop the run before sampling
func IsDataError(err error) bool {
	return errors.Is(err, ErrNoFiles) ||
		errors.Is(err, ErrMissingColumn) ||
		errors.Is(err, ErrMissingCovariate) ||
		errors.Is(err, ErrNoValidTrials)
}
