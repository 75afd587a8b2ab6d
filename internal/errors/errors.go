package errors

import (
	stderrors "errors"
	"fmt"

	"racefit/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of the
// innermost AppError when there is one.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// GetCode returns the code of the outermost AppError in the chain, or "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Predefined error codes
const (
	CodeConfigInvalid = "CONFIG_INVALID"
	CodeMissingColumn = "MISSING_COLUMN"
	CodeMissingCovar  = "MISSING_COVARIATE"
	CodeNoFiles       = "NO_FILES"
	CodeNoValidTrials = "NO_VALID_TRIALS"
	CodeSamplerFailed = "SAMPLER_FAILED"
	CodeExportFailed  = "EXPORT_FAILED"
	CodeInternalError = "INTERNAL_ERROR"
	CodeInvalidInput  = "INVALID_INPUT"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func MissingColumn(field string, candidates []string) *AppError {
	return &AppError{
		Code:    CodeMissingColumn,
		Message: fmt.Sprintf("no column for %s (tried %v)", field, candidates),
		Cause:   core.NewMissingColumnError(field),
	}
}

func MissingCovariate(message string, cause error) *AppError {
	return &AppError{Code: CodeMissingCovar, Message: message, Cause: cause}
}

func NoFiles(path string) *AppError {
	return &AppError{Code: CodeNoFiles, Message: path, Cause: core.ErrNoFiles}
}

func NoValidTrials(message string) *AppError {
	return &AppError{Code: CodeNoValidTrials, Message: message, Cause: core.ErrNoValidTrials}
}

func SamplerFailed(cause error) *AppError {
	return &AppError{Code: CodeSamplerFailed, Message: "posterior sampling failed", Cause: cause}
}

func ExportFailed(artifact string, cause error) *AppError {
	return &AppError{
		Code:    CodeExportFailed,
		Message: fmt.Sprintf("failed to write %s", artifact),
		Cause:   cause,
	}
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}
