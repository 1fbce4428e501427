// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown           = "UNKNOWN_ERROR"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeTruncated         = "TRUNCATED"
	CodeMalformed         = "MALFORMED"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeConfigError       = "CONFIG_ERROR"
	CodeStorageError      = "STORAGE_ERROR"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeEmitError         = "EMIT_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeHexParseError     = "HEX_PARSE_ERROR"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrUnsupportedFormat = New(CodeUnsupportedFormat, "unsupported format")
	ErrTruncated         = New(CodeTruncated, "truncated artifact")
	ErrMalformed         = New(CodeMalformed, "malformed artifact")
	ErrInvalidInput      = New(CodeInvalidInput, "invalid input")
	ErrConfigError       = New(CodeConfigError, "configuration error")
	ErrStorageError      = New(CodeStorageError, "storage error")
	ErrDatabaseError     = New(CodeDatabaseError, "database error")
	ErrEmitError         = New(CodeEmitError, "emit error")
	ErrNotFound          = New(CodeNotFound, "resource not found")
	ErrHexParse          = New(CodeHexParseError, "hex parse error")
)

// IsUnsupportedFormat checks if the error reports an unrecognized artifact.
func IsUnsupportedFormat(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat)
}

// IsTruncated checks if the error reports an artifact cut short.
func IsTruncated(err error) bool {
	return errors.Is(err, ErrTruncated)
}

// IsMalformed checks if the error reports inconsistent artifact structure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// IsExtractionError reports whether err is one of the fatal extraction errors.
func IsExtractionError(err error) bool {
	return IsUnsupportedFormat(err) || IsTruncated(err) || IsMalformed(err)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
