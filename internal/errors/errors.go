// Package errors provides unified error handling for the mood pipeline.
// Codes are shared with the HTTP surface, which maps them to status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class.
type Code string

// Error codes.
const (
	CodeUnknown  Code = "UNKNOWN"
	CodeInternal Code = "INTERNAL"

	// Capture
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeDeviceUnavailable Code = "DEVICE_UNAVAILABLE"

	// Inference client
	CodeTimeout     Code = "TIMEOUT"
	CodeServerError Code = "SERVER_ERROR"
	CodeUnreachable Code = "UNREACHABLE"

	// Response parsing
	CodeInvalidJSON    Code = "INVALID_JSON"
	CodeNoEmotionField Code = "NO_EMOTION_FIELD"

	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
)

// httpStatusMap maps error codes to HTTP status codes.
var httpStatusMap = map[Code]int{
	CodeUnknown:           http.StatusInternalServerError,
	CodeInternal:          http.StatusInternalServerError,
	CodePermissionDenied:  http.StatusForbidden,
	CodeDeviceUnavailable: http.StatusServiceUnavailable,
	CodeTimeout:           http.StatusGatewayTimeout,
	CodeServerError:       http.StatusBadGateway,
	CodeUnreachable:       http.StatusBadGateway,
	CodeInvalidJSON:       http.StatusBadGateway,
	CodeNoEmotionField:    http.StatusBadGateway,
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeNotFound:          http.StatusNotFound,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the corresponding HTTP status code.
func (e *AppError) HTTPStatus() int {
	if c, ok := httpStatusMap[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// HTTPStatus maps any error to an HTTP status code.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnreachable, CodeTimeout, CodeServerError:
		return true
	default:
		return false
	}
}
