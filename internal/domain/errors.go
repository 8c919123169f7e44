package domain

import "fmt"

// ErrorCode identifies a class in the domain error taxonomy.
type ErrorCode string

const (
	CodeArgument           ErrorCode = "Argument"
	CodeNotFound           ErrorCode = "NotFound"
	CodeUnauthorized       ErrorCode = "Unauthorized"
	CodeForbidden          ErrorCode = "Forbidden"
	CodeRateLimitExceeded  ErrorCode = "RateLimitExceeded"
	CodeServiceUnavailable ErrorCode = "ServiceUnavailable"
	CodeNotImplemented     ErrorCode = "NotImplemented"
)

// Error is a classified domain error. External failures are mapped into one
// of these at the boundary where they occur; downstream code only ever
// inspects Code, never the underlying error's dynamic fields.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so callers can compare against
// the exported sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is comparisons.
var (
	ErrArgument           = &Error{Code: CodeArgument}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrForbidden          = &Error{Code: CodeForbidden}
	ErrRateLimitExceeded  = &Error{Code: CodeRateLimitExceeded}
	ErrServiceUnavailable = &Error{Code: CodeServiceUnavailable}
	ErrNotImplemented     = &Error{Code: CodeNotImplemented}
)

func NewArgumentError(name, reason string) *Error {
	return &Error{Code: CodeArgument, Message: fmt.Sprintf("%s: %s", name, reason)}
}

func NewNotFoundError(entity string) *Error {
	return &Error{Code: CodeNotFound, Message: entity}
}

func NewUnauthorizedError(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

func NewForbiddenError(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

func NewRateLimitExceededError(message string) *Error {
	return &Error{Code: CodeRateLimitExceeded, Message: message}
}

func NewServiceUnavailableError(message string) *Error {
	return &Error{Code: CodeServiceUnavailable, Message: message}
}

func NewNotImplementedError(message string) *Error {
	return &Error{Code: CodeNotImplemented, Message: message}
}
