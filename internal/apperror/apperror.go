// Package apperror defines the error kinds shared by every layer of the marketplace.
//
// Services return *AppError values that wrap one of the sentinels below. The HTTP
// layer maps the sentinel to a status code with errors.Is, so services never need to
// know about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("Validation Error")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrExternalAuth        = errors.New("external authentication failed")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message, safe to show to clients
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, for server-side logs only
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized reports a missing or invalid session, or rejected credentials.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// ExternalAuth wraps a failure talking to the identity provider. The client only
// ever sees the generic message; cause is kept for logging.
func ExternalAuth(cause error) *AppError {
	return &AppError{
		Err:     ErrExternalAuth,
		Message: "sign-in with the identity provider failed, please try again",
		Cause:   cause,
	}
}

// PaymentNotConfirmed reports that the payment provider did not confirm a charge.
func PaymentNotConfirmed(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrPaymentNotConfirmed,
		Message: message,
		Cause:   cause,
	}
}

// CauseOf returns the underlying cause recorded on an AppError in err's chain,
// or err itself when there is none.
func CauseOf(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return appErr.Cause
	}
	return err
}
