package handler

// Every error response from the API has the same shape:
//
//	{"error": "not_found", "message": "mod not found with id 3"}
//
// plus "field" for validation errors, so the frontend always knows what to
// expect regardless of the status code.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sakif/modmarket/internal/apperror"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusOf maps an error kind to its HTTP status and machine-readable type.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired, "payment_not_confirmed"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrExternalAuth):
		return http.StatusBadGateway, "external_auth_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// Only *AppError messages reach the client. Anything else becomes a generic
// 500 and the raw error, which may contain SQL or provider details, is
// logged instead.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, kind := statusOf(err)
	if appErr.Cause != nil {
		logger.Warn("request failed upstream",
			slog.String("path", r.URL.Path),
			slog.String("kind", kind),
			slog.String("cause", appErr.Cause.Error()),
		)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a size-capped body into dst, rejects unknown fields and
// trailing data, then runs the struct's validate tags. Every failure is a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body must not be empty")
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("body", fmt.Sprintf("request body must be %d bytes or less", maxBodyBytes))
		case errors.As(err, &typeErr):
			return apperror.ValidationFailed(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return apperror.ValidationFailed(field, fmt.Sprintf("unknown field %q", field))
		default:
			return apperror.ValidationFailed("body", "request body is not valid JSON")
		}
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}

	return validateStruct(dst)
}

// validateStruct runs validator tags and reports the first failure.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.ValidationFailed("body", "request body is invalid")
	}

	fe := verrs[0]
	field := lowerFirst(fe.Field())
	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "min", "gte":
		msg = fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		msg = fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "email":
		msg = field + " must be a valid email address"
	default:
		msg = field + " is invalid"
	}
	return apperror.ValidationFailed(field, msg)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed(name, fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}
