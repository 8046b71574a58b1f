// Package middleware contains HTTP middleware functions.
//
// Every middleware has the standard shape:
//
//	func(next http.Handler) http.Handler
//
// so it composes with chi's router.Use and with the auth package's
// RequireAuth / RequireAdmin.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/modmarket/internal/auth"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
// Go's http.ResponseWriter doesn't expose the status code after WriteHeader is called,
// so we wrap it to track it ourselves.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code before delegating to the embedded ResponseWriter.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures bytes written and delegates to the embedded ResponseWriter.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logger returns an HTTP middleware that logs each request with slog.
//
// Each log line includes: request id, method, path, status code, duration,
// bytes written and, when the request was authenticated, the user id.
// 5xx responses log at error level, 4xx at warn.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			// Auth middleware runs further down the chain and stores the id on
			// its own copy of the request; a holder lets it report back.
			holder := &userHolder{}
			r = r.WithContext(withUserHolder(r.Context(), holder))

			next.ServeHTTP(wrapped, r)

			attrs := []any{
				slog.String("requestID", chimiddleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			}
			if holder.userID > 0 {
				attrs = append(attrs, slog.Int64("userID", holder.userID))
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("request completed", attrs...)
			case wrapped.statusCode >= 400:
				logger.Warn("request completed", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
	}
}

// RecordUser copies the authenticated user id, if any, to the request log.
// It must run after auth.RequireAuth or auth.OptionalAuth.
func RecordUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := auth.UserIDFromContext(r.Context()); ok {
			if holder := userHolderFrom(r.Context()); holder != nil {
				holder.userID = userID
			}
		}
		next.ServeHTTP(w, r)
	})
}
