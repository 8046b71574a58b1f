package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey string

const userIDKey contextKey = "userID"

// CookieName is the cookie that carries the session token.
const CookieName = "token"

// AdminChecker reports whether a user holds the admin flag. It is satisfied by
// service.AuthService and always consults the store, never the request.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// RequireAuth rejects requests without a valid session token with 401 and
// stores the user id in the request context otherwise.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			ctx := WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth extracts the user identity if a valid token is present, but
// does NOT block the request if it's missing or invalid.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, tokens); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin must run after RequireAuth. It looks the caller up through
// checker and answers 403 unless the stored admin flag is set. A failed
// lookup is logged and answered with 500.
func RequireAdmin(checker AdminChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			isAdmin, err := checker.IsAdmin(r.Context(), userID)
			if err != nil {
				logger.Error("admin check failed",
					slog.Int64("userID", userID),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
				return
			}
			if !isAdmin {
				writeAuthError(w, http.StatusForbidden, "forbidden", "admin access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns a copy of ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user's ID from the request
// context. Returns (0, false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

// extractUserID reads the session token from the "token" cookie, falling back
// to an "Authorization: Bearer" header for non-browser clients.
func extractUserID(r *http.Request, tokens *TokenService) (int64, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return tokens.Validate(cookie.Value)
	}

	header := r.Header.Get("Authorization")
	if raw, ok := strings.CutPrefix(header, "Bearer "); ok && raw != "" {
		return tokens.Validate(strings.TrimSpace(raw))
	}

	return 0, http.ErrNoCookie
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + kind + `","message":"` + message + `"}`))
}
