package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubAdminChecker fails the lookup for users it does not know.
type stubAdminChecker map[int64]bool

func (s stubAdminChecker) IsAdmin(_ context.Context, userID int64) (bool, error) {
	isAdmin, ok := s[userID]
	if !ok {
		return false, errors.New("database is locked")
	}
	return isAdmin, nil
}

// echoUser writes the context user id, or "anon".
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id, ok := UserIDFromContext(r.Context()); ok {
		_, _ = w.Write([]byte(strconv.FormatInt(id, 10)))
		return
	}
	_, _ = w.Write([]byte("anon"))
})

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Generate(7)
	h := RequireAuth(ts)(echoUser)

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "7", rr.Body.String())
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "7", rr.Body.String())
	})

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"unauthorized","message":"valid authentication required"}`, rr.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestOptionalAuth(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Generate(9)
	h := OptionalAuth(ts)(echoUser)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "anon", rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "9", rr.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	ts := newTestTokenService(t)
	checker := stubAdminChecker{1: true, 2: false}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	h := RequireAuth(ts)(RequireAdmin(checker, logger)(echoUser))

	tests := []struct {
		name   string
		userID int64
		want   int
	}{
		{"admin passes", 1, http.StatusOK},
		{"non-admin is forbidden", 2, http.StatusForbidden},
		{"failed lookup is an internal error", 3, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _ := ts.Generate(tt.userID)
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
		})
	}

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	assert.Contains(t, logs.String(), "admin check failed")
	assert.Contains(t, logs.String(), "database is locked")
}

func TestRequireAdmin_FailedLookupBody(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Generate(3)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequireAuth(ts)(RequireAdmin(stubAdminChecker{}, logger)(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal_error","message":"an unexpected error occurred"}`, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "database is locked")
}
