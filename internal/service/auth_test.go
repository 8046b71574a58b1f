package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
	"github.com/sakif/modmarket/internal/repository/sqlstore"
)

// =========================================================================
// HELPERS
// =========================================================================

// newTestAuthService returns an AuthService over an in-memory store.
// scrypt runs at a tiny cost so the suite stays fast.
func newTestAuthService(t *testing.T) (*AuthService, *sqlstore.DB) {
	t.Helper()
	db := newTestStore(t)
	return newAuthServiceWithRepo(t, db), db
}

func newAuthServiceWithRepo(t *testing.T, repo repository.UserRepository) *AuthService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return NewAuthService(repo, ts, auth.NewPasswordServiceForTest(16), discardLogger())
}

// brokenUserRepo fails every username lookup.
type brokenUserRepo struct {
	repository.UserRepository
}

func (brokenUserRepo) GetUserByUsername(context.Context, string) (*model.User, error) {
	return nil, errors.New("database is on fire")
}

// =========================================================================
// Register / Login TESTS
// =========================================================================

func TestRegister_ThenLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "racer_01", "correct horse battery", "racer@example.com")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if reg.User.ID == 0 || reg.Token == "" {
		t.Fatalf("Register() = %+v, want id and token", reg)
	}
	if reg.User.PasswordHash == nil || strings.Contains(*reg.User.PasswordHash, "correct horse") {
		t.Fatal("password must be stored hashed")
	}

	login, err := svc.Login(ctx, "racer_01", "correct horse battery")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Errorf("Login() user = %d, want %d", login.User.ID, reg.User.ID)
	}

	userID, err := svc.ValidateToken(login.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if userID != reg.User.ID {
		t.Errorf("token subject = %d, want %d", userID, reg.User.ID)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestAuthService(t)

	tests := []struct {
		name, username, password, email, field string
	}{
		{"short username", "ab", "longenough", "", "username"},
		{"long username", strings.Repeat("a", 33), "longenough", "", "username"},
		{"bad characters", "drift king", "longenough", "", "username"},
		{"short password", "drifter", "short", "", "password"},
		{"huge password", "drifter", strings.Repeat("p", 1025), "", "password"},
		{"bad email", "drifter", "longenough", "not-an-email", "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.username, tt.password, tt.email)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Register() error = %v, want validation error", err)
			}
			if appErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.field)
			}
		})
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "taken", "longenough", ""); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := svc.Register(ctx, "taken", "longenough", "")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("second Register() error = %v, want conflict", err)
	}
}

func TestLogin_GenericFailure(t *testing.T) {
	svc, db := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "racer", "longenough", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	seedUser(t, db, "oauth_only") // no password hash

	for _, tc := range []struct{ username, password string }{
		{"racer", "wrong-password"},
		{"nobody", "longenough"},
		{"oauth_only", "longenough"},
	} {
		_, err := svc.Login(ctx, tc.username, tc.password)
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Fatalf("Login(%q) error = %v, want unauthorized", tc.username, err)
		}
		if !strings.Contains(err.Error(), errInvalidLogin) {
			t.Errorf("Login(%q) message = %q, want generic message", tc.username, err.Error())
		}
	}
}

func TestLogin_RepositoryError(t *testing.T) {
	svc := newAuthServiceWithRepo(t, brokenUserRepo{})

	_, err := svc.Login(context.Background(), "racer", "longenough")
	if err == nil || errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want storage error", err)
	}
}

// =========================================================================
// Discord TESTS
// =========================================================================

func TestLoginOrRegisterDiscord_NewThenReturning(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	profile := &auth.DiscordProfile{ID: "80351110224678912", Username: "nelly", Email: "nelly@example.com", Verified: true}
	first, err := svc.LoginOrRegisterDiscord(ctx, profile, []string{"Supporter"})
	if err != nil {
		t.Fatalf("first LoginOrRegisterDiscord() error = %v", err)
	}
	if first.User.Username != "nelly" {
		t.Errorf("Username = %q, want nelly", first.User.Username)
	}

	profile.GlobalName = "Nelly R."
	profile.Email = "" // Discord did not share it this time
	second, err := svc.LoginOrRegisterDiscord(ctx, profile, nil)
	if err != nil {
		t.Fatalf("second LoginOrRegisterDiscord() error = %v", err)
	}
	if second.User.ID != first.User.ID {
		t.Fatalf("returning user id = %d, want %d", second.User.ID, first.User.ID)
	}
	if second.User.DiscordUsername == nil || *second.User.DiscordUsername != "Nelly R." {
		t.Errorf("DiscordUsername = %v, want refreshed display name", second.User.DiscordUsername)
	}
	if second.User.Email == nil || *second.User.Email != "nelly@example.com" {
		t.Errorf("Email = %v, want stored address kept", second.User.Email)
	}
}

func TestLoginOrRegisterDiscord_UsernameCollision(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "nelly", "longenough", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := svc.LoginOrRegisterDiscord(ctx, &auth.DiscordProfile{ID: "1234567", Username: "nelly"}, nil)
	if err != nil {
		t.Fatalf("LoginOrRegisterDiscord() error = %v", err)
	}
	if res.User.Username != "nelly_4567" {
		t.Errorf("Username = %q, want nelly_4567", res.User.Username)
	}
}

func TestLoginOrRegisterDiscord_EmptyProfile(t *testing.T) {
	svc, _ := newTestAuthService(t)

	if _, err := svc.LoginOrRegisterDiscord(context.Background(), nil, nil); err == nil {
		t.Fatal("LoginOrRegisterDiscord(nil) should fail")
	}
}

// =========================================================================
// Admin TESTS
// =========================================================================

func TestSetAdmin(t *testing.T) {
	svc, db := newTestAuthService(t)
	ctx := context.Background()

	admin := seedUser(t, db, "boss")
	if err := db.SetAdmin(ctx, admin.ID, true); err != nil {
		t.Fatalf("SetAdmin() seed error = %v", err)
	}
	member := seedUser(t, db, "member")

	if err := svc.SetAdmin(ctx, member.ID, member.ID, true); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("non-admin SetAdmin() error = %v, want forbidden", err)
	}

	if err := svc.SetAdmin(ctx, admin.ID, member.ID, true); err != nil {
		t.Fatalf("SetAdmin() error = %v", err)
	}
	ok, err := svc.IsAdmin(ctx, member.ID)
	if err != nil || !ok {
		t.Errorf("IsAdmin(member) = %v, %v, want true", ok, err)
	}

	if err := svc.SetAdmin(ctx, admin.ID, 9999, true); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetAdmin(unknown) error = %v, want not found", err)
	}
	if err := svc.SetAdmin(ctx, admin.ID, admin.ID, false); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("self-demotion error = %v, want validation error", err)
	}
}

func TestIsAdmin_UnknownUser(t *testing.T) {
	svc, _ := newTestAuthService(t)

	ok, err := svc.IsAdmin(context.Background(), 42)
	if err != nil || ok {
		t.Errorf("IsAdmin(unknown) = %v, %v, want false, nil", ok, err)
	}
}

// =========================================================================
// GetUserByID TESTS
// =========================================================================

func TestGetUserByID(t *testing.T) {
	svc, db := newTestAuthService(t)
	ctx := context.Background()
	u := seedUser(t, db, "findme")

	got, err := svc.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.Username != "findme" {
		t.Errorf("Username = %q, want findme", got.Username)
	}

	if _, err := svc.GetUserByID(ctx, 0); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("GetUserByID(0) error = %v, want unauthorized", err)
	}
	if _, err := svc.GetUserByID(ctx, 404); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID(404) error = %v, want not found", err)
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	svc, _ := newTestAuthService(t)

	if _, err := svc.ValidateToken("not-a-jwt"); err == nil {
		t.Fatal("ValidateToken() should reject garbage")
	}
}
