// Package service implements authentication business logic.
//
// AuthService is the business logic layer for authentication. It sits between
// the HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (scrypt)
//
// Two ways in: username + password (Register / Login) and Discord OAuth
// (LoginOrRegisterDiscord). Both end with a session token for the same
// internal user id.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/metrics"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
)

// Credential rules.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 8
	MaxPasswordLength = 1024
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// errInvalidLogin is the only failure Login ever reports, so a caller cannot
// tell an unknown username from a wrong password.
const errInvalidLogin = "invalid username or password"

// dummyHash is verified against when the username does not exist, so the
// response time does not reveal which usernames are registered.
var dummyHash = strings.Repeat("0", 128) + "." + strings.Repeat("0", 32)

// AuthService handles the authentication business logic.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		now:       time.Now,
	}
}

// AuthResult is returned by authentication operations.
// It bundles the user record and the issued JWT together so the caller
// (the HTTP handler) can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates a password account and signs it in.
func (s *AuthService) Register(ctx context.Context, username, password, email string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength))
	}
	if email != "" && !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "email address is invalid")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		Username:     username,
		PasswordHash: &hash,
		CreatedAt:    now,
		LastLogin:    &now,
	}
	if email != "" {
		user.Email = &email
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("user", username)
		}
		return nil, fmt.Errorf("service/auth: creating user %q: %w", username, err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	return s.issue(user)
}

// Login checks a username and password.
//
// Unknown users, OAuth-only users and wrong passwords all produce the same
// Unauthorized error, and all run one key derivation.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/auth: looking up %q: %w", username, err)
		}
		s.passwords.Verify(dummyHash, password)
		metrics.LoginsTotal.WithLabelValues("password", "rejected").Inc()
		return nil, apperror.Unauthorized(errInvalidLogin)
	}

	if user.PasswordHash == nil || !s.passwords.Verify(*user.PasswordHash, password) {
		if user.PasswordHash == nil {
			s.passwords.Verify(dummyHash, password)
		}
		metrics.LoginsTotal.WithLabelValues("password", "rejected").Inc()
		return nil, apperror.Unauthorized(errInvalidLogin)
	}

	if err := s.users.RecordLogin(ctx, user.ID, s.now()); err != nil {
		return nil, fmt.Errorf("service/auth: recording login of user %d: %w", user.ID, err)
	}

	metrics.LoginsTotal.WithLabelValues("password", "accepted").Inc()
	s.logger.Info("user logged in", slog.Int64("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterDiscord handles the Discord OAuth callback.
//
// A known Discord id gets its profile refreshed; an unknown one creates a new
// account. If the Discord handle is already taken by another account, the
// username gets a suffix from the Discord id.
func (s *AuthService) LoginOrRegisterDiscord(ctx context.Context, profile *auth.DiscordProfile, roles []string) (*AuthResult, error) {
	if profile == nil || profile.ID == "" {
		return nil, fmt.Errorf("service/auth: discord profile must not be empty")
	}
	if roles == nil {
		roles = []string{}
	}

	discordName := profile.DisplayName()
	avatar := profile.AvatarURL()
	var email *string
	if profile.Email != "" && profile.Verified {
		e := profile.Email
		email = &e
	}

	user, err := s.users.GetUserByDiscordID(ctx, profile.ID)
	switch {
	case err == nil:
		user.DiscordUsername = &discordName
		user.DiscordAvatar = optional(avatar)
		user.DiscordRoles = roles
		user.Email = email
		if err := s.users.UpdateDiscordProfile(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: updating discord profile of user %d: %w", user.ID, err)
		}
		if err := s.users.RecordLogin(ctx, user.ID, s.now()); err != nil {
			return nil, fmt.Errorf("service/auth: recording login of user %d: %w", user.ID, err)
		}
		// UpdateDiscordProfile keeps the stored email when Discord sends none.
		user, err = s.users.GetUserByID(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("service/auth: reloading discord user %s: %w", profile.ID, err)
		}

	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.createFromDiscord(ctx, profile, discordName, avatar, email, roles)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("service/auth: looking up discord user %s: %w", profile.ID, err)
	}

	metrics.LoginsTotal.WithLabelValues("discord", "accepted").Inc()
	s.logger.Info("user authenticated via Discord",
		slog.Int64("userID", user.ID),
		slog.String("discordID", profile.ID),
	)
	return s.issue(user)
}

func (s *AuthService) createFromDiscord(
	ctx context.Context,
	profile *auth.DiscordProfile,
	discordName, avatar string,
	email *string,
	roles []string,
) (*model.User, error) {
	discordID := profile.ID
	now := s.now().UTC()

	base := sanitizeUsername(profile.Username)
	candidates := []string{base, base + "_" + tail(discordID, 4), base + "_" + discordID}

	for _, username := range candidates {
		user := &model.User{
			Username:        username,
			Email:           email,
			DiscordID:       &discordID,
			DiscordUsername: &discordName,
			DiscordAvatar:   optional(avatar),
			DiscordRoles:    roles,
			CreatedAt:       now,
			LastLogin:       &now,
		}
		err := s.users.CreateUser(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/auth: creating discord user %s: %w", discordID, err)
		}
		// The conflict may be on discord_id itself (a concurrent first login).
		if existing, lookupErr := s.users.GetUserByDiscordID(ctx, discordID); lookupErr == nil {
			return existing, nil
		}
	}

	return nil, apperror.Conflict("user", base)
}

// SetAdmin grants or revokes the admin flag. The caller's own flag is read
// from the store, never from the request.
func (s *AuthService) SetAdmin(ctx context.Context, callerID, targetID int64, isAdmin bool) error {
	ok, err := s.IsAdmin(ctx, callerID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Forbidden("admin privileges required")
	}
	if callerID == targetID && !isAdmin {
		return apperror.ValidationFailed("isAdmin", "admins cannot revoke their own admin flag")
	}

	if err := s.users.SetAdmin(ctx, targetID, isAdmin); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("service/auth: setting admin flag of user %d: %w", targetID, err)
	}

	s.logger.Info("admin flag changed",
		slog.Int64("callerID", callerID),
		slog.Int64("targetID", targetID),
		slog.Bool("isAdmin", isAdmin),
	)
	return nil
}

// IsAdmin reports whether the user exists and holds the admin flag. It
// satisfies auth.AdminChecker.
func (s *AuthService) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("service/auth: fetching user %d: %w", userID, err)
	}
	return user.IsAdmin, nil
}

// GetUserByID returns the user for the given internal ID.
func (s *AuthService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	if id <= 0 {
		return nil, apperror.Unauthorized("not signed in")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: fetching user %d: %w", id, err)
	}
	return user, nil
}

// ValidateToken validates a JWT string and returns the userID it encodes.
func (s *AuthService) ValidateToken(tokenStr string) (int64, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return 0, fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %d: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func validateUsername(username string) error {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength))
	}
	if !usernamePattern.MatchString(username) {
		return apperror.ValidationFailed("username", "username may only contain letters, digits, '_', '.' and '-'")
	}
	return nil
}

// sanitizeUsername maps a Discord handle onto the local username alphabet.
func sanitizeUsername(handle string) string {
	var b strings.Builder
	for _, r := range handle {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > MaxUsernameLength-21 {
		name = name[:MaxUsernameLength-21]
	}
	if len(name) < MinUsernameLength {
		name = "user" + name
	}
	return name
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
