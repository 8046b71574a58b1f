package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/xid"
	"golang.org/x/oauth2"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/service"
)

const stateCookieName = "oauth_state"

// DiscordAuth is the part of *auth.DiscordProvider the handler uses.
type DiscordAuth interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.DiscordProfile, *oauth2.Token, error)
	GuildRoles(ctx context.Context, token *oauth2.Token) ([]string, error)
}

// AuthHandler manages sign-in, sign-up and the session cookie.
//
//   - HandleDiscordLogin    → redirect the browser to Discord's authorization page
//   - HandleDiscordCallback → exchange the code, find or create the user, set cookie
//   - HandleLogin / HandleRegister → username + password
//   - HandleLogout          → clear the cookie
//   - HandleMe              → the signed-in user
type AuthHandler struct {
	discord     DiscordAuth
	auth        *service.AuthService
	sessionTTL  time.Duration
	secure      bool
	frontendURL string
	logger      *slog.Logger
}

// NewAuthHandler creates an AuthHandler. discord may be nil when Discord
// sign-in is not configured; its routes then answer 404.
func NewAuthHandler(
	discord DiscordAuth,
	authService *service.AuthService,
	sessionTTL time.Duration,
	secureCookies bool,
	frontendURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		discord:     discord,
		auth:        authService,
		sessionTTL:  sessionTTL,
		secure:      secureCookies,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email"    validate:"omitempty,email"`
}

type authResponse struct {
	User  any    `json:"user"`
	Token string `json:"token"`
}

// HandleDiscordLogin redirects the user to Discord's authorization page.
//
// HTTP: GET /auth/discord
//
// A random state is stored in a short-lived HttpOnly cookie and checked on
// the callback, so only flows started here can complete.
func (h *AuthHandler) HandleDiscordLogin(w http.ResponseWriter, r *http.Request) {
	if h.discord == nil {
		http.NotFound(w, r)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.discord.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleDiscordCallback completes the OAuth flow.
//
// HTTP: GET /auth/discord/callback?code=xxx&state=yyy
//
// Failures redirect back to the frontend with ?auth=<reason> instead of
// showing an error page, since this URL is hit by a browser navigation.
func (h *AuthHandler) HandleDiscordCallback(w http.ResponseWriter, r *http.Request) {
	if h.discord == nil {
		http.NotFound(w, r)
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		h.redirectFrontend(w, r, "invalid_state")
		return
	}

	// single use
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		h.redirectFrontend(w, r, "denied")
		return
	}

	profile, token, err := h.discord.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Error("auth callback: Discord exchange failed", slog.String("error", apperror.CauseOf(err).Error()))
		h.redirectFrontend(w, r, "failed")
		return
	}

	roles, err := h.discord.GuildRoles(r.Context(), token)
	if err != nil {
		// Roles are cosmetic; sign-in proceeds without them.
		h.logger.Warn("auth callback: reading guild roles failed", slog.String("error", err.Error()))
	}

	result, err := h.auth.LoginOrRegisterDiscord(r.Context(), profile, roles)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed",
			slog.String("discordID", profile.ID),
			slog.String("error", err.Error()),
		)
		h.redirectFrontend(w, r, "failed")
		return
	}

	h.setSession(w, result.Token)
	http.Redirect(w, r, h.frontendURL, http.StatusSeeOther)
}

// HandleLogin signs in with username and password.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.setSession(w, result.Token)
	writeJSON(w, http.StatusOK, authResponse{User: result.User, Token: result.Token})
}

// HandleRegister creates a password account and signs it in.
//
// HTTP: POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.Register(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.setSession(w, result.Token)
	writeJSON(w, http.StatusCreated, authResponse{User: result.User, Token: result.Token})
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /auth/logout
//
// Sessions are stateless JWTs, so the token stays valid until it expires;
// without the cookie the browser simply stops sending it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the signed-in user.
//
// HTTP: GET /auth/user
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) redirectFrontend(w http.ResponseWriter, r *http.Request, reason string) {
	target := h.frontendURL
	if u, err := url.Parse(h.frontendURL); err == nil {
		q := u.Query()
		q.Set("auth", reason)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
