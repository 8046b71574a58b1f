package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/sakif/modmarket/internal/apperror"
)

const (
	discordAuthURL  = "https://discord.com/oauth2/authorize"
	discordTokenURL = "https://discord.com/api/oauth2/token"
	discordAPIBase  = "https://discord.com/api/v10"
	discordCDNBase  = "https://cdn.discordapp.com"
)

// DiscordProfile is the portion of Discord's /users/@me response we keep.
//
// Discord API docs: https://discord.com/developers/docs/resources/user#get-current-user
type DiscordProfile struct {
	ID         string `json:"id"`          // snowflake, stable
	Username   string `json:"username"`    // unique handle
	GlobalName string `json:"global_name"` // display name, may be empty
	Avatar     string `json:"avatar"`      // avatar hash, may be empty
	Email      string `json:"email"`       // requires the "email" scope
	Verified   bool   `json:"verified"`
}

// AvatarURL returns the CDN URL of the profile picture, or "" when the user
// has none.
func (p *DiscordProfile) AvatarURL() string {
	if p.Avatar == "" {
		return ""
	}
	return fmt.Sprintf("%s/avatars/%s/%s.png", discordCDNBase, p.ID, p.Avatar)
}

// DisplayName prefers the global display name over the handle.
func (p *DiscordProfile) DisplayName() string {
	if p.GlobalName != "" {
		return p.GlobalName
	}
	return p.Username
}

// DiscordProvider wraps golang.org/x/oauth2 for the Discord Authorization Code
// flow.
//
// It is a pure translation layer: it performs the network calls and returns a
// normalized profile, but persists nothing. Every failure is reported as
// apperror.ExternalAuth so raw provider errors never reach a client.
type DiscordProvider struct {
	config  *oauth2.Config
	apiBase string
	guildID string
}

// NewDiscordProvider creates a DiscordProvider with the given application
// credentials. guildID is optional; when set, the provider also asks for the
// guilds.members.read scope so GuildRoles can read the caller's roles.
func NewDiscordProvider(clientID, clientSecret, redirectURL, guildID string) *DiscordProvider {
	return newDiscordProvider(clientID, clientSecret, redirectURL, guildID,
		oauth2.Endpoint{
			AuthURL:   discordAuthURL,
			TokenURL:  discordTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		discordAPIBase,
	)
}

func newDiscordProvider(clientID, clientSecret, redirectURL, guildID string, endpoint oauth2.Endpoint, apiBase string) *DiscordProvider {
	scopes := []string{"identify", "email"}
	if guildID != "" {
		scopes = append(scopes, "guilds.members.read")
	}

	return &DiscordProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		apiBase: strings.TrimSuffix(apiBase, "/"),
		guildID: guildID,
	}
}

// AuthURL returns the URL to redirect the user to for authorization. state is
// echoed back on the callback and checked against the oauth_state cookie.
func (p *DiscordProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for an access token and fetches the
// caller's profile.
//
// The token is returned so the caller can make follow-up requests such as
// GuildRoles. It must never be logged.
func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*DiscordProfile, *oauth2.Token, error) {
	if code == "" {
		return nil, nil, apperror.ExternalAuth(errors.New("auth: missing authorization code"))
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, apperror.ExternalAuth(fmt.Errorf("auth: exchanging Discord code: %w", err))
	}

	var profile DiscordProfile
	if err := p.getJSON(ctx, token, "/users/@me", &profile); err != nil {
		return nil, nil, apperror.ExternalAuth(err)
	}

	if profile.ID == "" || profile.Username == "" {
		return nil, nil, apperror.ExternalAuth(errors.New("auth: Discord returned an incomplete profile"))
	}

	return &profile, token, nil
}

// GuildRoles returns the role ids the caller holds in the configured guild.
//
// The result only drives cosmetic badges. It returns (nil, nil) when no guild
// is configured or the user is not a member.
func (p *DiscordProvider) GuildRoles(ctx context.Context, token *oauth2.Token) ([]string, error) {
	if p.guildID == "" || token == nil {
		return nil, nil
	}

	var member struct {
		Roles []string `json:"roles"`
	}
	err := p.getJSON(ctx, token, "/users/@me/guilds/"+p.guildID+"/member", &member)
	if errors.Is(err, errNotMember) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return member.Roles, nil
}

var errNotMember = errors.New("auth: not a guild member")

// getJSON performs an authenticated GET against the Discord API.
// oauth2.Config.Client attaches the bearer token to every request.
func (p *DiscordProvider) getJSON(ctx context.Context, token *oauth2.Token, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building Discord request: %w", err)
	}

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling Discord %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotMember
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: Discord %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding Discord %s response: %w", path, err)
	}
	return nil
}
