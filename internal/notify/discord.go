package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Announcement is a public post about a new mod version.
type Announcement struct {
	ModTitle  string
	Version   string
	Changelog string
}

// Announcer publishes announcements to a community channel.
type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields"`
	Timestamp   string              `json:"timestamp"`
}

type discordWebhookRequest struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

const (
	colorRelease       = 5793266 // #5865F2
	webhookUsername    = "Mod Market"
	maxChangelogLength = 1024
)

// DiscordWebhook posts announcements to a Discord channel webhook.
type DiscordWebhook struct {
	url    string
	client *http.Client
}

var _ Announcer = (*DiscordWebhook)(nil)

// NewDiscordWebhook creates an announcer for the given webhook URL.
func NewDiscordWebhook(url string) *DiscordWebhook {
	return &DiscordWebhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordWebhook) Announce(ctx context.Context, a Announcement) error {
	changelog := a.Changelog
	if changelog == "" {
		changelog = "No changelog provided."
	}
	if len(changelog) > maxChangelogLength {
		changelog = changelog[:maxChangelogLength-3] + "..."
	}

	payload := discordWebhookRequest{
		Username: webhookUsername,
		Embeds: []discordEmbed{
			{
				Title:       fmt.Sprintf("%s %s released", a.ModTitle, a.Version),
				Description: changelog,
				Color:       colorRelease,
				Fields: []discordEmbedField{
					{Name: "Mod", Value: a.ModTitle, Inline: true},
					{Name: "Version", Value: a.Version, Inline: true},
				},
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshalling discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: building discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sending discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
