package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/modmarket.db", cfg.Database.URL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "http://localhost:8080/auth/discord/callback", cfg.Discord.RedirectURL)
	assert.False(t, cfg.Discord.Enabled())
	assert.False(t, cfg.Server.Production())
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 4, cfg.Notify.Workers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("SESSION_TTL", "12h")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DISCORD_CLIENT_ID", "id")
	t.Setenv("DISCORD_CLIENT_SECRET", "secret")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.Production())
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Discord.Enabled())
	assert.True(t, cfg.Observ.OTLPInsecure)
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("PORT", "eighty")
	t.Setenv("SESSION_TTL", "forever")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_1")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "JWT_SECRET")
	assert.Contains(t, msg, "PORT")
	assert.Contains(t, msg, "SESSION_TTL")
	assert.Contains(t, msg, "STRIPE_WEBHOOK_SECRET")
}

func TestLoad_DiscordCredentialsTogether(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("DISCORD_CLIENT_ID", "id")

	_, err := Load()
	assert.ErrorContains(t, err, "DISCORD_CLIENT_SECRET")
}
