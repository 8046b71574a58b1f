// Package config loads server settings from the environment.
//
// A .env file in the working directory is read first if present; variables
// already set in the environment win. Every problem is collected and
// reported together so a misconfigured deployment fails once, not once per
// variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Discord  DiscordConfig
	Stripe   StripeConfig
	Email    EmailConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	BaseURL         string
	FrontendURL     string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Production reports whether ENV=production.
func (s ServerConfig) Production() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	// URL is a SQLite path or a postgres:// DSN.
	URL string
}

type AuthConfig struct {
	JWTSecret      string
	SessionTTL     time.Duration
	LoginRateLimit float64
	LoginBurst     int
}

type DiscordConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	GuildID      string
	WebhookURL   string
}

// Enabled reports whether Discord sign-in is configured.
func (d DiscordConfig) Enabled() bool {
	return d.ClientID != "" && d.ClientSecret != ""
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

type EmailConfig struct {
	SendGridAPIKey string
	FromName       string
	FromAddress    string
}

type RedisConfig struct {
	URL      string
	CacheTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ObservabilityConfig struct {
	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string
	LogLevel     string
}

type NotifyConfig struct {
	Workers int
	Timeout time.Duration
}

// loader reads typed values and remembers every failure.
type loader struct {
	errs []error
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	l := &loader{}
	port := l.getEnvInt("PORT", 8080)

	cfg := &Config{
		Server: ServerConfig{
			Port:            port,
			Env:             getEnv("ENV", "development"),
			BaseURL:         getEnv("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
			FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:3000"),
			AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			ShutdownTimeout: l.getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", "data/modmarket.db"),
		},
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("JWT_SECRET"),
			SessionTTL:     l.getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			LoginRateLimit: l.getEnvFloat("LOGIN_RATE_LIMIT", 0.2),
			LoginBurst:     l.getEnvInt("LOGIN_BURST", 5),
		},
		Discord: DiscordConfig{
			ClientID:     os.Getenv("DISCORD_CLIENT_ID"),
			ClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("DISCORD_REDIRECT_URL"),
			GuildID:      os.Getenv("DISCORD_GUILD_ID"),
			WebhookURL:   os.Getenv("DISCORD_WEBHOOK_URL"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Currency:      getEnv("STRIPE_CURRENCY", "usd"),
		},
		Email: EmailConfig{
			SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
			FromName:       getEnv("EMAIL_FROM_NAME", "Mod Market"),
			FromAddress:    getEnv("EMAIL_FROM_ADDRESS", "noreply@modmarket.local"),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			CacheTTL: l.getEnvDuration("CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "modmarket-events"),
		},
		Observ: ObservabilityConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			OTLPInsecure: l.getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "modmarket"),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
		},
		Notify: NotifyConfig{
			Workers: l.getEnvInt("NOTIFY_WORKERS", 4),
			Timeout: l.getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.Discord.RedirectURL == "" {
		cfg.Discord.RedirectURL = strings.TrimRight(cfg.Server.BaseURL, "/") + "/auth/discord/callback"
	}

	cfg.validate(l)
	if len(l.errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(l.errs...))
	}
	return cfg, nil
}

func (c *Config) validate(l *loader) {
	if len(c.Auth.JWTSecret) < 16 {
		l.errs = append(l.errs, errors.New("JWT_SECRET must be set and at least 16 characters"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		l.errs = append(l.errs, fmt.Errorf("PORT %d out of range", c.Server.Port))
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		l.errs = append(l.errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if (c.Discord.ClientID == "") != (c.Discord.ClientSecret == "") {
		l.errs = append(l.errs, errors.New("DISCORD_CLIENT_ID and DISCORD_CLIENT_SECRET must be set together"))
	}
	if c.Notify.Workers <= 0 {
		l.errs = append(l.errs, errors.New("NOTIFY_WORKERS must be positive"))
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (l *loader) getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not an integer", key, val))
		return defaultVal
	}
	return n
}

func (l *loader) getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a number", key, val))
		return defaultVal
	}
	return f
}

func (l *loader) getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a boolean", key, val))
		return defaultVal
	}
	return b
}

func (l *loader) getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a duration", key, val))
		return defaultVal
	}
	return d
}
