// Package main is the entry point for the mod marketplace API server.
//
// main reads configuration, builds every dependency in order and hands them
// to internal/server. Optional integrations (Redis, Kafka, Stripe, SendGrid,
// Discord) fall back to in-process or disabled implementations when their
// settings are absent, so a bare checkout runs with only JWT_SECRET set.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/cache"
	"github.com/sakif/modmarket/internal/config"
	"github.com/sakif/modmarket/internal/events"
	"github.com/sakif/modmarket/internal/logging"
	"github.com/sakif/modmarket/internal/notify"
	"github.com/sakif/modmarket/internal/payment"
	"github.com/sakif/modmarket/internal/repository/sqlstore"
	"github.com/sakif/modmarket/internal/server"
	"github.com/sakif/modmarket/internal/service"
	"github.com/sakif/modmarket/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	// Text output in development, zap JSON in production.
	logger, syncLogs, err := logging.New(cfg.Server.Env, cfg.Observ.LogLevel)
	if err != nil {
		return err
	}
	defer syncLogs()
	slog.SetDefault(logger)

	ctx := context.Background()

	// === 3. TRACING ===
	// No endpoint means spans are created but never exported.
	shutdownTracing, err := tracing.Init(ctx, cfg.Observ.ServiceName, cfg.Observ.OTLPEndpoint, cfg.Observ.OTLPInsecure)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// === 4. DATABASE ===
	if !strings.Contains(cfg.Database.URL, "://") && cfg.Database.URL != ":memory:" {
		dir := filepath.Dir(cfg.Database.URL)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	db, err := sqlstore.New(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", slog.String("driver", db.Driver()))

	// === 5. CACHE ===
	var modCache cache.Cache = cache.NewMemory()
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedis(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, reads will fall through to the database",
				slog.String("error", err.Error()))
		}
		modCache = rc
	}

	// === 6. EVENTS ===
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		k := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer k.Close()
		publisher = k
	}

	// === 7. PAYMENTS ===
	var gateway payment.Gateway = payment.Disabled{}
	if cfg.Stripe.SecretKey != "" {
		gateway = payment.NewStripe(payment.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Currency:      cfg.Stripe.Currency,
		})
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout is disabled")
	}

	// === 8. NOTIFICATIONS ===
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Email.SendGridAPIKey != "" {
		notifier = notify.NewSendGrid(cfg.Email.SendGridAPIKey, cfg.Email.FromName, cfg.Email.FromAddress)
	}
	dispatcher := notify.NewDispatcher(notifier, notify.Config{
		Workers: cfg.Notify.Workers,
		Timeout: cfg.Notify.Timeout,
	}, logger)
	dispatcher.Start()
	defer dispatcher.Stop()

	var announcer notify.Announcer
	if cfg.Discord.WebhookURL != "" {
		announcer = notify.NewDiscordWebhook(cfg.Discord.WebhookURL)
	}

	// === 9. AUTH ===
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	var discord *auth.DiscordProvider
	if cfg.Discord.Enabled() {
		discord = auth.NewDiscordProvider(cfg.Discord.ClientID, cfg.Discord.ClientSecret,
			cfg.Discord.RedirectURL, cfg.Discord.GuildID)
	} else {
		logger.Warn("Discord OAuth not configured, only password sign-in is available")
	}

	// === 10. SERVICES ===
	authService := service.NewAuthService(db, tokens, auth.NewPasswordService(), logger)
	catalog := service.NewCatalogService(db, modCache, cfg.Redis.CacheTTL, publisher, logger)
	deps := server.Deps{
		DB:            db,
		Tokens:        tokens,
		Discord:       discord,
		Auth:          authService,
		Catalog:       catalog,
		Carts:         service.NewCartService(db, db, logger),
		Purchases:     service.NewPurchaseService(gateway, cfg.Stripe.Currency, db, db, db, db, publisher, logger),
		Locker:        service.NewLockerService(gateway, db, db, db, catalog, logger),
		Reviews:       service.NewReviewService(db, db, db, catalog, logger),
		Notifications: service.NewNotificationService(db, db, db, dispatcher, announcer, publisher, logger),
	}

	// === 11. CREATE AND START THE SERVER ===
	srv, err := server.New(server.Config{
		Port:            cfg.Server.Port,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		FrontendURL:     cfg.Server.FrontendURL,
		SecureCookies:   cfg.Server.Production(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		LoginRateLimit:  cfg.Auth.LoginRateLimit,
		LoginBurst:      cfg.Auth.LoginBurst,
	}, deps, logger)
	if err != nil {
		return err
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	return srv.Start()
}
