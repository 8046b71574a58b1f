// Package server sets up the HTTP server, router, and all route definitions.
//
// Dependencies are built in cmd/server and handed over in Deps; this package
// only decides which URL maps to which handler and which middleware guards
// it, then runs the listener until a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/handler"
	"github.com/sakif/modmarket/internal/middleware"
	"github.com/sakif/modmarket/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port            int
	AllowedOrigins  []string
	FrontendURL     string
	SecureCookies   bool
	ShutdownTimeout time.Duration
	LoginRateLimit  float64
	LoginBurst      int
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the routes are wired to. Discord may be nil
// when Discord sign-in is not configured.
type Deps struct {
	DB            Pinger
	Tokens        *auth.TokenService
	Discord       *auth.DiscordProvider
	Auth          *service.AuthService
	Catalog       *service.CatalogService
	Carts         *service.CartService
	Purchases     *service.PurchaseService
	Locker        *service.LockerService
	Reviews       *service.ReviewService
	Notifications *service.NotificationService
}

// Server represents the HTTP server and its routes.
type Server struct {
	router *chi.Mux
	config Config
	deps   Deps
	logger *slog.Logger
}

// New creates a Server and registers every route.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.DB == nil || deps.Tokens == nil || deps.Auth == nil {
		return nil, errors.New("server: DB, Tokens and Auth are required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
//	GET    /healthz                              → liveness + database ping
//	GET    /metrics                              → Prometheus scrape
//	GET    /auth/discord, /auth/discord/callback → Discord OAuth
//	POST   /auth/login, /auth/register           → password sign-in (rate limited)
//	POST   /auth/logout, GET /auth/user
//	GET    /api/mods[...]                        → public catalog
//	GET    /api/mod-locker                       → optional auth
//	       /api/cart, /api/purchase/*, /api/purchases, downloads, reviews → auth
//	POST   /api/payments/webhook                 → signed by the payment provider
//	       /api/admin/*                          → auth + admin flag
//
// Middleware executes in the order it's added.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	var discord handler.DiscordAuth
	if s.deps.Discord != nil {
		discord = s.deps.Discord
	}
	authHandler := handler.NewAuthHandler(discord, s.deps.Auth, s.deps.Tokens.TTL(),
		s.config.SecureCookies, s.config.FrontendURL, s.logger)
	catalogHandler := handler.NewCatalogHandler(s.deps.Catalog, s.deps.Reviews, s.logger)
	commerceHandler := handler.NewCommerceHandler(s.deps.Carts, s.deps.Purchases, s.deps.Locker, s.logger)
	adminHandler := handler.NewAdminHandler(s.deps.Catalog, s.deps.Notifications, s.deps.Auth, s.logger)

	requireAuth := auth.RequireAuth(s.deps.Tokens)
	limiter := middleware.NewRateLimiter(s.config.LoginRateLimit, s.config.LoginBurst, 10*time.Minute)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/discord", authHandler.HandleDiscordLogin)
		r.Get("/discord/callback", authHandler.HandleDiscordCallback)
		r.With(limiter.Middleware).Post("/login", authHandler.HandleLogin)
		r.With(limiter.Middleware).Post("/register", authHandler.HandleRegister)
		r.Post("/logout", authHandler.HandleLogout)
		r.With(requireAuth, middleware.RecordUser).Get("/user", authHandler.HandleMe)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/mods", catalogHandler.HandleList)
		r.Get("/mods/categories", catalogHandler.HandleCategories)
		r.Get("/mods/{id}", catalogHandler.HandleGet)
		r.Get("/mods/{id}/versions", catalogHandler.HandleVersions)
		r.Get("/mods/{id}/reviews", catalogHandler.HandleListReviews)

		r.Post("/payments/webhook", commerceHandler.HandleWebhook)

		r.With(auth.OptionalAuth(s.deps.Tokens), middleware.RecordUser).
			Get("/mod-locker", commerceHandler.HandleLocker)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth, middleware.RecordUser)

			r.Get("/mods/{id}/download", commerceHandler.HandleDownload)
			r.Post("/mods/{id}/reviews", catalogHandler.HandleReview)

			r.Get("/cart", commerceHandler.HandleGetCart)
			r.Post("/cart", commerceHandler.HandleAddToCart)
			r.Delete("/cart", commerceHandler.HandleClearCart)
			r.Delete("/cart/{modId}", commerceHandler.HandleRemoveFromCart)

			r.Post("/purchase/intent", commerceHandler.HandleCreateIntent)
			r.Post("/purchase/complete", commerceHandler.HandleComplete)
			r.Get("/purchases", commerceHandler.HandleListPurchases)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin(s.deps.Auth, s.logger))

				r.Post("/mods", adminHandler.HandleCreateMod)
				r.Put("/mods/{id}", adminHandler.HandleUpdateMod)
				r.Delete("/mods/{id}", adminHandler.HandleDeleteMod)
				r.Post("/mods/{id}/versions", adminHandler.HandleAddVersion)
				r.Put("/users/{id}/admin", adminHandler.HandleSetAdmin)
				r.Post("/notifications/send", adminHandler.HandleSendNotification)
				r.Get("/notifications", adminHandler.HandleListNotifications)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.deps.DB.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start serves until SIGINT/SIGTERM, then gives in-flight requests
// ShutdownTimeout to finish.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
