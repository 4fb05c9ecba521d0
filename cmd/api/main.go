package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mhutchens/stepauth/internal/auth"
	"github.com/mhutchens/stepauth/internal/background"
	"github.com/mhutchens/stepauth/internal/config"
	"github.com/mhutchens/stepauth/internal/database"
	"github.com/mhutchens/stepauth/internal/handlers"
	middlewareCustom "github.com/mhutchens/stepauth/internal/middleware"
	"github.com/mhutchens/stepauth/internal/repositories"
	"github.com/mhutchens/stepauth/internal/risk"
	"github.com/mhutchens/stepauth/internal/routes"
	"github.com/mhutchens/stepauth/internal/services"
	pkghttp "github.com/mhutchens/stepauth/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	methodRepo := repositories.NewMethodRepository(db.Pool)
	attemptRepo := repositories.NewAttemptRepository(db.Pool)
	credentialRepo := repositories.NewCredentialRepository(db.Pool)
	deviceTrustRepo := repositories.NewDeviceTrustRepository(db.Pool)
	locationRepo := repositories.NewLocationHistoryRepository(db.Pool)
	sessionStore := repositories.NewMemorySessionStore()

	// Risk scoring
	denylist, err := risk.NewCIDRDenylist(cfg.Risk.FlaggedNetworks)
	if err != nil {
		logger.Error("failed to parse flagged networks", slog.Any("error", err))
		os.Exit(1)
	}
	scorer := risk.NewScorer(deviceTrustRepo, locationRepo, denylist, cfg.Risk.LookupTimeout, logger)

	// TOTP engine and token issuer
	totpEngine, err := auth.NewTOTPEngine(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP engine", slog.Any("error", err))
		os.Exit(1)
	}

	tokenIssuer := auth.NewTokenIssuer(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.RefreshMaxUses,
	)

	// Out-of-band code delivery
	var delivery services.CodeDelivery
	if cfg.Email.Enabled {
		sesDelivery, err := services.NewSESDelivery(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email delivery", slog.Any("error", err))
			os.Exit(1)
		}
		delivery = sesDelivery
	} else {
		logger.Warn("email delivery disabled, one-time codes will be logged")
		delivery = services.NewLogDelivery(logger)
	}

	// Initialize services
	lockoutService := services.NewLockoutService(services.LockoutConfig{
		MaxRetries:      cfg.Session.MaxAttempts,
		LockoutDuration: cfg.Session.LockoutDuration,
	}, logger)

	verifier := services.NewFactorVerifier(
		methodRepo,
		credentialRepo,
		totpEngine,
		lockoutService,
		delivery,
		services.NewUnconfiguredBiometricMatcher(),
		auth.NewChallengeSigner(),
		logger,
	)

	auditService := services.NewAuditService(attemptRepo, logger)

	sessionService := services.NewSessionService(
		sessionStore,
		methodRepo,
		scorer,
		verifier,
		tokenIssuer,
		auditService,
		delivery,
		services.SessionConfig{
			MaxAttempts:     cfg.Session.MaxAttempts,
			LockoutDuration: cfg.Session.LockoutDuration,
			SessionDuration: cfg.Session.SessionDuration,
			MaxIdleTime:     cfg.Session.MaxIdleTime,
			FactorTTL:       cfg.Session.FactorTTL,
		},
		logger,
	)

	methodService := services.NewMethodService(methodRepo, totpEngine, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.VerifyDelayBaseMs,
		RandomDelayMs: cfg.Auth.VerifyDelayJitter,
	})
	sessionHandler := handlers.NewSessionHandler(sessionService, ipConfig, timingDelay, logger)
	methodHandler := handlers.NewMethodHandler(methodService, logger)

	// Session reaper
	reaper := background.NewReaper(
		sessionStore,
		attemptRepo,
		logger,
		cfg.Session.CleanupInterval,
		cfg.Session.AttemptRetention,
	)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, sessionHandler, methodHandler)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start reaper
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()

	go reaper.Start(reaperCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	reaperCancel()
	reaper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
