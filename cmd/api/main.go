package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/storeguard/internal/auth"
	"github.com/BradenHooton/storeguard/internal/background"
	"github.com/BradenHooton/storeguard/internal/config"
	"github.com/BradenHooton/storeguard/internal/database"
	"github.com/BradenHooton/storeguard/internal/handlers"
	"github.com/BradenHooton/storeguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/storeguard/internal/middleware"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/repositories"
	"github.com/BradenHooton/storeguard/internal/routes"
	"github.com/BradenHooton/storeguard/internal/services"
	"github.com/BradenHooton/storeguard/internal/store"
	pkgauth "github.com/BradenHooton/storeguard/pkg/auth"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
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

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("counter_store", cfg.Defense.CounterStore))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(ctx, db)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Counter store shared by the rate limiter, login tracker and replay detector
	counters, err := store.New(cfg.Defense.CounterStore, store.RedisConfig{
		Address:   cfg.Redis.Address,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Timeout:   cfg.Redis.Timeout,
	}, store.WithHighWaterMark(cfg.Defense.MemoryHighWaterMark))
	if err != nil {
		logger.Error("failed to initialize counter store", slog.Any("error", err))
		os.Exit(1)
	}
	defer counters.Close()

	// Metrics
	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	blockRepo := repositories.NewBlockedIPRepository(db)

	// Block list, warmed from Postgres before traffic arrives
	blocklist := services.NewBlocklistService(blockRepo, logger)
	blocklist.SetMetrics(m)
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := blocklist.Warm(warmCtx); err != nil {
		logger.Error("failed to load block list", slog.Any("error", err))
	}
	warmCancel()

	// Security event monitor with async persistence
	eventWriter := background.NewEventWriter(eventRepo, logger, 5*time.Second)
	eventWriter.SetMetrics(m)
	m.RegisterQueueDepth(prometheus.DefaultRegisterer, eventWriter.Len)
	m.RegisterPoolStats(prometheus.DefaultRegisterer, db.PoolStats)

	monitor := services.NewSecurityMonitorService(
		eventRepo,
		blocklist,
		eventWriter,
		buildNotifier(cfg.Alerts, logger),
		services.MonitorConfig{
			BufferSize:        cfg.Defense.EventBufferSize,
			CorrelationWindow: cfg.Defense.CorrelationWindow,
			EventThreshold:    cfg.Defense.EventThreshold,
			EndpointThreshold: cfg.Defense.EndpointThreshold,
			AutoBlockDuration: cfg.Defense.AutoBlockDuration,
			AlertTimeout:      cfg.Alerts.NotifyTimeout,
		},
		logger,
	)
	monitor.SetMetrics(m)

	// Rate limiting service
	rateLimitConfig := services.RateLimitConfig{
		Policy: services.ProgressivePolicy{
			Base:       cfg.Defense.RateLimitBase,
			Multiplier: cfg.Defense.RateLimitMultiplier,
			Cap:        cfg.Defense.RateLimitCap,
		},
		SuspiciousFactor:     cfg.Defense.SuspiciousFactor,
		SuspiciousRetryAfter: cfg.Defense.SuspiciousRetryAfter,
		FailClosed:           cfg.Defense.RateLimitFailClosed,
	}
	if cfg.Defense.CounterStore == config.CounterStoreRedis {
		// Redis outlives restarts, so suspicious flags need an expiry of their own
		rateLimitConfig.SuspiciousTTL = cfg.Defense.SuspiciousRetryAfter
	}
	rateLimiter := services.NewRateLimitService(counters, rateLimitConfig, logger)
	rateLimiter.SetEventRecorder(monitor)
	rateLimiter.SetMetrics(m)

	// Login attempt tracking
	loginTracker := services.NewLoginTrackerService(counters, services.LoginTrackerConfig{
		Window:       cfg.Defense.LoginWindow,
		MaxAttempts:  cfg.Defense.LoginMaxAttempts,
		LockDuration: cfg.Defense.LoginLockDuration,
	}, logger)
	loginTracker.SetEventRecorder(monitor)
	loginTracker.SetMetrics(m)

	// Replay detection: shared through Redis when instances share counters
	var replay middlewareCustom.ReplayChecker
	if cfg.Defense.CounterStore == config.CounterStoreRedis {
		replay = services.NewStoreReplayDetector(counters, logger)
	} else {
		memReplay := services.NewMemoryReplayDetector()
		defer memReplay.Close()
		replay = memReplay
	}

	// Auth
	hasher, err := pkgauth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		logger.Error("failed to initialize password hasher", slog.Any("error", err))
		os.Exit(1)
	}
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.LoginBaseDelay,
		RandomDelay: cfg.Auth.LoginRandomDelay,
	})
	authService := services.NewAuthService(userRepo, loginTracker, hasher, tokenManager, timingDelay, logger)

	// Payments
	paymentService := services.NewPaymentService(
		services.NewSandboxPaymentProvider(),
		cfg.Payments.KeySecret,
		cfg.Payments.WebhookSecret,
		logger,
	)
	paymentService.SetEventRecorder(monitor)
	paymentService.SetMetrics(m)
	paymentService.OnWebhook("payment.captured", func(ctx context.Context, event *models.WebhookEvent) error {
		logger.InfoContext(ctx, "payment captured webhook received", slog.Int("payload_bytes", len(event.Payload)))
		return nil
	})

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, hasher, cfg.Auth, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.ClientIP(pkghttp.NewIPConfig(cfg.Server.TrustedProxies)))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	window := cfg.Defense.RateLimitWindow
	routes.RegisterRoutes(router, routes.Dependencies{
		Logger:       logger,
		Metrics:      m,
		Gatherer:     prometheus.DefaultGatherer,
		Blocks:       monitor,
		Events:       monitor,
		Limiter:      rateLimiter,
		Replay:       replay,
		ReplayWindow: cfg.Defense.ReplayWindow,
		Limits: routes.Limits{
			Login:          middlewareCustom.EndpointLimit{Category: routes.CategoryLogin, Limit: cfg.Defense.LoginLimit, Window: window},
			PaymentCreate:  middlewareCustom.EndpointLimit{Category: routes.CategoryPaymentCreate, Limit: cfg.Defense.PaymentCreateLimit, Window: window},
			PaymentVerify:  middlewareCustom.EndpointLimit{Category: routes.CategoryPaymentVerify, Limit: cfg.Defense.PaymentVerifyLimit, Window: window},
			PaymentWebhook: middlewareCustom.EndpointLimit{Category: routes.CategoryPaymentWebhook, Limit: cfg.Defense.WebhookLimit, Window: window},
			Products:       middlewareCustom.EndpointLimit{Category: routes.CategoryProducts, Limit: cfg.Defense.ProductsLimit, Window: window},
		},
		AuthLimit:    middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Defense.AuthRequestsPerMinute},
		AdminLimit:   middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Defense.AdminRequestsPerMinute},
		TokenManager: tokenManager,
		Health:       handlers.Health(db),
		Auth:         handlers.NewAuthHandler(authService),
		Payments:     handlers.NewPaymentHandler(paymentService),
		Products:     handlers.NewProductHandler(nil),
		Admin:        handlers.NewSecurityAdminHandler(monitor, blocklist, rateLimiter),
		Honeypot:     handlers.NewHoneypotHandler(monitor, logger),
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background tasks
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	monitor.Start(bgCtx)

	cleanupManager := background.NewCleanupManager(blocklist, eventRepo, background.CleanupConfig{
		Interval:       cfg.Defense.CleanupInterval,
		BlockRetention: cfg.Defense.BlockRetention,
		EventRetention: cfg.Defense.EventRetention,
	}, logger)
	go cleanupManager.Start(bgCtx)

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Drain queued events after the last request has been handled
	cleanupManager.Stop()
	monitor.Stop()
	bgCancel()

	logger.Info("server stopped gracefully")
}

// buildNotifier fans critical alerts out to every configured channel. The log
// notifier is always present.
func buildNotifier(cfg config.AlertsConfig, logger *slog.Logger) services.AlertNotifier {
	notifiers := []services.AlertNotifier{services.NewLogNotifier(logger)}

	if cfg.SESRegion != "" && cfg.SESFrom != "" && len(cfg.SESRecipients) > 0 {
		ses, err := services.NewSESAlertNotifier(cfg.SESRegion, cfg.SESFrom, cfg.SESRecipients, logger)
		if err != nil {
			logger.Error("failed to initialize SES alerts", slog.Any("error", err))
		} else {
			notifiers = append(notifiers, ses)
		}
	}

	if cfg.NATSURL != "" {
		conn, err := services.ConnectNATS(cfg.NATSURL, "storeguard")
		if err != nil {
			logger.Error("failed to connect to NATS", slog.Any("error", err))
		} else {
			notifiers = append(notifiers, services.NewNATSAlertNotifier(conn, cfg.NATSSubject))
		}
	}

	return services.NewMultiNotifier(notifiers...)
}

// ensureAdminUser creates or refreshes the operator account if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher *pkgauth.PasswordHasher, cfg config.AuthConfig, logger *slog.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	if err := pkgauth.ValidatePassword(cfg.AdminPassword); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	hashedPassword, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin, err := userRepo.Upsert(ctx, &models.User{
		Email:        cfg.AdminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         auth.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert admin user: %w", err)
	}

	logger.Info("admin user ready", slog.String("user_id", admin.ID))
	return nil
}
