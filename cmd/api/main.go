package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mclarke-dev/aegis/internal/auth"
	"github.com/mclarke-dev/aegis/internal/background"
	"github.com/mclarke-dev/aegis/internal/config"
	"github.com/mclarke-dev/aegis/internal/database"
	"github.com/mclarke-dev/aegis/internal/handlers"
	middlewareCustom "github.com/mclarke-dev/aegis/internal/middleware"
	"github.com/mclarke-dev/aegis/internal/notify"
	"github.com/mclarke-dev/aegis/internal/provider"
	"github.com/mclarke-dev/aegis/internal/repositories"
	"github.com/mclarke-dev/aegis/internal/routes"
	"github.com/mclarke-dev/aegis/internal/services"
	pkghttp "github.com/mclarke-dev/aegis/pkg/http"
	pkglogger "github.com/mclarke-dev/aegis/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
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

	// Run migrations
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Initialize repositories
	eventRepo := repositories.NewFailureEventRepository(db)
	accountRepo := repositories.NewAccountRepository(db)
	securityLogRepo := repositories.NewSecurityLogRepository(db)

	// Initialize token manager for service-to-service auth
	tokenManager := auth.NewTokenManager(
		cfg.Auth.ServiceTokenSecret,
		cfg.Auth.ServiceTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Identity provider gateway
	gateway := provider.NewAuth0Gateway(
		cfg.Provider.Auth0Domain,
		cfg.Provider.Auth0ClientID,
		cfg.Provider.Auth0ClientSecret,
		cfg.Provider.CallTimeout,
		logger,
	)

	// Session-invalidation notifier: AMQP when a broker is configured,
	// log-only otherwise
	var notifier notify.LockNotifier
	if cfg.Notify.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.Notify.AMQPURL)
		if err != nil {
			logger.Error("failed to connect to AMQP broker", slog.Any("error", err))
			os.Exit(1)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	// Lock alert email (optional)
	var alerts services.LockAlerter
	if cfg.Alert.Enabled {
		alertService, err := services.NewAWSSESAlertService(
			cfg.Alert.AWSRegion,
			cfg.Alert.FromAddress,
			cfg.Alert.SecurityInbox,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize alert service", slog.Any("error", err))
			os.Exit(1)
		}
		alerts = alertService
	}

	// Initialize services
	policy := services.NewLockoutPolicy(eventRepo, accountRepo, cfg.Lockout)
	enforcer := services.NewLockEnforcer(accountRepo, gateway, notifier, alerts, securityLogRepo, logger, cfg.Provider.CallTimeout)
	ingestService := services.NewIngestService(eventRepo, accountRepo, policy, enforcer, cfg.Lockout, logger, auditLogger)
	reconcileService := services.NewReconcileService(eventRepo, accountRepo, policy, enforcer, gateway, cfg.Lockout, cfg.Reconcile.PullWindow, logger)
	accountService := services.NewAccountService(accountRepo, eventRepo, enforcer, gateway, securityLogRepo, auditLogger, cfg.Lockout, cfg.Provider.CallTimeout, logger)

	// Background tasks
	reconcileRunner := background.NewReconcileRunner(reconcileService, logger, cfg.Reconcile.Interval)
	retentionManager := background.NewRetentionManager(eventRepo, logger, cfg.Lockout.SweepInterval, cfg.Lockout.Retention)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	failureHandler := handlers.NewFailureHandler(ingestService, ipConfig)
	accountHandler := handlers.NewAccountHandler(accountService)
	adminHandler := handlers.NewAdminHandler(accountService, reconcileService)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, failureHandler, accountHandler, adminHandler, tokenManager)

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

	// Start background tasks
	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	if cfg.Provider.Auth0Domain != "" {
		go reconcileRunner.Start(backgroundCtx)
	} else {
		logger.Warn("identity provider not configured, scheduled reconciliation disabled")
	}
	go retentionManager.Start(backgroundCtx)

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

	backgroundCancel()
	reconcileRunner.Stop()
	retentionManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
