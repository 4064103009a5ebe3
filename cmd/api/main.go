package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/loyalty-whatsapp/internal/api/router"
	"github.com/wolfman30/loyalty-whatsapp/internal/app/bootstrap"
	appconfig "github.com/wolfman30/loyalty-whatsapp/internal/config"
	"github.com/wolfman30/loyalty-whatsapp/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/loyalty-whatsapp/internal/http/middleware"
	"github.com/wolfman30/loyalty-whatsapp/internal/promotions"
	"github.com/wolfman30/loyalty-whatsapp/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting loyalty-whatsapp API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, metricsHandler := bootstrap.BuildMetrics()

	wa, err := bootstrap.BuildWhatsApp(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to configure whatsapp gateway", "error", err)
		os.Exit(1)
	}
	defer wa.Manager.Close()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		logger.Warn("DATABASE_URL not set; promotion sends and history are disabled")
	} else {
		defer pool.Close()
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	service := buildPromotionService(cfg, wa, pool, redisClient, logger)

	done := make(chan struct{})
	defer close(done)
	limiter := httpmiddleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookRateBurst)
	go limiter.Run(done)

	// Setup router
	r := router.New(&router.Config{
		Logger: logger,
		WhatsApp: handlers.NewWhatsAppHandler(handlers.WhatsAppConfig{
			Manager: wa.Manager,
			Sender:  service,
			Logger:  logger,
		}),
		MetricsHandler:    metricsHandler,
		WebhookLimiter:    limiter,
		OperatorJWTSecret: cfg.OperatorJWTSecret,
		OperatorJWTIssuer: cfg.OperatorJWTIssuer,
		CORS:              httpmiddleware.ParseCORSOrigins(cfg.CORSAllowedOrigins),
	})
	if cfg.OperatorJWTSecret == "" {
		logger.Warn("OPERATOR_JWT_SECRET not set; operator endpoints are unauthenticated")
	}

	srv := newServer(cfg, r)

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	if cfg.WhatsAppAutoConnect {
		go func() {
			if connected := wa.Manager.Initialize(ctx); !connected {
				status := wa.Manager.Status()
				logger.Info("whatsapp auto-connect pending", "status", status.Status, "message", status.Message)
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildPromotionService wires the send flow. Store and lock stay unset when
// their backing service is not configured.
func buildPromotionService(cfg *appconfig.Config, wa *bootstrap.WhatsApp, pool *pgxpool.Pool, redisClient *redis.Client, logger *logging.Logger) *promotions.Service {
	var repo promotions.Repository
	if pool != nil {
		repo = promotions.NewStore(pool)
	}
	var lock promotions.Locker
	if redisClient != nil {
		lock = promotions.NewLock(redisClient)
	}
	return promotions.NewService(wa.Manager, wa.Dispatcher, repo, lock, logger).
		WithLockTTL(cfg.PromotionLockTTL)
}

func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	writeTimeout := cfg.HTTPWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Minute
	}
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
