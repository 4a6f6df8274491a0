package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/makkenzo/device-licensing-api/internal/config"
	"github.com/makkenzo/device-licensing-api/internal/events"
	"github.com/makkenzo/device-licensing-api/internal/handler"
	"github.com/makkenzo/device-licensing-api/internal/handler/middleware"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"github.com/makkenzo/device-licensing-api/internal/licensetoken"
	"github.com/makkenzo/device-licensing-api/internal/service"
	"github.com/makkenzo/device-licensing-api/internal/storage/memstorage"
	"github.com/makkenzo/device-licensing-api/internal/storage/postgres"
	"github.com/makkenzo/device-licensing-api/internal/storage/redis"
	"github.com/makkenzo/device-licensing-api/internal/tasks"
	"github.com/makkenzo/device-licensing-api/internal/worker"
	"github.com/makkenzo/device-licensing-api/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sugarLogger := appLogger.Sugar()

	sugarLogger.Info("Starting application...")
	sugarLogger.Infof("Log level set to: %s", cfg.Log.Level)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := postgres.NewPgxPool(appCtx, &cfg.Database, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbPool.Close()

	if cfg.Database.RunMigrations {
		if err := postgres.RunMigrations(appCtx, dbPool, appLogger); err != nil {
			sugarLogger.Fatalf("Failed to apply database migrations: %v", err)
		}
	}

	redisClient, err := redis.NewRedisClient(appCtx, &cfg.Redis, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(dbPool, appLogger)

	issuer, err := licensetoken.NewIssuer(cfg.License.TokenSecret, cfg.License.TokenTTL)
	if err != nil {
		sugarLogger.Fatalf("Failed to initialize license token issuer: %v", err)
	}

	var publisher events.Publisher = events.NewLogPublisher(appLogger)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, map[string]string{
			events.EventSecurityAlertCreated: cfg.Kafka.AlertTopic,
		}, appLogger)
		if err != nil {
			sugarLogger.Fatalf("Failed to initialize Kafka publisher: %v", err)
		}
		publisher = kafkaPublisher
	}
	defer publisher.Close()

	taskClient := asynq.NewClient(worker.RedisConnOpt(cfg))
	defer taskClient.Close()
	alertNotifier := tasks.NewAlertEnqueuer(taskClient, appLogger)

	adminUsers := memstorage.NewAdminUserRepository()
	if cfg.Auth.AdminPassword != "" {
		if _, err := adminUsers.Add(cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, "admin"); err != nil {
			sugarLogger.Fatalf("Failed to seed admin user: %v", err)
		}
	} else if cfg.Auth.OIDCIssuerURL == "" {
		sugarLogger.Warn("auth.adminPassword is empty; local admin login is disabled")
	}

	activationService := service.NewActivationService(store, issuer, alertNotifier, cfg.License, appLogger)
	securityService := service.NewSecurityAdminService(store, appLogger)
	authService, err := service.NewAuthService(appCtx, cfg.Auth, adminUsers, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to initialize auth service: %v", err)
	}

	healthHandler := handler.NewHealthHandler(
		dbPool,
		handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		appLogger,
	)

	routes := handler.Routes{
		Health:    healthHandler,
		Auth:      handler.NewAuthHandler(authService, appLogger),
		Licensing: handler.NewLicensingHandler(activationService, appLogger),
		Security:  handler.NewSecurityHandler(securityService, appLogger),
		AdminAuth: middleware.AuthMiddleware(authService, appLogger),
	}
	if cfg.RateLimit.Enabled {
		limiter := redis.NewSlidingWindowLimiter(redisClient, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
		routes.ClientRateLimit = middleware.RateLimitMiddleware(limiter, "saas", middleware.APIKeyOrIPKey, appLogger)
	}

	router := gin.New()
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logMsg := "Panic recovered"
		if err, ok := recovered.(string); ok {
			logMsg = fmt.Sprintf("%s: %s", logMsg, err)
		} else if err, ok := recovered.(error); ok {
			logMsg = fmt.Sprintf("%s: %v", logMsg, err)
		}
		appLogger.Error(logMsg, zap.Stack("stack"))

		_ = c.Error(ierr.ErrInternalServer)
		c.Abort()
	}))

	corsConfig := cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-API-Key",
		},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.ErrorHandlerMiddleware(appLogger))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.RegisterRoutes(router, routes)

	g, groupCtx := errgroup.WithContext(appCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		sugarLogger.Infof("HTTP server listening on port %s", cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugarLogger.Errorf("HTTP server ListenAndServe error: %v", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		sugarLogger.Info("HTTP server stopped listening.")
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		sugarLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugarLogger.Errorf("HTTP server graceful shutdown failed: %v", err)
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		sugarLogger.Info("HTTP server shutdown complete.")
		return nil
	})

	g.Go(func() error {
		if err := worker.RunWorkers(groupCtx, cfg, store, publisher, appLogger); err != nil {
			sugarLogger.Errorw("Asynq worker failed", zap.Error(err))
			return fmt.Errorf("asynq worker error: %w", err)
		}
		sugarLogger.Info("Asynq workers finished gracefully.")
		return nil
	})

	sugarLogger.Info("Application started. Waiting for interrupt signal (Ctrl+C) or component error...")

	waitErr := g.Wait()

	sugarLogger.Info("Shutdown sequence finished.")

	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			sugarLogger.Info("Shutdown reason: Context canceled (likely due to OS signal).")
		} else {
			sugarLogger.Errorf("Application shutdown finished with unexpected error: %v", waitErr)
		}
	} else {
		sugarLogger.Info("Application shutdown successfully (all components finished without errors).")
	}

	sugarLogger.Info("Application exiting now.")
}
