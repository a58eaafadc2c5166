package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-checkin/internal/attendance"
	"ms-checkin/internal/audit"
	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/checkin/checkin_api"
	"ms-checkin/internal/config"
	"ms-checkin/internal/database"
	"ms-checkin/internal/database/migrations"
	eventdb "ms-checkin/internal/events/db"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/sse"
	ticketdb "ms-checkin/internal/tickets/db"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func runMigrations(ctx context.Context, cfg config.DatabaseConfig, l *logger.Logger) {
	// The migrate driver closes the handle it is given, so it gets its own.
	sqldb, err := database.OpenSQL(ctx, cfg, l)
	if err != nil {
		l.Fatal("MIGRATION", fmt.Sprintf("Failed to open migration connection: %v", err))
	}
	runner := migrations.NewRunner(sqldb, cfg.MigrationsDir, l)
	defer runner.Close()
	if err := runner.MigrateUp(); err != nil {
		l.Fatal("MIGRATION", fmt.Sprintf("Auto-migration failed: %v", err))
	}
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, l *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		l.Warn("REDIS", fmt.Sprintf("Redis unavailable at %s, continuing without cache: %v", cfg.Addr, err))
		client.Close()
		return nil
	}
	l.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, l *logger.Logger) auth.TokenVerifier {
	if cfg.SkipVerify || cfg.OIDCIssuer == "" {
		l.Warn("AUTH", "Token signatures are NOT verified (SKIP_TOKEN_VERIFY or no OIDC_ISSUER)")
		return auth.UnverifiedParser{}
	}
	v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
	if err != nil {
		l.Fatal("AUTH", fmt.Sprintf("Failed to initialise OIDC verifier for %s: %v", cfg.OIDCIssuer, err))
	}
	l.Info("AUTH", fmt.Sprintf("Verifying tokens against %s", cfg.OIDCIssuer))
	return v
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	level := logger.ParseLevel(cfg.LogLevel)
	logger := logger.NewLogger("checkin-service")
	defer logger.Close()
	logger.SetLevel(level)

	if envErr != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	logger.Info("APP", "Starting Check-in Service initialization")

	ctx := context.Background()

	if cfg.Database.AutoMigrate {
		runMigrations(ctx, cfg.Database, logger)
	}

	bunDB, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	tickets := &ticketdb.DB{Bun: bunDB}
	events := &eventdb.DB{Bun: bunDB}
	dbSink := &audit.DBSink{Bun: bunDB}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = connectRedis(ctx, cfg.Redis, logger)
		if redisClient != nil {
			defer redisClient.Close()
		}
	}

	sinks := audit.MultiSink{dbSink}
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.AuditTopic}, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, logger)
		sinks = append(sinks, &audit.KafkaSink{Producer: producer})
		logger.Info("KAFKA", fmt.Sprintf("Audit entries mirrored to topic %s", cfg.Kafka.AuditTopic))
	}

	auditOpts := []audit.AsyncOption{
		audit.WithAsyncLogger(logger),
		audit.WithQueueSize(cfg.CheckIn.AuditQueueSize),
		audit.WithRetry(cfg.CheckIn.AuditMaxAttempts, 100*time.Millisecond),
	}
	var cache attendance.Cache
	if redisClient != nil {
		tracker := audit.NewNotFoundTracker(redisClient, cfg.CheckIn.NotFoundWindow, cfg.CheckIn.NotFoundThreshold, logger)
		auditOpts = append(auditOpts, audit.WithNotFoundTracker(tracker))
		cache = attendance.NewRedisCache(redisClient)
	}
	auditLog := audit.NewAsyncLogger(sinks, auditOpts...)
	auditLog.Start()

	emitter := sse.NewCheckinEventEmitter()
	checkinService := checkin.NewService(tickets, events, auditLog,
		checkin.WithLogger(logger),
		checkin.WithNotifier(emitter),
		checkin.WithUndoWindow(cfg.CheckIn.UndoWindow),
		checkin.WithMaxAttempts(cfg.CheckIn.MaxAttempts),
	)
	attendanceService := attendance.NewService(tickets, cache, cfg.CheckIn.AttendanceTTL, logger)

	handler := &checkin_api.Handler{
		Checkin:    checkinService,
		Attendance: attendanceService,
		Tickets:    tickets,
		Events:     events,
		Audit:      dbSink,
		Emitter:    emitter,
		Ping:       bunDB.PingContext,
		Logger:     logger,
	}

	metrics.Register()

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// --- Public Routes ---
	r.Get("/healthz", handler.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(newVerifier(ctx, cfg.Auth, logger), logger))
		handler.RegisterRoutes(r)
		logger.Info("ROUTER", "Check-in routes registered under /api/checkin")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Check-in Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	if err := auditLog.Close(ctxShutdown); err != nil {
		logger.Error("AUDIT", fmt.Sprintf("Audit queue not fully drained: %v", err))
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
	logger.Info("HTTP", "✅ Check-in Service shutdown complete")
}
