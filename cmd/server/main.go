package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/avatarctic/idempotency-engine/configs"
	"github.com/avatarctic/idempotency-engine/internal/application/services"
	"github.com/avatarctic/idempotency-engine/internal/core/ports"
	"github.com/avatarctic/idempotency-engine/internal/infrastructure/db"
	"github.com/avatarctic/idempotency-engine/internal/infrastructure/health"
	"github.com/avatarctic/idempotency-engine/internal/infrastructure/httpserver"
	"github.com/avatarctic/idempotency-engine/internal/infrastructure/memory"
	infraMetrics "github.com/avatarctic/idempotency-engine/internal/infrastructure/metrics"
	infraRedis "github.com/avatarctic/idempotency-engine/internal/infrastructure/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Setup logger
	logger := logrus.New()
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}

	logger.Info("Starting idempotency engine...")

	// Initialize the conditional store backend
	var store ports.ConditionalStore
	var healthCheckers []ports.HealthChecker

	switch cfg.Idempotency.Backend {
	case "redis":
		redisClient, err := infraRedis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis:", err)
		}
		defer redisClient.Close()
		logger.Info("Connected to Redis successfully")
		store = infraRedis.NewConditionalStore(redisClient, cfg.Idempotency.KeyPrefix)
		healthCheckers = append(healthCheckers, health.NewRedisHealthChecker(redisClient))
	case "postgres":
		database, err := db.NewDatabaseWithConfig(&cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database:", err)
		}
		defer database.Close()
		logger.Info("Connected to database successfully")
		if err := database.Migrate("./migrations"); err != nil {
			logger.Warn("Failed to run migrations:", err)
		}
		store = db.NewConditionalStore(database)
		healthCheckers = append(healthCheckers, health.NewDBHealthChecker(database))
	case "memory":
		logger.Warn("Using in-memory store - records do not survive restarts")
		store = memory.NewConditionalStore()
	}

	// Initialize the persistence layer and orchestrator
	recorder := infraMetrics.NewRecorder(prometheus.DefaultRegisterer)

	persistenceConfig := &services.PersistenceConfig{
		ExpiryWindow:      cfg.Idempotency.ExpiryWindow,
		FunctionTimeout:   cfg.Idempotency.FunctionTimeout,
		LockTimeout:       cfg.Idempotency.LockTimeout,
		PayloadValidation: cfg.Idempotency.PayloadValidationJMESPath != "",
		UseLocalCache:     cfg.Idempotency.UseLocalCache,
		LocalCacheSize:    cfg.Idempotency.LocalCacheSize,
	}
	persistence, err := services.NewPersistenceService(store, persistenceConfig, recorder, logger)
	if err != nil {
		logger.Fatal("Failed to initialize persistence layer:", err)
	}

	keyConfig := &services.KeyServiceConfig{
		Namespace:                 cfg.Idempotency.Namespace,
		EventKeyJMESPath:          cfg.Idempotency.EventKeyJMESPath,
		PayloadValidationJMESPath: cfg.Idempotency.PayloadValidationJMESPath,
		RaiseOnNoIdempotencyKey:   cfg.Idempotency.RaiseOnNoIdempotencyKey,
		HashFunction:              cfg.Idempotency.HashFunction,
	}
	keyService, err := services.NewKeyService(keyConfig, logger)
	if err != nil {
		logger.Fatal("Failed to initialize key service:", err)
	}

	idempotencyService := services.NewIdempotencyService(persistence, keyService, logger)
	paymentService := services.NewPaymentService(logger)

	// Create server configuration
	serverConfig := &httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		TLSCertFile:  cfg.Server.TLSCertFile,
		TLSKeyFile:   cfg.Server.TLSKeyFile,
	}

	deps := httpserver.ServerDeps{
		PaymentService: paymentService,
		Idempotency:    idempotencyService,
		HealthCheckers: healthCheckers,
	}

	server := httpserver.NewServer(serverConfig, logger, deps)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	logger.Infof("Server started on %s:%s", cfg.Server.Host, cfg.Server.Port)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
