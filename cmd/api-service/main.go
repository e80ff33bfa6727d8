package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/docflow/internal/api/handler"
	"github.com/cuongbtq/docflow/internal/api/router"
	"github.com/cuongbtq/docflow/internal/config"
	"github.com/cuongbtq/docflow/internal/metrics"
	"github.com/cuongbtq/docflow/internal/notify"
	"github.com/cuongbtq/docflow/internal/producer"
	"github.com/cuongbtq/docflow/internal/storage"
	"github.com/cuongbtq/docflow/shared/blobstore"
	"github.com/cuongbtq/docflow/shared/cache"
	"github.com/cuongbtq/docflow/shared/logger"
	"github.com/cuongbtq/docflow/shared/postgresql"
	"github.com/cuongbtq/docflow/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	metrics.MustRegister()

	// Initialize PostgreSQL client
	dbConfig := postgresConfig(&cfg.Database)
	dbClient, err := postgresql.NewClient(dbConfig, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(dbConfig.URL(), appLogger.Component("migrate")); err != nil {
			dbClient.Close()
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Component("storage"), &storage.Options{
		RetryDelay: cfg.Jobs.RetryDelay,
	})

	blobs, err := blobstore.NewLocalDisk(cfg.Storage.BasePath, appLogger.Component("blobstore"))
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize byte store: %w", err)
	}

	// Initialize RabbitMQ client. Enqueue notifications are optional; workers
	// still find jobs by polling.
	var (
		rabbitClient *rabbitmq.Client
		notifier     notify.Notifier = notify.Nop{}
	)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			dbClient.Close()
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		notifier = notify.NewBroker(rabbitClient, appLogger.Component("notify"))

		appLogger.Info("RabbitMQ connection established")
	}

	statusCache, err := initCache(&cfg.Redis, appLogger.Component("cache"))
	if err != nil {
		appLogger.Warn("Job status cache disabled", slog.String("error", err.Error()))
		statusCache = cache.Nop{}
	}

	documents := producer.NewDocumentService(store, blobs, notifier, cfg.Jobs.MaxAttempts, appLogger.Component("producer"))
	runs := producer.NewAIRunService(store, notifier, cfg.Jobs.MaxAttempts, appLogger.Component("producer"))

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:         appLogger.Logger,
		DB:             dbClient,
		Store:          store,
		Documents:      documents,
		Runs:           runs,
		Cache:          statusCache,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Int64("max_upload_bytes", cfg.Server.MaxUploadBytes),
	)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Cleanup function to close all resources
	cleanup := func() {
		statusCache.Close()
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		dbClient.Close()
	}
	defer cleanup()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	}

	return logger.New(loggerCfg)
}

func postgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initCache connects the Redis status cache, or returns a no-op cache when
// Redis is disabled
func initCache(cfg *config.RedisConfig, logger *slog.Logger) (cache.StatusCache, error) {
	if !cfg.Enabled {
		return cache.Nop{}, nil
	}

	redisCache, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Redis status cache connected")
	return redisCache, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
