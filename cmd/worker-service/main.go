package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/docflow/internal/config"
	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/metrics"
	"github.com/cuongbtq/docflow/internal/storage"
	"github.com/cuongbtq/docflow/internal/worker"
	"github.com/cuongbtq/docflow/internal/worker/handler"
	"github.com/cuongbtq/docflow/shared/blobstore"
	"github.com/cuongbtq/docflow/shared/cache"
	"github.com/cuongbtq/docflow/shared/inference"
	"github.com/cuongbtq/docflow/shared/logger"
	"github.com/cuongbtq/docflow/shared/postgresql"
	"github.com/cuongbtq/docflow/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	metrics.MustRegister()

	// Initialize PostgreSQL client
	dbConfig := postgresConfig(&cfg.Database)
	dbClient, err := postgresql.NewClient(dbConfig, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(dbConfig.URL(), appLogger.Component("migrate")); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Component("storage"), &storage.Options{
		RetryDelay: cfg.Jobs.RetryDelay,
	})

	blobs, err := blobstore.NewLocalDisk(cfg.Storage.BasePath, appLogger.Component("blobstore"))
	if err != nil {
		return fmt.Errorf("failed to initialize byte store: %w", err)
	}

	llm, err := inference.NewOpenAIClient(&inference.Config{
		APIKey:  cfg.Inference.APIKey,
		BaseURL: cfg.Inference.BaseURL,
		Timeout: cfg.Inference.Timeout,
	}, appLogger.Component("inference"))
	if err != nil {
		return fmt.Errorf("failed to initialize inference client: %w", err)
	}

	statusCache, err := initCache(&cfg.Redis, appLogger.Component("cache"))
	if err != nil {
		appLogger.Warn("Job status cache disabled", slog.String("error", err.Error()))
		statusCache = cache.Nop{}
	}
	defer statusCache.Close()

	// Register job handlers and the target lookups they rely on
	dispatcher := worker.NewDispatcher(appLogger.Component("dispatcher"))
	dispatcher.Register(domain.JobTypeDocumentIngest,
		handler.NewIngest(store, blobs, cfg.Worker.ChunkSize, appLogger.Component("ingest")))
	dispatcher.Register(domain.JobTypeAIRun,
		handler.NewAIRun(store, llm, cfg.Inference.Model, appLogger.Component("ai_run")))
	dispatcher.RegisterTarget(domain.TargetDocumentVersion, store.VersionExists)
	dispatcher.RegisterTarget(domain.TargetAIRun, store.RunExists)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Component("worker"),
		Store:        store,
		Dispatcher:   dispatcher,
		Cache:        statusCache,
		WorkerID:     workerID,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
		StaleAfter:   cfg.Worker.StaleAfter,
		StatusTTL:    cfg.Redis.StatusTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workerInstance.Run(gctx)
	})

	// Initialize RabbitMQ client. Notifications only shorten the idle wait;
	// without them the worker keeps polling.
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			appLogger.Warn("RabbitMQ unavailable, relying on polling",
				slog.String("error", err.Error()),
			)
		} else {
			defer rabbitClient.Close()
			appLogger.Info("RabbitMQ connection established")

			g.Go(func() error {
				if err := workerInstance.ListenForWakeups(gctx, rabbitClient); err != nil {
					appLogger.Warn("Wake-up listener failed, relying on polling",
						slog.String("error", err.Error()),
					)
				}
				return nil
			})
		}
	}

	if cfg.Worker.OpsPort > 0 {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Worker.OpsPort),
			Handler: opsRouter(cfg.App.Environment, dbClient),
		}

		g.Go(func() error {
			appLogger.Info("Starting ops server", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case <-gctx.Done():
	}

	// Cancel context to stop leasing. The job in flight runs to completion or
	// its job timeout, bounded by the shutdown timeout below.
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
			return err
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
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
		PrefetchCount:      cfg.Consumer.PrefetchCount,
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

// opsRouter serves health and metrics for the worker process
func opsRouter(environment string, db *postgresql.Client) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "docflow-worker-service"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
