package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/speech-jobs/internal/api/handler"
	"github.com/cuongbtq/speech-jobs/internal/api/router"
	"github.com/cuongbtq/speech-jobs/internal/config"
	"github.com/cuongbtq/speech-jobs/internal/provider"
	"github.com/cuongbtq/speech-jobs/internal/registry"
	"github.com/cuongbtq/speech-jobs/internal/storage"
	"github.com/cuongbtq/speech-jobs/internal/worker"
	"github.com/cuongbtq/speech-jobs/migrations"
	"github.com/cuongbtq/speech-jobs/shared/logger"
	"github.com/cuongbtq/speech-jobs/shared/postgresql"
	"github.com/cuongbtq/speech-jobs/shared/rabbitmq"
	"github.com/cuongbtq/speech-jobs/shared/redis"
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
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("registry", cfg.Registry.Backend),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("dispatch", cfg.Dispatch.Mode),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := &handler.Dependencies{
		Logger:        appLogger.Logger,
		UploadDir:     cfg.Upload.Dir,
		MaxUploadSize: cfg.Upload.MaxSize,
		ServiceName:   cfg.App.Name,
	}

	// Job registry
	var redisClient *redis.Client
	switch cfg.Registry.Backend {
	case config.BackendRedis:
		redisClient, err = initRedis(&cfg.Redis, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()

		deps.Registry = registry.NewRedis(&registry.RedisConfig{
			Logger:     appLogger.Component("registry"),
			Client:     redisClient.GetClient(),
			KeyPrefix:  cfg.Redis.KeyPrefix,
			Retention:  cfg.Registry.Retention,
			BufferSize: cfg.Registry.BufferSize,
		})
		deps.RedisClient = redisClient
	default:
		memRegistry := registry.NewMemory(&registry.MemoryConfig{
			Logger:     appLogger.Component("registry"),
			Retention:  cfg.Registry.Retention,
			BufferSize: cfg.Registry.BufferSize,
		})
		go memRegistry.RunJanitor(ctx, cfg.Registry.JanitorInterval)
		deps.Registry = memRegistry
	}

	// Result persistence
	var dbClient *postgresql.Client
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		if cfg.Database.AutoMigrate {
			if err := dbClient.Migrate(ctx, migrations.FS); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}

		deps.Store = storage.NewPostgres(dbClient.GetDB())
		deps.DBClient = dbClient
		appLogger.Info("Database connection established")
	default:
		deps.Store = storage.NewMemory()
	}

	providers, err := initProviders(cfg.Providers)
	if err != nil {
		return err
	}
	deps.Providers = providers

	if err := os.MkdirAll(cfg.Upload.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	// Dispatcher: an in-process worker pool, or RabbitMQ for worker-service instances
	var localWorker *worker.Worker
	switch cfg.Dispatch.Mode {
	case config.DispatchRabbitMQ:
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		deps.Dispatcher = worker.NewRabbitDispatcher(rabbitClient, appLogger.Component("dispatcher"))
		appLogger.Info("RabbitMQ connection established")
	default:
		localWorker = worker.NewWorker(&worker.Config{
			Logger:           appLogger.Component("worker"),
			Registry:         deps.Registry,
			Store:            deps.Store,
			Providers:        providers,
			WorkerID:         cfg.Worker.ID,
			Concurrency:      cfg.Worker.Concurrency,
			QueueSize:        cfg.Worker.QueueSize,
			ProviderTimeout:  cfg.Worker.ProviderTimeout,
			ProgressInterval: cfg.Worker.ProgressInterval,
			RealtimeFactor:   cfg.Worker.RealtimeFactor,
			KeepAudio:        cfg.Upload.KeepAudio,
		})
		go func() {
			if err := localWorker.Start(ctx); err != nil {
				appLogger.Error("Worker stopped with error", slog.Any("error", err))
			}
		}()
		deps.Dispatcher = localWorker
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, deps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// request contexts derive from ctx so progress streams end on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	if localWorker != nil {
		stopWorker(localWorker, cfg.Worker.ShutdownTimeout, appLogger.Logger)
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// stopWorker waits for running jobs, giving up after timeout
func stopWorker(w *worker.Worker, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
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

	return postgresql.NewClient(dbConfig, logger)
}

// initRedis initializes the Redis client backing the shared registry
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}, logger)
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

// initProviders builds the provider registry from configuration
func initProviders(cfgs []config.ProviderConfig) (*provider.Registry, error) {
	providers := make([]provider.Provider, 0, len(cfgs))
	for _, p := range cfgs {
		switch p.Type {
		case config.ProviderWhisper:
			providers = append(providers, provider.NewWhisper(provider.WhisperConfig{
				Name:    p.Name,
				BaseURL: p.BaseURL,
				APIKey:  p.APIKey,
				Model:   p.Model,
				Timeout: p.Timeout,
			}))
		case config.ProviderStatic:
			providers = append(providers, provider.NewStatic(p.Name, p.Text, p.Delay))
		default:
			return nil, fmt.Errorf("unknown provider type %q", p.Type)
		}
	}
	return provider.NewRegistry(providers...), nil
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
