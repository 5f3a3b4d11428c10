package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/speech-jobs/internal/config"
	"github.com/cuongbtq/speech-jobs/internal/provider"
	"github.com/cuongbtq/speech-jobs/internal/registry"
	"github.com/cuongbtq/speech-jobs/internal/storage"
	"github.com/cuongbtq/speech-jobs/internal/worker"
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
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize Redis client for the shared job registry
	redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	jobRegistry := registry.NewRedis(&registry.RedisConfig{
		Logger:     appLogger.Component("registry"),
		Client:     redisClient.GetClient(),
		KeyPrefix:  cfg.Redis.KeyPrefix,
		Retention:  cfg.Registry.Retention,
		BufferSize: cfg.Registry.BufferSize,
	})

	// Result persistence
	var store storage.Store
	if cfg.Storage.Backend == config.BackendPostgres {
		dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		store = storage.NewPostgres(dbClient.GetDB())
		appLogger.Info("Database connection established")
	} else {
		appLogger.Warn("Results are kept in worker memory and are not visible to the API service")
		store = storage.NewMemory()
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	providers, err := initProviders(cfg.Providers)
	if err != nil {
		return err
	}

	// Initialize worker
	w := worker.NewWorker(&worker.Config{
		Logger:           appLogger.Component("worker"),
		Registry:         jobRegistry,
		Store:            store,
		Providers:        providers,
		RabbitClient:     rabbitClient,
		WorkerID:         cfg.Worker.ID,
		Concurrency:      cfg.Worker.Concurrency,
		QueueSize:        cfg.Worker.QueueSize,
		PrefetchCount:    cfg.RabbitMQ.Consumer.PrefetchCount,
		ProviderTimeout:  cfg.Worker.ProviderTimeout,
		ProgressInterval: cfg.Worker.ProgressInterval,
		RealtimeFactor:   cfg.Worker.RealtimeFactor,
		KeepAudio:        cfg.Upload.KeepAudio,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- w.Start(ctx)
	}()

	appLogger.Info("Worker service is running")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-workerErr:
		if err != nil {
			appLogger.Error("Worker failed", slog.Any("error", err))
			w.Stop()
			return err
		}
	}

	appLogger.Info("Shutting down worker service...")

	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("All workers stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
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
