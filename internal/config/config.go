package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Backend and mode names
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	DispatchLocal    = "local"
	DispatchRabbitMQ = "rabbitmq"

	ProviderWhisper = "whisper"
	ProviderStatic  = "static"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	RabbitMQ  RabbitMQConfig   `yaml:"rabbitmq"`
	Redis     RedisConfig      `yaml:"redis"`
	Logging   LoggingConfig    `yaml:"logging"`
	App       AppConfig        `yaml:"app"`
	Worker    WorkerConfig     `yaml:"worker"`
	Registry  RegistryConfig   `yaml:"registry"`
	Storage   StorageConfig    `yaml:"storage"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Upload    UploadConfig     `yaml:"upload"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds Redis connection settings for the shared job registry
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds transcription worker configuration
type WorkerConfig struct {
	ID               string        `yaml:"id"`
	Concurrency      int           `yaml:"concurrency"`
	QueueSize        int           `yaml:"queue_size"`
	ProviderTimeout  time.Duration `yaml:"provider_timeout"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	RealtimeFactor   float64       `yaml:"realtime_factor"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// RegistryConfig selects and tunes the job registry
type RegistryConfig struct {
	Backend         string        `yaml:"backend"`
	Retention       time.Duration `yaml:"retention"`
	BufferSize      int           `yaml:"buffer_size"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// StorageConfig selects where finished transcriptions are kept
type StorageConfig struct {
	Backend string `yaml:"backend"`
}

// DispatchConfig selects how queued jobs reach a worker
type DispatchConfig struct {
	Mode string `yaml:"mode"`
}

// UploadConfig controls audio spooling
type UploadConfig struct {
	Dir       string `yaml:"dir"`
	MaxSize   int64  `yaml:"max_size"`
	KeepAudio bool   `yaml:"keep_audio"`
}

// ProviderConfig describes one transcription provider
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	Text    string        `yaml:"text"`
	Delay   time.Duration `yaml:"delay"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Registry.Backend == "" {
		c.Registry.Backend = BackendMemory
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendPostgres
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchLocal
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "speech"
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = os.TempDir()
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateRegistry(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	switch c.Dispatch.Mode {
	case DispatchLocal:
		if err := c.validateWorker(); err != nil {
			return err
		}
	case DispatchRabbitMQ:
		if c.Registry.Backend != BackendRedis {
			return fmt.Errorf("rabbitmq dispatch requires the redis registry backend")
		}
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown dispatch mode %q (expected %s or %s)", c.Dispatch.Mode, DispatchLocal, DispatchRabbitMQ)
	}

	if c.Upload.MaxSize < 0 {
		return fmt.Errorf("upload max_size must not be negative")
	}

	return c.validateProviders()
}

// ValidateWorkerConfig checks the settings the standalone worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateWorker(); err != nil {
		return err
	}

	if c.Registry.Backend != BackendRedis {
		return fmt.Errorf("worker service requires the redis registry backend")
	}

	if err := c.validateRegistry(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	return c.validateProviders()
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("worker queue_size must not be negative")
	}

	if c.Worker.ProviderTimeout <= 0 {
		return fmt.Errorf("worker provider_timeout must be greater than 0")
	}

	if c.Worker.ProgressInterval <= 0 {
		return fmt.Errorf("worker progress_interval must be greater than 0")
	}

	if c.Worker.RealtimeFactor < 0 {
		return fmt.Errorf("worker realtime_factor must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateRegistry() error {
	switch c.Registry.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required")
		}
	default:
		return fmt.Errorf("unknown registry backend %q (expected %s or %s)", c.Registry.Backend, BackendMemory, BackendRedis)
	}

	if c.Registry.Retention < 0 {
		return fmt.Errorf("registry retention must not be negative")
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendMemory:
		return nil
	case BackendPostgres:
		return c.validateDatabase()
	default:
		return fmt.Errorf("unknown storage backend %q (expected %s or %s)", c.Storage.Backend, BackendPostgres, BackendMemory)
	}
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateProviders() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q is configured twice", p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case ProviderWhisper:
			if p.BaseURL == "" {
				return fmt.Errorf("provider %q: base_url is required", p.Name)
			}
		case ProviderStatic:
		default:
			return fmt.Errorf("provider %q: unknown type %q (expected %s or %s)", p.Name, p.Type, ProviderWhisper, ProviderStatic)
		}
	}

	return nil
}
