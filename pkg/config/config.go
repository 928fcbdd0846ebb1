package config

import (
	"context"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

// Config is the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Queue     QueueConfig     `yaml:"queue"`
	Converter ConverterConfig `yaml:"converter"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port          int   `yaml:"port" env:"DOCFLOW_PORT,overwrite"`
	MaxUploadSize int64 `yaml:"max_upload_size" env:"DOCFLOW_MAX_UPLOAD_SIZE,overwrite"`
}

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers    int `yaml:"workers" env:"DOCFLOW_WORKERS,overwrite"`
	MaxPending int `yaml:"max_pending" env:"DOCFLOW_MAX_PENDING,overwrite"` // 0 = unbounded
}

// ConverterConfig selects the conversion backend.
type ConverterConfig struct {
	Type           string `yaml:"type" env:"DOCFLOW_CONVERTER,overwrite"` // unoconvert | passthrough
	UnoconvertBin  string `yaml:"unoconvert_bin" env:"DOCFLOW_UNOCONVERT_BIN,overwrite"`
	UnoserverBin   string `yaml:"unoserver_bin" env:"DOCFLOW_UNOSERVER_BIN,overwrite"`
	BasePort       int    `yaml:"base_port" env:"DOCFLOW_UNOSERVER_PORT,overwrite"`
	Instances      int    `yaml:"instances" env:"DOCFLOW_UNOSERVER_INSTANCES,overwrite"` // defaults to queue.workers
	StartDaemons   bool   `yaml:"start_daemons" env:"DOCFLOW_START_DAEMONS,overwrite"`
	StartupDelayMS int    `yaml:"startup_delay_ms"`
}

func (c ConverterConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelayMS) * time.Millisecond
}

// StorageConfig selects the job ledger backend.
type StorageConfig struct {
	Type     string         `yaml:"type" env:"DOCFLOW_STORAGE,overwrite"` // memory | redis | postgres | hybrid
	MaxJobs  int            `yaml:"max_jobs"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"DOCFLOW_REDIS_ADDR,overwrite"`
	Password string `yaml:"password" env:"DOCFLOW_REDIS_PASSWORD,overwrite"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"DOCFLOW_POSTGRES_DSN,overwrite"`
}

// EventsConfig selects where completion events go.
type EventsConfig struct {
	Type     string         `yaml:"type" env:"DOCFLOW_EVENTS,overwrite"` // none | rabbitmq
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

type RabbitMQConfig struct {
	URL       string `yaml:"url" env:"DOCFLOW_RABBITMQ_URL,overwrite"`
	QueueName string `yaml:"queue_name"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"DOCFLOW_LOG_LEVEL,overwrite"`
	Format string `yaml:"format"` // console | json
}

// Default returns a configuration that runs without any external service
// except LibreOffice.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML file, applies environment overrides and validates the result.
// An empty path skips the file.
func LoadConfig(configPath string) (*Config, error) {
	return load(configPath, envconfig.OsLookuper())
}

func load(configPath string, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	if err := envconfig.ProcessWith(context.Background(), &cfg, lookuper); err != nil {
		return nil, errors.Wrap(err, "apply environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	return &cfg, nil
}

// Validate fills defaults and rejects values nothing can run with.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Queue.Workers < 1 {
		return errors.Errorf("queue.workers must be at least 1, got %d", c.Queue.Workers)
	}

	switch c.Converter.Type {
	case "unoconvert", "passthrough":
	default:
		return errors.Errorf("unsupported converter type %q", c.Converter.Type)
	}

	switch c.Storage.Type {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required")
		}
	case "hybrid":
		if c.Storage.Redis.Addr == "" || c.Storage.Postgres.DSN == "" {
			return errors.New("hybrid storage needs both storage.redis.addr and storage.postgres.dsn")
		}
	default:
		return errors.Errorf("unsupported storage type %q", c.Storage.Type)
	}

	switch c.Events.Type {
	case "none":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.rabbitmq.url is required")
		}
	default:
		return errors.Errorf("unsupported events type %q", c.Events.Type)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8000
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 50 << 20
	}

	if c.Queue.Workers == 0 {
		c.Queue.Workers = 5
	}

	if c.Converter.Type == "" {
		c.Converter.Type = "unoconvert"
	}
	if c.Converter.UnoconvertBin == "" {
		c.Converter.UnoconvertBin = "unoconvert"
	}
	if c.Converter.UnoserverBin == "" {
		c.Converter.UnoserverBin = "unoserver"
	}
	if c.Converter.BasePort <= 0 {
		c.Converter.BasePort = 2003
	}
	if c.Converter.Instances <= 0 {
		c.Converter.Instances = c.Queue.Workers
	}
	if c.Converter.StartupDelayMS <= 0 {
		c.Converter.StartupDelayMS = 1000
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.MaxJobs <= 0 {
		c.Storage.MaxJobs = 10000
	}
	if c.Storage.Redis.TTLHours <= 0 {
		c.Storage.Redis.TTLHours = 24
	}

	if c.Events.Type == "" {
		c.Events.Type = "none"
	}
	if c.Events.RabbitMQ.QueueName == "" {
		c.Events.RabbitMQ.QueueName = "docflow.conversions"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}
