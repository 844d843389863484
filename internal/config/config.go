package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	Auth       AuthConfig       `yaml:"auth"`
	DB         DBConfig         `yaml:"db"`
	Log        LogConfig        `yaml:"log"`
	Batch      BatchConfig      `yaml:"batch"`
	PriceCache PriceCacheConfig `yaml:"price_cache"`
	Trigger    TriggerConfig    `yaml:"trigger"`
	Redis      RedisConfig      `yaml:"redis"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TransportConfig struct {
	// Mode is "http" or "stdio".
	Mode string `yaml:"mode"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// DefaultTenant is used for every request when auth is disabled.
	DefaultTenant string `yaml:"default_tenant"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// Path, when set, also writes logs to a size-rotated file.
	Path string `yaml:"path"`
}

type BatchConfig struct {
	// Interval between scheduled runs. Zero disables the scheduler.
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	RunOnStart        bool          `yaml:"run_on_start"`
	TenantConcurrency int           `yaml:"tenant_concurrency"`
	LeaseTTL          time.Duration `yaml:"lease_ttl"`
}

type PriceCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxCost int64         `yaml:"max_cost"`
	TTL     time.Duration `yaml:"ttl"`
}

// TriggerConfig selects how a new grant reaches the vesting engine.
type TriggerConfig struct {
	// Mode is "sync" (vest in the create call) or "amqp" (publish a message).
	Mode    string `yaml:"mode"`
	AMQPURL string `yaml:"amqp_url"`
	Queue   string `yaml:"queue"`
}

// RedisConfig enables the cross-replica batch lease when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Transport: TransportConfig{
			Mode: "http",
		},
		Auth: AuthConfig{
			Enabled:       true,
			DefaultTenant: "default",
		},
		DB: DBConfig{
			Path: "vesting.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Batch: BatchConfig{
			Interval:          time.Hour,
			Timeout:           30 * time.Minute,
			RunOnStart:        true,
			TenantConcurrency: 1,
			LeaseTTL:          time.Hour,
		},
		PriceCache: PriceCacheConfig{
			Enabled: true,
			MaxCost: 10000,
			TTL:     10 * time.Minute,
		},
		Trigger: TriggerConfig{
			Mode:  "sync",
			Queue: "grant.created",
		},
	}
}

// Load reads configuration from an optional .env file, an optional YAML file
// and environment variables, in increasing precedence.
func Load() (Config, error) {
	envFile := os.Getenv("VESTING_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := Defaults()

	if path := os.Getenv("VESTING_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	var errs []error
	envString("VESTING_SERVER_HOST", &cfg.Server.Host)
	errs = append(errs, envInt("VESTING_SERVER_PORT", &cfg.Server.Port))
	envString("VESTING_TRANSPORT_MODE", &cfg.Transport.Mode)
	errs = append(errs, envBool("VESTING_AUTH_ENABLED", &cfg.Auth.Enabled))
	envString("VESTING_DEFAULT_TENANT", &cfg.Auth.DefaultTenant)
	envString("VESTING_DB_PATH", &cfg.DB.Path)
	envString("VESTING_LOG_LEVEL", &cfg.Log.Level)
	envString("VESTING_LOG_FORMAT", &cfg.Log.Format)
	envString("VESTING_LOG_PATH", &cfg.Log.Path)
	errs = append(errs,
		envDuration("VESTING_BATCH_INTERVAL", &cfg.Batch.Interval),
		envDuration("VESTING_BATCH_TIMEOUT", &cfg.Batch.Timeout),
		envBool("VESTING_BATCH_RUN_ON_START", &cfg.Batch.RunOnStart),
		envInt("VESTING_BATCH_TENANT_CONCURRENCY", &cfg.Batch.TenantConcurrency),
		envDuration("VESTING_BATCH_LEASE_TTL", &cfg.Batch.LeaseTTL),
		envBool("VESTING_PRICE_CACHE_ENABLED", &cfg.PriceCache.Enabled),
		envDuration("VESTING_PRICE_CACHE_TTL", &cfg.PriceCache.TTL),
	)
	envString("VESTING_TRIGGER_MODE", &cfg.Trigger.Mode)
	envString("VESTING_AMQP_URL", &cfg.Trigger.AMQPURL)
	envString("VESTING_AMQP_QUEUE", &cfg.Trigger.Queue)
	envString("VESTING_REDIS_ADDR", &cfg.Redis.Addr)
	envString("VESTING_REDIS_PASSWORD", &cfg.Redis.Password)
	errs = append(errs, envInt("VESTING_REDIS_DB", &cfg.Redis.DB))
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch c.Transport.Mode {
	case "http", "stdio":
	default:
		return fmt.Errorf("invalid transport mode %q", c.Transport.Mode)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	switch c.Trigger.Mode {
	case "sync":
	case "amqp":
		if c.Trigger.AMQPURL == "" {
			return errors.New("trigger mode amqp requires amqp_url")
		}
	default:
		return fmt.Errorf("invalid trigger mode %q", c.Trigger.Mode)
	}
	if c.Batch.TenantConcurrency < 1 {
		return fmt.Errorf("batch tenant_concurrency must be at least 1, got %d", c.Batch.TenantConcurrency)
	}
	if c.Batch.Interval < 0 || c.Batch.Timeout < 0 {
		return errors.New("batch interval and timeout must not be negative")
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
