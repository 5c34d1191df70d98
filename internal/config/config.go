package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatch and tracking services.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Tracking TrackingConfig `yaml:"tracking"`
	SES      SESConfig      `yaml:"ses"`
	Platform PlatformConfig `yaml:"platform"`
	SQS      SQSConfig      `yaml:"sqs"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration for the tracking service.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the listen host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings for the rate limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DispatchConfig holds send-loop tuning.
type DispatchConfig struct {
	BatchSize          int `yaml:"batch_size"`
	WorkerCount        int `yaml:"worker_count"`
	MaxRetries         int `yaml:"max_retries"`
	RetryBackoffMs     int `yaml:"retry_backoff_ms"`
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
	SchedulerTickSecs  int `yaml:"scheduler_tick_seconds"`
}

// SendTimeout returns the per-send timeout as a duration.
func (c DispatchConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// RetryBackoff returns the base retry backoff as a duration.
func (c DispatchConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// SchedulerTick returns the scheduled-campaign scan interval.
func (c DispatchConfig) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickSecs) * time.Second
}

// TrackingConfig holds tracking URL generation and verification settings.
type TrackingConfig struct {
	BaseURL    string `yaml:"base_url"`
	SigningKey string `yaml:"signing_key"`
	HomeURL    string `yaml:"home_url"`
}

// SESConfig holds AWS SESv2 settings.
type SESConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PlatformConfig holds the platform-default SMTP relay used when an
// identity has no provider of its own.
type PlatformConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
	SMTPUseTLS   bool   `yaml:"smtp_use_tls"`
}

// SQSConfig holds the tracking event queue settings. When disabled the
// tracking service processes events in-process.
type SQSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	QueueURL        string `yaml:"queue_url"`
	Region          string `yaml:"region"`
	WaitTimeSeconds int    `yaml:"wait_time_seconds"`
	MaxMessages     int    `yaml:"max_messages"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	RedactEmail *bool  `yaml:"redact_email"`
}

// Load reads and parses the configuration file, filling in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 50
	}
	if cfg.Dispatch.WorkerCount == 0 {
		cfg.Dispatch.WorkerCount = 10
	}
	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = 2
	}
	if cfg.Dispatch.RetryBackoffMs == 0 {
		cfg.Dispatch.RetryBackoffMs = 500
	}
	if cfg.Dispatch.SendTimeoutSeconds == 0 {
		cfg.Dispatch.SendTimeoutSeconds = 30
	}
	if cfg.Dispatch.SchedulerTickSecs == 0 {
		cfg.Dispatch.SchedulerTickSecs = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Platform.SMTPPort == 0 {
		cfg.Platform.SMTPPort = 587
	}
	if cfg.SQS.WaitTimeSeconds == 0 {
		cfg.SQS.WaitTimeSeconds = 20
	}
	if cfg.SQS.MaxMessages == 0 {
		cfg.SQS.MaxMessages = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first if present, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.SQS.QueueURL = v
		cfg.SQS.Enabled = true
	}
	if v := os.Getenv("SQS_REGION"); v != "" {
		cfg.SQS.Region = v
	}
	if v := os.Getenv("PLATFORM_SMTP_HOST"); v != "" {
		cfg.Platform.SMTPHost = v
	}
	if v := os.Getenv("PLATFORM_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Platform.SMTPPort = port
		}
	}
	if v := os.Getenv("PLATFORM_SMTP_USERNAME"); v != "" {
		cfg.Platform.SMTPUsername = v
	}
	if v := os.Getenv("PLATFORM_SMTP_PASSWORD"); v != "" {
		cfg.Platform.SMTPPassword = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
