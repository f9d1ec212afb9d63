// Package config loads mxrelay's configuration from environment
// variables (and an optional config file), following the teacher's
// viper-based LoadConfig/setDefaults/bindEnvVars pattern.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for every mxrelay process.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RequestTimeout bounds each ingress request's overall deadline
	// (gin's request context via context.WithTimeout), independent of
	// the scheduler's own per-callback HTTP client timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AttachmentsDir string      `mapstructure:"attachments_dir"`
	FrontendURL  string        `mapstructure:"frontend_url"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds the shared Redis connection configuration used by
// the rate limiter, idempotency store, and durable queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds ingress authentication configuration.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// SchedulerConfig holds the scheduler process's configuration.
type SchedulerConfig struct {
	APIBaseURL  string        `mapstructure:"api_base_url"`
	APITimeout  time.Duration `mapstructure:"api_timeout"`
	MaxWorkers  int           `mapstructure:"max_workers"`
	RefreshEvery time.Duration `mapstructure:"refresh_every"`
}

// WhitelistConfig holds whitelist feature-flag configuration.
type WhitelistConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SignupURL string `mapstructure:"signup_url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DSN returns the PostgreSQL connection string for gorm's postgres
// driver.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Load loads configuration from environment variables and an optional
// "config.yaml" file, matching the teacher's LoadConfig shape.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.request_timeout", "30s")
	viper.SetDefault("server.attachments_dir", "./attachments")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("scheduler.api_base_url", "http://localhost:8000")
	viper.SetDefault("scheduler.api_timeout", "300s")
	viper.SetDefault("scheduler.max_workers", 5)
	viper.SetDefault("scheduler.refresh_every", "30s")

	viper.SetDefault("whitelist.enabled", true)

	viper.SetDefault("log.level", "info")
}

func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.request_timeout", "SERVER_REQUEST_TIMEOUT")
	viper.BindEnv("server.attachments_dir", "ATTACHMENTS_DIR")
	viper.BindEnv("server.frontend_url", "FRONTEND_URL")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.name", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")

	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("auth.api_key", "X_API_KEY")

	viper.BindEnv("scheduler.api_base_url", "SCHEDULER_API_BASE_URL")
	viper.BindEnv("scheduler.api_timeout", "SCHEDULER_API_TIMEOUT")
	viper.BindEnv("scheduler.max_workers", "SCHEDULER_MAX_WORKERS")

	viper.BindEnv("whitelist.enabled", "WHITELIST_ENABLED")
	viper.BindEnv("whitelist.signup_url", "WHITELIST_SIGNUP_URL")

	viper.BindEnv("log.level", "LOG_LEVEL")
}

// Validate checks that the minimum configuration required to start any
// process is present.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config: server port is required")
	}
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
		return fmt.Errorf("config: database host, user, and name are required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis addr is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("config: X_API_KEY is required")
	}
	if c.Scheduler.MaxWorkers <= 0 {
		return fmt.Errorf("config: scheduler max workers must be greater than 0")
	}
	return nil
}
