// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string
}

// GitLabConfig holds the remote host connection settings.
type GitLabConfig struct {
	BaseURL       string
	Token         string
	WebhookSecret string
	RetryMax      int
}

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// WorkerConfig holds the background worker settings.
type WorkerConfig struct {
	Enabled        bool
	PollInterval   time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	JobTimeout     time.Duration
	BuildCommand   string
}

// LoggerConfig holds the structured-logging settings.
type LoggerConfig struct {
	Level  string
	Format string
	Output string
}

// Config holds the application's configuration values.
type Config struct {
	Server ServerConfig
	GitLab GitLabConfig
	DB     *DBConfig
	Worker WorkerConfig
	Logger LoggerConfig
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_OUTPUT", "stdout")

	viper.SetDefault("GITLAB_RETRY_MAX", 3)

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 5432)
	viper.SetDefault("DB_NAME", "buildbridge")
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	viper.SetDefault("DB_CONN_MAX_IDLE_TIME", "10m")

	viper.SetDefault("WORKER_ENABLED", true)
	viper.SetDefault("WORKER_POLL_INTERVAL", "5s")
	viper.SetDefault("WORKER_MAX_ATTEMPTS", 3)
	viper.SetDefault("WORKER_BACKOFF_INITIAL", "30s")
	viper.SetDefault("WORKER_BACKOFF_MAX", "10m")
	viper.SetDefault("WORKER_JOB_TIMEOUT", "15m")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Debug("no .env file loaded", "error", err)
		}
	}

	if viper.GetString("GITLAB_BASE_URL") == "" {
		return nil, fmt.Errorf("GITLAB_BASE_URL must be set")
	}
	if viper.GetString("GITLAB_TOKEN") == "" {
		return nil, fmt.Errorf("GITLAB_TOKEN must be set")
	}
	if viper.GetString("DB_USER") == "" {
		return nil, fmt.Errorf("DB_USER must be set")
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
		},
		GitLab: GitLabConfig{
			BaseURL:       viper.GetString("GITLAB_BASE_URL"),
			Token:         viper.GetString("GITLAB_TOKEN"),
			WebhookSecret: viper.GetString("GITLAB_WEBHOOK_SECRET"),
			RetryMax:      viper.GetInt("GITLAB_RETRY_MAX"),
		},
		DB: &DBConfig{
			Host:            viper.GetString("DB_HOST"),
			Port:            viper.GetInt("DB_PORT"),
			Username:        viper.GetString("DB_USER"),
			Password:        viper.GetString("DB_PASSWORD"),
			Database:        viper.GetString("DB_NAME"),
			ConnMaxLifetime: viper.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: viper.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		Worker: WorkerConfig{
			Enabled:        viper.GetBool("WORKER_ENABLED"),
			PollInterval:   viper.GetDuration("WORKER_POLL_INTERVAL"),
			MaxAttempts:    viper.GetInt("WORKER_MAX_ATTEMPTS"),
			BackoffInitial: viper.GetDuration("WORKER_BACKOFF_INITIAL"),
			BackoffMax:     viper.GetDuration("WORKER_BACKOFF_MAX"),
			JobTimeout:     viper.GetDuration("WORKER_JOB_TIMEOUT"),
			BuildCommand:   viper.GetString("WORKER_BUILD_COMMAND"),
		},
		Logger: LoggerConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
			Output: viper.GetString("LOG_OUTPUT"),
		},
	}, nil
}
