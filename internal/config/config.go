// Package config loads gmail-sync configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds all configuration for the application
type Config struct {
	Gmail  GmailConfig
	Sync   SyncConfig
	Redis  RedisConfig
	Server ServerConfig
	Log    LogConfig
}

// GmailConfig holds Gmail API and OAuth2 configuration
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
	TokenURL     string
	Endpoint     string
	UserID       string
	UserAgent    string
}

// SyncConfig holds sync engine configuration
type SyncConfig struct {
	Partitions     []string
	PageSize       int
	ListPageSize   int
	MaxConcurrency int
	ListTimeout    time.Duration
	DetailTimeout  time.Duration
	RefreshSkew    time.Duration
	RetryAttempts  int
}

// RedisConfig holds quota tracking configuration. An empty URL disables it.
type RedisConfig struct {
	URL         string
	Account     string
	QuotaBudget int
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Pretty bool
}

// Load loads configuration from environment variables
func Load() *Config {
	userID := getEnv("GMAIL_SYNC_USER_ID", "me")
	return &Config{
		Gmail: GmailConfig{
			ClientID:     getEnv("GMAIL_SYNC_CLIENT_ID", ""),
			ClientSecret: getEnv("GMAIL_SYNC_CLIENT_SECRET", ""),
			RefreshToken: getEnv("GMAIL_SYNC_REFRESH_TOKEN", ""),
			AccessToken:  getEnv("GMAIL_SYNC_ACCESS_TOKEN", ""),
			TokenURL:     getEnv("GMAIL_SYNC_TOKEN_URL", ""),
			Endpoint:     getEnv("GMAIL_SYNC_ENDPOINT", ""),
			UserID:       userID,
			UserAgent:    getEnv("GMAIL_SYNC_USER_AGENT", "gmail-label-sync/1.0"),
		},
		Sync: SyncConfig{
			Partitions:     getEnvAsList("GMAIL_SYNC_LABELS", []string{"INBOX"}),
			PageSize:       getEnvAsInt("GMAIL_SYNC_PAGE_SIZE", 20),
			ListPageSize:   getEnvAsInt("GMAIL_SYNC_LIST_PAGE_SIZE", 100),
			MaxConcurrency: getEnvAsInt("GMAIL_SYNC_CONCURRENCY", 8),
			ListTimeout:    getEnvAsDuration("GMAIL_SYNC_LIST_TIMEOUT", 15*time.Second),
			DetailTimeout:  getEnvAsDuration("GMAIL_SYNC_DETAIL_TIMEOUT", 15*time.Second),
			RefreshSkew:    getEnvAsDuration("GMAIL_SYNC_REFRESH_SKEW", time.Minute),
			RetryAttempts:  getEnvAsInt("GMAIL_SYNC_RETRY_ATTEMPTS", 1),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", ""),
			Account:     getEnv("GMAIL_SYNC_ACCOUNT", userID),
			QuotaBudget: getEnvAsInt("GMAIL_SYNC_QUOTA_BUDGET", 250),
		},
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvAsBool("LOG_PRETTY", false),
		},
	}
}

// Validate checks required fields and bounds.
func (c *Config) Validate() error {
	var errs []error

	if c.Gmail.AccessToken == "" && c.Gmail.RefreshToken == "" {
		errs = append(errs, errors.New("one of GMAIL_SYNC_ACCESS_TOKEN or GMAIL_SYNC_REFRESH_TOKEN is required"))
	}
	if c.Gmail.RefreshToken != "" && c.Gmail.ClientID == "" {
		errs = append(errs, errors.New("GMAIL_SYNC_CLIENT_ID is required with a refresh token"))
	}
	if c.Sync.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page size must be >= 1 (got %d)", c.Sync.PageSize))
	}
	if c.Sync.ListPageSize < 1 || c.Sync.ListPageSize > 500 {
		errs = append(errs, fmt.Errorf("list page size must be between 1 and 500 (got %d)", c.Sync.ListPageSize))
	}
	if c.Sync.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1 (got %d)", c.Sync.MaxConcurrency))
	}
	if c.Sync.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be >= 1 (got %d)", c.Sync.RetryAttempts))
	}
	if c.Redis.URL != "" && c.Redis.QuotaBudget < 1 {
		errs = append(errs, fmt.Errorf("quota budget must be >= 1 (got %d)", c.Redis.QuotaBudget))
	}

	return errors.Join(errs...)
}

// ServerAddress returns the full server address
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// RedisOptions returns client options for the configured Redis. Both
// "redis://" URLs and bare host:port addresses are accepted. It returns nil
// when Redis is disabled.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.Redis.URL == "" {
		return nil, nil
	}
	if strings.Contains(c.Redis.URL, "://") {
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.Redis.URL}, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList gets a comma separated environment variable or returns a default value
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
