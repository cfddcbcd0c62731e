// Package config provides application configuration management with environment
// variable loading, validation, and sensible defaults. It supports .env files
// for local development and validates all settings on startup so a
// misconfigured companion process fails fast instead of at the first request.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to load configuration")
//	}
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Identity provider modes accepted by IDENTITY_MODE.
const (
	IdentityHosted = "hosted"
	IdentityLocal  = "local"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Redis     RedisConfig
	SQLite    SQLiteConfig
	Identity  IdentityConfig
	Backend   BackendConfig
	Bridge    BridgeConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds settings for the local companion API.
type ServerConfig struct {
	Port        string
	Environment string
}

// StorageConfig selects the durable key-value backend.
type StorageConfig struct {
	Backend string // "redis" or "sqlite"
}

// RedisConfig holds Redis configuration including connection parameters,
// authentication, database selection, and pool size.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

// SQLiteConfig holds the on-device database location.
type SQLiteConfig struct {
	Path string
}

// IdentityConfig describes the identity provider the session manager wraps.
//
// In hosted mode TokenURL is the OAuth2 token endpoint and AccountURL is the
// base of the sign-up/confirm/resend/sign-out endpoints. In local mode tokens
// are issued in-process and signed with LocalSecret.
type IdentityConfig struct {
	Mode         string
	ClientID     string
	ClientSecret string
	TokenURL     string
	AccountURL   string
	LocalSecret  []byte
	TokenExpiry  time.Duration // Lifetime of locally issued access/identity tokens
	RefreshSkew  time.Duration // Refresh when the identity token expires within this window
}

// BackendConfig holds the analysis backend endpoint and the upload timeout.
type BackendConfig struct {
	BaseURL       string
	UploadTimeout time.Duration
	Timeout       time.Duration // Timeout for history/result reads
}

// BridgeConfig bounds the in-memory result bridge.
type BridgeConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// CORSConfig holds Cross-Origin Resource Sharing (CORS) configuration
// to control which UI origins can reach the companion API.
type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig holds rate limiting configuration for auth endpoints.
type RateLimitConfig struct {
	RequestsPerMinute int
	WindowDuration    time.Duration
}

// Load reads and validates configuration from environment variables.
// It attempts to load a .env file if present but doesn't fail if the file is
// missing.
//
// Required environment variables:
//   - IDENTITY_CLIENT_ID: client id registered at the identity provider
//   - IDENTITY_LOCAL_SECRET: signing secret (>= 32 bytes) when IDENTITY_MODE=local
//   - IDENTITY_TOKEN_URL, IDENTITY_ACCOUNT_URL when IDENTITY_MODE=hosted
func Load() (*Config, error) {
	_ = godotenv.Load()

	clientID, err := getEnvRequired("IDENTITY_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8787"),
			Environment: getEnv("ENV", "development"),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", StorageSQLite),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "data/psoriscan.db"),
		},
		Identity: IdentityConfig{
			Mode:         getEnv("IDENTITY_MODE", IdentityHosted),
			ClientID:     clientID,
			ClientSecret: getEnv("IDENTITY_CLIENT_SECRET", ""),
			TokenURL:     getEnv("IDENTITY_TOKEN_URL", ""),
			AccountURL:   getEnv("IDENTITY_ACCOUNT_URL", ""),
			LocalSecret:  []byte(getEnv("IDENTITY_LOCAL_SECRET", "")),
			TokenExpiry:  getEnvAsDuration("IDENTITY_TOKEN_EXPIRY", time.Hour),
			RefreshSkew:  getEnvAsDuration("IDENTITY_REFRESH_SKEW", time.Minute),
		},
		Backend: BackendConfig{
			BaseURL:       getEnv("BACKEND_URL", "http://localhost:8000"),
			UploadTimeout: getEnvAsDuration("BACKEND_UPLOAD_TIMEOUT", 60*time.Second),
			Timeout:       getEnvAsDuration("BACKEND_TIMEOUT", 15*time.Second),
		},
		Bridge: BridgeConfig{
			TTL:        getEnvAsDuration("BRIDGE_TTL", 15*time.Minute),
			MaxEntries: getEnvAsInt("BRIDGE_MAX_ENTRIES", 64),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:8081"}),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be a valid integer: %w", err)
	}

	switch c.Storage.Backend {
	case StorageRedis:
		if _, err := strconv.Atoi(c.Redis.Port); err != nil {
			return fmt.Errorf("redis port must be a valid integer: %w", err)
		}
	case StorageSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Identity.ClientID == "" {
		return fmt.Errorf("identity client ID is required")
	}

	switch c.Identity.Mode {
	case IdentityHosted:
		if _, err := url.ParseRequestURI(c.Identity.TokenURL); err != nil {
			return fmt.Errorf("invalid identity token URL: %w", err)
		}
		if _, err := url.ParseRequestURI(c.Identity.AccountURL); err != nil {
			return fmt.Errorf("invalid identity account URL: %w", err)
		}
	case IdentityLocal:
		if len(c.Identity.LocalSecret) < 32 {
			return fmt.Errorf("local identity secret must be at least 32 bytes")
		}
	default:
		return fmt.Errorf("unknown identity mode %q", c.Identity.Mode)
	}

	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}
	if c.Backend.UploadTimeout <= 0 {
		return fmt.Errorf("backend upload timeout must be positive")
	}

	if c.Bridge.MaxEntries <= 0 {
		return fmt.Errorf("bridge max entries must be positive")
	}

	return nil
}

// IsProduction reports whether the process runs with ENV=production.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Address returns the Redis server address in "host:port" format.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired retrieves a required environment variable.
// Returns an error if the variable is not set or is empty.
func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a time.Duration.
// Supports Go duration format: "300ms", "1.5h", "2h45m", etc.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice parses a comma-separated variable, dropping empty items.
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
