// Package config provides configuration management for the automation engine.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration to ensure the application starts
// safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Scheduler Settings:
//   - TICK_INTERVAL_SECONDS: Dispatch tick interval (default: 10)
//   - CREDENTIAL_REFRESH_SKEW_SECONDS: Refresh credentials expiring within
//     this margin (default: 30)
//   - UNIT_CONCURRENCY_LIMIT: Max units evaluated concurrently per tick
//     (default: 8)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./automation_engine.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//
// Redis Configuration (optional, enables gateway rate limiting):
//   - REDIS_ADDRESS: Redis server address
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security Configuration:
//   - JWT_SECRET: JWT signing secret (required, minimum 32 characters)
//   - CONFIG_ENCRYPTION_KEY: Encryption key for credential secrets at rest
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable hook rate limiting (default: true)
//   - RATE_LIMIT_DEFAULT: Default rate limit per window (default: 100)
//   - RATE_LIMIT_WINDOW: Rate limit time window (default: 60s)
//
// Messaging:
//   - AMQP_URL: RabbitMQ connection URL for the queue reaction provider
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the automation engine.
// All fields correspond to environment variables that can be set to override
// the default values. The configuration is loaded using Load() and should be
// validated using Validate() before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Scheduler settings
	TickIntervalSeconds          int // Seconds between dispatch ticks
	CredentialRefreshSkewSeconds int // Refresh margin before credential expiry
	UnitConcurrencyLimit         int // Max units evaluated concurrently per tick

	// Database configuration
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration for gateway rate limiting
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Rate limiting configuration
	RateLimitEnabled bool
	RateLimitDefault string
	RateLimitWindow  string

	// JWT authentication configuration
	JWTSecret string // Secret key for JWT token signing (required)

	// Encryption configuration
	EncryptionKey string // Key for encrypting credential secrets at rest

	// Messaging
	AMQPURL string // RabbitMQ connection URL
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding default
// value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TickIntervalSeconds:          getIntEnv("TICK_INTERVAL_SECONDS", 10),
		CredentialRefreshSkewSeconds: getIntEnv("CREDENTIAL_REFRESH_SKEW_SECONDS", 30),
		UnitConcurrencyLimit:         getIntEnv("UNIT_CONCURRENCY_LIMIT", 8),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./automation_engine.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "automation_engine"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "100"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		EncryptionKey: getEnv("CONFIG_ENCRYPTION_KEY", ""),

		AMQPURL: getEnv("AMQP_URL", ""),
	}
}

// TickInterval returns the dispatch tick interval as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// CredentialRefreshSkew returns the refresh margin as a duration.
func (c *Config) CredentialRefreshSkew() time.Duration {
	return time.Duration(c.CredentialRefreshSkewSeconds) * time.Second
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable value or returns a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs comprehensive validation on the configuration to ensure
// all required fields are present and all values are valid.
//
// The application should call this method after loading configuration and
// before starting to ensure safe operation.
func (c *Config) Validate() error {
	// Validate required fields
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	// Validate scheduler settings
	if c.TickIntervalSeconds < 1 {
		return fmt.Errorf("TICK_INTERVAL_SECONDS must be a positive number")
	}
	if c.CredentialRefreshSkewSeconds < 0 {
		return fmt.Errorf("CREDENTIAL_REFRESH_SKEW_SECONDS must not be negative")
	}
	if c.UnitConcurrencyLimit < 1 {
		return fmt.Errorf("UNIT_CONCURRENCY_LIMIT must be a positive number")
	}

	// Validate database type
	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	// Validate PostgreSQL config if using PostgreSQL
	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	// Validate Redis config if provided
	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	// Validate rate limit config
	if c.RateLimitEnabled {
		if limit, err := strconv.Atoi(c.RateLimitDefault); err != nil || limit < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if _, err := time.ParseDuration(c.RateLimitWindow); err != nil {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g., '60s', '1m')")
		}
	}

	// Validate encryption key if provided
	if c.EncryptionKey != "" && len(c.EncryptionKey) < 16 {
		return fmt.Errorf("CONFIG_ENCRYPTION_KEY must be at least 16 characters when provided")
	}

	return nil
}
