package postgres

import (
	"fmt"

	"automation-engine/internal/crypto"
)

// Config holds PostgreSQL adapter settings.
type Config struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
	// PollProviderIDs lists the providers whose units the scheduler polls
	PollProviderIDs []string
	// Encryptor protects secrets at rest; nil stores them in the clear
	Encryptor *crypto.SecretEncryptor
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port == "" {
		c.Port = "5432"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return nil
}

// ConnectionString builds the DSN for the pgx stdlib driver.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}
