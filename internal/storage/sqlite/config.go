package sqlite

import (
	"fmt"

	"automation-engine/internal/crypto"
)

// Config holds SQLite adapter settings.
type Config struct {
	// DatabasePath is the path to the database file; ":memory:" is accepted
	DatabasePath string
	// PollProviderIDs lists the providers whose units the scheduler polls
	PollProviderIDs []string
	// Encryptor protects secrets at rest; nil stores them in the clear
	Encryptor *crypto.SecretEncryptor
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}
