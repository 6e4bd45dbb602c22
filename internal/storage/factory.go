package storage

import (
	"fmt"

	"automation-engine/internal/config"
	"automation-engine/internal/crypto"
	"automation-engine/internal/storage/postgres"
	"automation-engine/internal/storage/sqlite"
)

// NewStore creates the store selected by DATABASE_TYPE. pollProviderIDs
// scopes the scheduler's unit listing to providers with poll delivery; the
// provider set is fixed at startup, so the list is baked into the adapter.
// The encryptor protects secrets at rest and may be nil.
func NewStore(cfg *config.Config, pollProviderIDs []string, encryptor *crypto.SecretEncryptor) (Store, error) {
	switch cfg.DatabaseType {
	case "sqlite":
		return sqlite.NewAdapter(&sqlite.Config{
			DatabasePath:    cfg.DatabasePath,
			PollProviderIDs: pollProviderIDs,
			Encryptor:       encryptor,
		})
	case "postgres", "postgresql":
		return postgres.NewAdapter(&postgres.Config{
			Host:            cfg.PostgresHost,
			Port:            cfg.PostgresPort,
			Database:        cfg.PostgresDB,
			User:            cfg.PostgresUser,
			Password:        cfg.PostgresPassword,
			SSLMode:         cfg.PostgresSSLMode,
			PollProviderIDs: pollProviderIDs,
			Encryptor:       encryptor,
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}
