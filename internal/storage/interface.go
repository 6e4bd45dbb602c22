// Package storage defines the persistence contract for units and
// credentials, with adapters for SQLite and PostgreSQL selected through the
// factory.
package storage

import (
	"context"

	"automation-engine/internal/credentials"
	"automation-engine/internal/units"
)

// Store is the full persistence surface. It embeds the narrow read/record
// contract the dispatch engine uses and the credential store, plus the unit
// CRUD the API exposes.
type Store interface {
	units.Repository
	credentials.Store

	// CreateUnit inserts a new unit, assigning an id when none is set
	CreateUnit(ctx context.Context, unit *units.Unit) error
	// UpdateUnit replaces the unit's configuration; counters are untouched
	UpdateUnit(ctx context.Context, unit *units.Unit) error
	// DeleteUnit removes the unit
	DeleteUnit(ctx context.Context, id string) error
	// ListUnitsByOwner returns all units belonging to one owner
	ListUnitsByOwner(ctx context.Context, ownerID string) ([]*units.Unit, error)

	// Close releases the underlying connection pool
	Close() error
	// Health verifies the store is reachable
	Health(ctx context.Context) error
}
