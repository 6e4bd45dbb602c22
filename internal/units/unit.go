// Package units defines the automation unit model: a user-owned binding of
// one trigger to one reaction, plus the persistence contract the scheduler
// and gateway read from.
package units

import (
	"context"
	"time"
)

// Binding ties a unit to one trigger or reaction of a provider, with the
// per-unit parameter values for it.
type Binding struct {
	// ProviderID names the provider the binding targets
	ProviderID string `json:"provider_id"`
	// TargetID is the trigger or reaction id within the provider
	TargetID string `json:"target_id"`
	// Params holds the parameter values declared by the target's ParamSpecs
	Params map[string]interface{} `json:"params,omitempty"`
}

// Unit is one automation: when the trigger condition holds, run the reaction.
type Unit struct {
	// ID uniquely identifies the unit
	ID string `json:"id"`
	// OwnerID is the user the unit belongs to; credentials are looked up per owner
	OwnerID string `json:"owner_id"`
	// Name is a human-readable label
	Name string `json:"name"`
	// Trigger is the condition side of the unit
	Trigger Binding `json:"trigger"`
	// Reaction is the effect side of the unit
	Reaction Binding `json:"reaction"`
	// Enabled gates evaluation; disabled units are never checked or fired
	Enabled bool `json:"enabled"`
	// SharedSecret authenticates external events addressed to this unit
	SharedSecret string `json:"-"`
	// LastTriggeredAt is when the unit last fired successfully, nil if never
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	// TriggerCount is the number of successful firings
	TriggerCount int64 `json:"trigger_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository is the read/record contract the dispatch engine and gateway
// depend on. The full CRUD surface lives on the storage Store; keeping this
// interface narrow lets engine tests run against a map.
type Repository interface {
	// ListEnabledPollUnits returns every enabled unit whose trigger provider
	// uses poll delivery. Called once per scheduler tick.
	ListEnabledPollUnits(ctx context.Context) ([]*Unit, error)

	// GetUnit returns the unit with the given id, or a not_found error
	GetUnit(ctx context.Context, id string) (*Unit, error)

	// RecordSuccess atomically increments the unit's trigger count and sets
	// its last-triggered time. Called only after the reaction succeeded.
	RecordSuccess(ctx context.Context, id string, firedAt time.Time) error

	// FindUnitsByProviderEvent returns ids of enabled units whose trigger
	// targets the provider and whose params match every key in query
	FindUnitsByProviderEvent(ctx context.Context, providerID string, query map[string]string) ([]string, error)
}
