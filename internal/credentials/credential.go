// Package credentials manages per-user, per-provider access credentials for
// the automation engine. The Manager wraps an external Store with skew-based
// refresh: a credential close to expiry is refreshed before it is handed out,
// and concurrent callers for the same (owner, provider) share one in-flight
// refresh instead of double-hitting the provider's token endpoint.
package credentials

import (
	"context"
	"time"
)

// Credential represents a live access credential for one (owner, provider)
// pair. At most one live credential exists per pair; a refresh replaces it in
// place rather than adding a second row.
type Credential struct {
	// OwnerID identifies the user the credential belongs to
	OwnerID string `json:"owner_id"`
	// ProviderID identifies the provider the credential authenticates against
	ProviderID string `json:"provider_id"`
	// AccessSecret is the secret presented to the provider's API
	AccessSecret string `json:"access_secret"`
	// RefreshSecret is used to obtain a new access secret (optional)
	RefreshSecret string `json:"refresh_secret,omitempty"`
	// Expiry is when the access secret expires; zero means non-expiring
	Expiry time.Time `json:"expiry"`
	// Scope describes the permissions granted by this credential
	Scope string `json:"scope,omitempty"`
	// UpdatedAt is when the credential was last written
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired returns true if the credential's access secret is past its
// expiry. Credentials with a zero expiry never expire.
func (c *Credential) IsExpired() bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().After(c.Expiry)
}

// ExpiresWithin returns true if the credential will expire within the given
// duration. This drives the refresh-skew decision in the Manager.
func (c *Credential) ExpiresWithin(d time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().After(c.Expiry.Add(-d))
}

// Store is the persistence contract for credentials. Implementations must
// guarantee at most one credential per (owner, provider) pair: Save is an
// upsert that replaces any existing row.
type Store interface {
	// GetCredential returns the live credential for the pair, or a not_found
	// error when none exists
	GetCredential(ctx context.Context, ownerID, providerID string) (*Credential, error)
	// SaveCredential inserts or replaces the credential for its pair
	SaveCredential(ctx context.Context, cred *Credential) error
	// DeleteCredential removes the credential for the pair
	DeleteCredential(ctx context.Context, ownerID, providerID string) error
}

// Refresher is implemented by providers that can exchange a refresh secret
// for a new access secret. Providers without credentials never see this.
type Refresher interface {
	RefreshCredential(ctx context.Context, cred *Credential) (*Credential, error)
}

// Validator is implemented by providers that can verify a credential against
// the remote service. Checked when a credential is submitted, so a bad secret
// is rejected before a unit fails with it.
type Validator interface {
	ValidateCredential(ctx context.Context, cred *Credential) error
}

// RefresherResolver looks up the Refresher for a provider id, returning
// false when the provider does not exist or cannot refresh.
type RefresherResolver func(providerID string) (Refresher, bool)
