package credentials

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"automation-engine/internal/circuitbreaker"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
)

// DefaultRefreshSkew is used when the manager is constructed with a
// non-positive skew. A small multiple of the default tick interval keeps
// credentials from expiring mid-evaluation.
const DefaultRefreshSkew = 30 * time.Second

// Manager hands out live credentials, refreshing any that fall inside the
// configured expiry skew. Refresh is single-flight per (owner, provider):
// concurrent callers for the same key await one in-flight refresh rather
// than issuing duplicates, since a duplicate refresh can invalidate the
// credential the first one just obtained.
type Manager struct {
	store   Store
	resolve RefresherResolver
	skew    time.Duration
	group   singleflight.Group
	cache   *gocache.Cache
	breaker *circuitbreaker.Breaker
	logger  logging.Logger
}

// refreshOutcome carries a credential plus the soft-fail marker through the
// singleflight group.
type refreshOutcome struct {
	cred *Credential
	soft error
}

// NewManager creates a credential manager on top of the given store. The
// resolver maps provider ids to their Refresher capability; providers that
// cannot refresh simply resolve to false.
func NewManager(store Store, resolve RefresherResolver, skew time.Duration, logger logging.Logger) *Manager {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	cacheTTL := skew / 2
	if cacheTTL < time.Second {
		cacheTTL = time.Second
	}

	return &Manager{
		store:   store,
		resolve: resolve,
		skew:    skew,
		cache:   gocache.New(cacheTTL, 2*cacheTTL),
		breaker: circuitbreaker.New("credential-refresh", circuitbreaker.RefreshConfig, logger),
		logger:  logger,
	}
}

// Get returns the live credential for the pair.
//
// When the credential expires within the refresh skew, Get attempts one
// refresh through the provider's Refresher before returning. On refresh
// success the new credential atomically replaces the old one in the store.
// On refresh failure the stale credential is returned together with a
// credential_expired error as a soft-fail marker: the caller may still try
// the provider call and classify its failure as credential_expired instead
// of masking it.
//
// A nil credential with a non-nil error is a hard failure (no credential
// exists, or it is expired beyond recovery).
func (m *Manager) Get(ctx context.Context, ownerID, providerID string) (*Credential, error) {
	key := refreshKey(ownerID, providerID)

	if cached, ok := m.cache.Get(key); ok {
		cred := cached.(*Credential)
		if !cred.ExpiresWithin(m.skew) {
			return cred, nil
		}
		// Inside the skew window the cache is no longer trusted; fall
		// through to the single-flight path.
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.fetchOrRefresh(ctx, ownerID, providerID)
	})
	if err != nil {
		return nil, err
	}

	outcome := v.(*refreshOutcome)
	return outcome.cred, outcome.soft
}

// Invalidate drops any cached credential for the pair. Call after writing a
// credential outside the manager.
func (m *Manager) Invalidate(ownerID, providerID string) {
	m.cache.Delete(refreshKey(ownerID, providerID))
}

// fetchOrRefresh loads the credential and refreshes it when needed. Runs
// inside the singleflight group, so only one execution per key is in flight.
func (m *Manager) fetchOrRefresh(ctx context.Context, ownerID, providerID string) (*refreshOutcome, error) {
	cred, err := m.store.GetCredential(ctx, ownerID, providerID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil, errors.NotFoundError(fmt.Sprintf("credential for owner %q and provider %q", ownerID, providerID))
		}
		return nil, errors.InternalError("failed to load credential", err)
	}

	if !cred.ExpiresWithin(m.skew) {
		m.cache.SetDefault(refreshKey(ownerID, providerID), cred)
		return &refreshOutcome{cred: cred}, nil
	}

	refresher, ok := m.resolve(providerID)
	if !ok || cred.RefreshSecret == "" {
		if cred.IsExpired() {
			return nil, errors.CredentialExpiredError(
				fmt.Sprintf("credential for provider %q is expired and cannot be refreshed", providerID), nil)
		}
		// Still valid, just close to expiry. Hand it out as-is.
		return &refreshOutcome{cred: cred}, nil
	}

	var refreshed *Credential
	refreshErr := m.breaker.Execute(ctx, func() error {
		var rerr error
		refreshed, rerr = refresher.RefreshCredential(ctx, cred)
		return rerr
	})
	if refreshErr != nil {
		m.logger.Warn("Credential refresh failed, returning stale credential",
			logging.String("owner_id", ownerID),
			logging.String("provider_id", providerID),
			logging.Err(refreshErr),
		)
		soft := errors.CredentialExpiredError(
			fmt.Sprintf("refresh failed for provider %q", providerID), refreshErr)
		return &refreshOutcome{cred: cred, soft: soft}, nil
	}

	refreshed.OwnerID = ownerID
	refreshed.ProviderID = providerID
	refreshed.UpdatedAt = time.Now()

	if err := m.store.SaveCredential(ctx, refreshed); err != nil {
		// The remote side already rotated; losing the write would strand
		// the old secret, so surface it loudly but keep serving.
		m.logger.Error("Failed to persist refreshed credential", err,
			logging.String("owner_id", ownerID),
			logging.String("provider_id", providerID),
		)
	}

	m.cache.SetDefault(refreshKey(ownerID, providerID), refreshed)

	m.logger.Debug("Credential refreshed",
		logging.String("owner_id", ownerID),
		logging.String("provider_id", providerID),
		logging.Time("new_expiry", refreshed.Expiry),
	)

	return &refreshOutcome{cred: refreshed}, nil
}

func refreshKey(ownerID, providerID string) string {
	return ownerID + "/" + providerID
}
