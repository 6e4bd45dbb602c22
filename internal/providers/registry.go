package providers

import (
	"fmt"
	"sync"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/credentials"
)

// Registry holds the set of registered providers. Registration happens during
// startup; lookups happen on every tick and every gateway event, so reads use
// the shared lock.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds a provider under its descriptor id. Registering two providers
// with the same id is a configuration bug and fails rather than silently
// replacing the first.
func (r *Registry) Register(p Provider) error {
	desc := p.Describe()
	if desc == nil || desc.ID == "" {
		return errors.ValidationError("provider descriptor must have an id")
	}
	if desc.DeliveryMode != DeliveryPoll && desc.DeliveryMode != DeliveryPush {
		return errors.ValidationError(
			fmt.Sprintf("provider %q has invalid delivery mode %q", desc.ID, desc.DeliveryMode))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[desc.ID]; exists {
		return errors.DuplicateProviderError(desc.ID)
	}

	r.providers[desc.ID] = p
	r.logger.Info("Registered provider",
		logging.String("provider_id", desc.ID),
		logging.String("delivery_mode", string(desc.DeliveryMode)),
		logging.Int("triggers", len(desc.Triggers)),
		logging.Int("reactions", len(desc.Reactions)),
	)
	return nil
}

// Resolve returns the provider registered under id.
func (r *Registry) Resolve(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, errors.UnknownProviderError(id)
	}
	return p, nil
}

// List returns the descriptors of all registered providers.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]*Descriptor, 0, len(r.providers))
	for _, p := range r.providers {
		descs = append(descs, p.Describe())
	}
	return descs
}

// PollProviderIDs returns the ids of all providers with poll delivery. The
// storage layer uses this to scope the scheduler's unit listing.
func (r *Registry) PollProviderIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, p := range r.providers {
		if p.Describe().DeliveryMode == DeliveryPoll {
			ids = append(ids, id)
		}
	}
	return ids
}

// RefresherResolver adapts the registry into the credential manager's lookup:
// a provider id resolves to a Refresher only when the provider implements it.
func (r *Registry) RefresherResolver() credentials.RefresherResolver {
	return func(providerID string) (credentials.Refresher, bool) {
		p, err := r.Resolve(providerID)
		if err != nil {
			return nil, false
		}
		refresher, ok := p.(credentials.Refresher)
		return refresher, ok
	}
}
