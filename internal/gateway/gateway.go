// Package gateway accepts externally delivered trigger events and hands them
// to the dispatch engine. Events arrive either addressed to one unit,
// authenticated by the unit's shared secret, or addressed to a push provider,
// fanned out to every matching unit.
package gateway

import (
	"context"
	"crypto/hmac"
	"fmt"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/providers"
	"automation-engine/internal/units"
)

// Firer is the dispatch surface the gateway needs. Satisfied by
// *dispatch.Engine.
type Firer interface {
	Fire(ctx context.Context, unitID string, payload map[string]interface{}) error
}

// ProviderResolver resolves provider ids. Satisfied by *providers.Registry.
type ProviderResolver interface {
	Resolve(id string) (providers.Provider, error)
}

// Gateway routes external events into the engine.
type Gateway struct {
	repo     units.Repository
	resolver ProviderResolver
	engine   Firer
	logger   logging.Logger
}

// New creates a gateway.
func New(repo units.Repository, resolver ProviderResolver, engine Firer, logger logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Gateway{
		repo:     repo,
		resolver: resolver,
		engine:   engine,
		logger:   logger,
	}
}

// HandleUnitEvent processes an event addressed to one unit. The caller's
// secret is compared in constant time against the unit's shared secret, and
// a mismatch rejects the event before any dispatch work happens: a rejected
// event never touches the unit's trigger count or last-fired time.
func (g *Gateway) HandleUnitEvent(ctx context.Context, unitID, secret string, payload map[string]interface{}) error {
	unit, err := g.repo.GetUnit(ctx, unitID)
	if err != nil {
		return err
	}

	if err := verifySecret(unit, secret); err != nil {
		g.logger.Warn("Rejected external event with bad secret",
			logging.String("unit_id", unitID),
		)
		return err
	}

	if !unit.Enabled {
		return errors.ValidationError(fmt.Sprintf("unit %q is disabled", unitID))
	}

	g.logger.Debug("Accepted external unit event",
		logging.String("unit_id", unitID),
	)
	return g.engine.Fire(ctx, unitID, payload)
}

// HandleProviderEvent fans a provider-level event out to every enabled unit
// whose trigger binding matches the event's query. Only push providers accept
// events this way. Each matched unit's shared secret is verified against the
// caller's secret before it fires; units that fail verification are skipped,
// and a skipped unit's statistics stay untouched. Per-unit failures are
// isolated; the returned count says how many units fired successfully.
func (g *Gateway) HandleProviderEvent(ctx context.Context, providerID, secret string, query map[string]string, payload map[string]interface{}) (int, error) {
	provider, err := g.resolver.Resolve(providerID)
	if err != nil {
		return 0, err
	}
	if provider.Describe().DeliveryMode != providers.DeliveryPush {
		return 0, errors.ValidationError(
			fmt.Sprintf("provider %q does not accept external events", providerID))
	}

	unitIDs, err := g.repo.FindUnitsByProviderEvent(ctx, providerID, query)
	if err != nil {
		return 0, errors.InternalError("failed to match units for provider event", err)
	}

	fired := 0
	for _, id := range unitIDs {
		unit, err := g.repo.GetUnit(ctx, id)
		if err != nil {
			g.logger.Warn("Provider event matched a missing unit",
				logging.String("unit_id", id),
				logging.String("provider_id", providerID),
				logging.Err(err),
			)
			continue
		}
		if err := verifySecret(unit, secret); err != nil {
			g.logger.Warn("Rejected provider event for unit with bad secret",
				logging.String("unit_id", id),
				logging.String("provider_id", providerID),
			)
			continue
		}
		if err := g.engine.Fire(ctx, id, payload); err != nil {
			g.logger.Warn("Provider event failed for unit",
				logging.String("unit_id", id),
				logging.String("provider_id", providerID),
				logging.Err(err),
			)
			continue
		}
		fired++
	}

	g.logger.Info("Provider event dispatched",
		logging.String("provider_id", providerID),
		logging.Int("matched", len(unitIDs)),
		logging.Int("fired", fired),
	)
	return fired, nil
}

// verifySecret compares the caller's secret against the unit's shared secret
// in constant time. A unit without a secret never accepts external events.
func verifySecret(unit *units.Unit, secret string) error {
	if unit.SharedSecret == "" {
		return errors.AuthenticationError(fmt.Sprintf("unit %q does not accept external events", unit.ID))
	}
	if !hmac.Equal([]byte(secret), []byte(unit.SharedSecret)) {
		return errors.AuthenticationError("invalid event secret")
	}
	return nil
}
