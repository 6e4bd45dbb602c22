// Package dispatch contains the scheduling engine: the tick loop that polls
// trigger conditions, the bounded worker pool that evaluates units, and the
// fire path shared with externally delivered events.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"automation-engine/internal/circuitbreaker"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/credentials"
	"automation-engine/internal/providers"
	"automation-engine/internal/units"
)

const (
	// DefaultTickInterval is used when the engine is constructed with a
	// non-positive interval
	DefaultTickInterval = 10 * time.Second
	// DefaultConcurrencyLimit bounds parallel unit evaluations per tick
	DefaultConcurrencyLimit = 8
)

// ProviderResolver resolves provider ids to implementations. Satisfied by
// *providers.Registry.
type ProviderResolver interface {
	Resolve(id string) (providers.Provider, error)
}

// CredentialSource hands out live credentials. Satisfied by
// *credentials.Manager. A non-nil credential with a non-nil error means the
// credential is stale but still worth trying.
type CredentialSource interface {
	Get(ctx context.Context, ownerID, providerID string) (*credentials.Credential, error)
}

// Options configures the engine's tick loop.
type Options struct {
	// TickInterval is how often poll units are evaluated
	TickInterval time.Duration
	// ConcurrencyLimit caps how many units are evaluated in parallel
	ConcurrencyLimit int
}

// Engine runs the poll scheduler and executes reactions. One engine instance
// serves the whole process; Start and Stop manage its single tick loop.
type Engine struct {
	repo     units.Repository
	resolver ProviderResolver
	creds    CredentialSource
	clock    Clock
	breakers *circuitbreaker.Manager
	logger   logging.Logger

	interval time.Duration
	limit    int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a stopped engine. Call Start to begin ticking.
func NewEngine(repo units.Repository, resolver ProviderResolver, creds CredentialSource, clock Clock, opts Options, logger logging.Logger) *Engine {
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}

	return &Engine{
		repo:     repo,
		resolver: resolver,
		creds:    creds,
		clock:    clock,
		breakers: circuitbreaker.NewManager(logger),
		logger:   logger,
		interval: opts.TickInterval,
		limit:    opts.ConcurrencyLimit,
	}
}

// Start launches the tick loop. Calling Start on a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.run(ctx)

	e.logger.Info("Dispatch engine started",
		logging.Duration("tick_interval", e.interval),
		logging.Int("concurrency_limit", e.limit),
	)
}

// Stop halts the tick loop and blocks until any in-flight tick has drained.
// Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.logger.Info("Dispatch engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.tick(ctx)
		}
	}
}

// tick evaluates every enabled poll unit once. Unit failures are isolated:
// one broken unit never prevents the rest of the tick from completing.
func (e *Engine) tick(ctx context.Context) {
	started := e.clock.Now()

	unitList, err := e.repo.ListEnabledPollUnits(ctx)
	if err != nil {
		e.logger.Error("Failed to list units for tick", err)
		return
	}
	if len(unitList) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for _, unit := range unitList {
		unit := unit
		g.Go(func() error {
			e.evaluateUnit(gctx, unit, started)
			return nil
		})
	}

	// Workers always return nil; Wait is only a join point.
	_ = g.Wait()

	e.logger.Debug("Tick completed",
		logging.Int("units", len(unitList)),
		logging.Duration("elapsed", e.clock.Now().Sub(started)),
	)
}

// evaluateUnit checks one unit's trigger and, if it fired, runs the reaction.
// Never returns: all failures end in a log line so the tick keeps going.
// tickStart is the shared timestamp for every unit evaluated in this tick; a
// firing is recorded against it, not against whenever the reaction finished.
func (e *Engine) evaluateUnit(ctx context.Context, unit *units.Unit, tickStart time.Time) {
	provider, err := e.resolver.Resolve(unit.Trigger.ProviderID)
	if err != nil {
		e.logUnitFailure(unit, "resolve trigger provider", err)
		return
	}

	cred, credErr := e.credentialFor(ctx, unit.OwnerID, provider)
	if cred == nil && credErr != nil {
		e.logUnitFailure(unit, "obtain trigger credential", credErr)
		return
	}

	state := providers.CheckState{
		UnitID:        unit.ID,
		LastTriggered: unit.LastTriggeredAt,
		Now:           tickStart,
	}

	var outcome *providers.TriggerOutcome
	checkErr := e.breakerFor(unit.Trigger.ProviderID, "check", circuitbreaker.CheckConfig).Execute(ctx, func() error {
		var cerr error
		outcome, cerr = provider.CheckTrigger(ctx, unit.Trigger.TargetID, unit.Trigger.Params, cred, state)
		return cerr
	})
	if checkErr != nil {
		e.logUnitFailure(unit, "check trigger", classifyWithStaleCredential(asTriggerCheckFailure(checkErr), credErr))
		return
	}
	if outcome == nil || !outcome.Fired {
		return
	}

	if err := e.fire(ctx, unit, outcome.Payload, tickStart); err != nil {
		e.logUnitFailure(unit, "execute reaction", err)
	}
}

// Fire runs a unit's reaction with the given payload and records the firing.
// This is the shared path for tick evaluations that fired, externally
// delivered events, and manual triggers. The unit's trigger count only
// advances after the reaction succeeded.
func (e *Engine) Fire(ctx context.Context, unitID string, payload map[string]interface{}) error {
	unit, err := e.repo.GetUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if !unit.Enabled {
		return errors.ValidationError(fmt.Sprintf("unit %q is disabled", unitID))
	}
	return e.fire(ctx, unit, payload, e.clock.Now())
}

// fire executes the unit's reaction and records firedAt on success. Tick
// evaluations pass the tick's start time; event-driven fires pass now.
func (e *Engine) fire(ctx context.Context, unit *units.Unit, payload map[string]interface{}, firedAt time.Time) error {
	provider, err := e.resolver.Resolve(unit.Reaction.ProviderID)
	if err != nil {
		return err
	}

	cred, credErr := e.credentialFor(ctx, unit.OwnerID, provider)
	if cred == nil && credErr != nil {
		return credErr
	}

	var result *providers.ExecutionResult
	execErr := e.breakerFor(unit.Reaction.ProviderID, "reaction", circuitbreaker.ReactionConfig).Execute(ctx, func() error {
		var rerr error
		result, rerr = provider.ExecuteReaction(ctx, unit.Reaction.TargetID, unit.Reaction.Params, payload, cred)
		return rerr
	})
	if execErr != nil {
		return classifyWithStaleCredential(execErr, credErr)
	}
	if result != nil && !result.Succeeded {
		appErr := errors.ReactionExecutionError(
			fmt.Sprintf("reaction %q on provider %q reported failure", unit.Reaction.TargetID, unit.Reaction.ProviderID), nil)
		if result.ErrorCode != "" {
			appErr = appErr.WithCode(result.ErrorCode)
		}
		return classifyWithStaleCredential(appErr, credErr)
	}

	if err := e.repo.RecordSuccess(ctx, unit.ID, firedAt); err != nil {
		// The effect already happened; a lost record must not fail the unit.
		e.logger.Error("Failed to record unit firing", err,
			logging.String("unit_id", unit.ID),
		)
		return nil
	}

	e.logger.Info("Unit fired",
		logging.String("unit_id", unit.ID),
		logging.String("trigger_provider", unit.Trigger.ProviderID),
		logging.String("reaction_provider", unit.Reaction.ProviderID),
		logging.Time("fired_at", firedAt),
	)
	return nil
}

// credentialFor fetches the owner's credential when the provider needs one.
// A stale credential is returned together with its soft error so the caller
// can classify a downstream failure as credential trouble.
func (e *Engine) credentialFor(ctx context.Context, ownerID string, provider providers.Provider) (*credentials.Credential, error) {
	if !provider.Describe().RequiresCredential {
		return nil, nil
	}
	return e.creds.Get(ctx, ownerID, provider.Describe().ID)
}

func (e *Engine) breakerFor(providerID, kind string, config circuitbreaker.Config) *circuitbreaker.Breaker {
	return e.breakers.Get(providerID+"/"+kind, config)
}

func (e *Engine) logUnitFailure(unit *units.Unit, stage string, err error) {
	e.logger.Warn("Unit evaluation failed",
		logging.String("unit_id", unit.ID),
		logging.String("owner_id", unit.OwnerID),
		logging.String("stage", stage),
		logging.String("error_type", string(errors.GetType(err))),
		logging.Err(err),
	)
}

// asTriggerCheckFailure normalizes a check failure into the error taxonomy.
// Providers returning plain errors would otherwise surface as internal.
func asTriggerCheckFailure(err error) error {
	if _, ok := err.(*errors.AppError); ok {
		return err
	}
	return errors.TriggerCheckError("trigger check failed", err)
}

// classifyWithStaleCredential reinterprets a provider failure that happened
// while holding a stale credential: the likely root cause is the expired
// credential, not the provider.
func classifyWithStaleCredential(err, credErr error) error {
	if err == nil || credErr == nil {
		return err
	}
	if errors.IsType(err, errors.ErrTypeCredentialExpired) {
		return err
	}
	return errors.CredentialExpiredError("provider call failed with a stale credential", err)
}
