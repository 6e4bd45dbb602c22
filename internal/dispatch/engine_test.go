package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/credentials"
	"automation-engine/internal/providers"
	"automation-engine/internal/units"
)

// fakeClock drives ticks manually so scheduler tests never sleep on real time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	tickCh chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		tickCh: make(chan time.Time),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	return &fakeTicker{ch: c.tickCh}
}

// Tick advances the clock and delivers one tick to the engine's loop.
func (c *fakeClock) Tick(advance time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(advance)
	now := c.now
	c.mu.Unlock()
	c.tickCh <- now
}

// Advance moves the clock forward without delivering a tick, simulating time
// passing while a provider call is in flight.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  {}

type firingRecord struct {
	unitID  string
	firedAt time.Time
}

type fakeRepo struct {
	mu        sync.Mutex
	units     map[string]*units.Unit
	firings   []firingRecord
	listCalls int64
}

func newFakeRepo(us ...*units.Unit) *fakeRepo {
	r := &fakeRepo{units: make(map[string]*units.Unit)}
	for _, u := range us {
		r.units[u.ID] = u
	}
	return r
}

func (r *fakeRepo) ListEnabledPollUnits(context.Context) ([]*units.Unit, error) {
	atomic.AddInt64(&r.listCalls, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*units.Unit
	for _, u := range r.units {
		if u.Enabled {
			copied := *u
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetUnit(_ context.Context, id string) (*units.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	if !ok {
		return nil, errors.NotFoundError("unit")
	}
	copied := *u
	return &copied, nil
}

func (r *fakeRepo) RecordSuccess(_ context.Context, id string, firedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	if !ok {
		return errors.NotFoundError("unit")
	}
	u.TriggerCount++
	at := firedAt
	u.LastTriggeredAt = &at
	r.firings = append(r.firings, firingRecord{unitID: id, firedAt: firedAt})
	return nil
}

func (r *fakeRepo) FindUnitsByProviderEvent(context.Context, string, map[string]string) ([]string, error) {
	return nil, nil
}

func (r *fakeRepo) firingCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.firings {
		if f.unitID == id {
			n++
		}
	}
	return n
}

func (r *fakeRepo) triggerCount(id string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.units[id].TriggerCount
}

func (r *fakeRepo) firstFiring() firingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firings[0]
}

func (r *fakeRepo) firingsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.firings) == 0
}

type checkFunc func(ctx context.Context, triggerID string, params map[string]interface{}, cred *credentials.Credential, state providers.CheckState) (*providers.TriggerOutcome, error)
type reactFunc func(ctx context.Context, reactionID string, params, payload map[string]interface{}, cred *credentials.Credential) (*providers.ExecutionResult, error)

type scriptedProvider struct {
	desc   providers.Descriptor
	check  checkFunc
	react  reactFunc
	checks int64
	reacts int64
}

func (p *scriptedProvider) Describe() *providers.Descriptor { return &p.desc }

func (p *scriptedProvider) CheckTrigger(ctx context.Context, triggerID string, params map[string]interface{}, cred *credentials.Credential, state providers.CheckState) (*providers.TriggerOutcome, error) {
	defer atomic.AddInt64(&p.checks, 1)
	if p.check == nil {
		return &providers.TriggerOutcome{Fired: true}, nil
	}
	return p.check(ctx, triggerID, params, cred, state)
}

func (p *scriptedProvider) ExecuteReaction(ctx context.Context, reactionID string, params, payload map[string]interface{}, cred *credentials.Credential) (*providers.ExecutionResult, error) {
	defer atomic.AddInt64(&p.reacts, 1)
	if p.react == nil {
		return &providers.ExecutionResult{Succeeded: true}, nil
	}
	return p.react(ctx, reactionID, params, payload, cred)
}

func (p *scriptedProvider) ValidateTriggerConfig(string, map[string]interface{}) *providers.ValidationResult {
	return &providers.ValidationResult{Valid: true}
}

func (p *scriptedProvider) ValidateReactionConfig(string, map[string]interface{}) *providers.ValidationResult {
	return &providers.ValidationResult{Valid: true}
}

type staticResolver map[string]providers.Provider

func (r staticResolver) Resolve(id string) (providers.Provider, error) {
	p, ok := r[id]
	if !ok {
		return nil, errors.UnknownProviderError(id)
	}
	return p, nil
}

type fakeCredSource struct {
	cred *credentials.Credential
	err  error
}

func (s *fakeCredSource) Get(context.Context, string, string) (*credentials.Credential, error) {
	return s.cred, s.err
}

func testUnit(id, provider string) *units.Unit {
	return &units.Unit{
		ID:      id,
		OwnerID: "alice",
		Name:    id,
		Trigger: units.Binding{ProviderID: provider, TargetID: "fires"},
		Reaction: units.Binding{
			ProviderID: provider,
			TargetID:   "reacts",
		},
		Enabled: true,
	}
}

func newTestEngine(repo units.Repository, resolver ProviderResolver, creds CredentialSource, clock Clock, limit int) *Engine {
	return NewEngine(repo, resolver, creds, clock, Options{
		TickInterval:     time.Second,
		ConcurrencyLimit: limit,
	}, nil)
}

func waitForListCalls(t *testing.T, repo *fakeRepo, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&repo.listCalls) >= want
	}, 2*time.Second, time.Millisecond)
}

func TestEngine_FiringRecordsSuccess(t *testing.T) {
	provider := &scriptedProvider{desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll}}
	repo := newFakeRepo(testUnit("u1", "demo"))
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, clock, 4)
	e.Start()
	defer e.Stop()

	clock.Tick(time.Second)
	waitForListCalls(t, repo, 1)

	require.Eventually(t, func() bool { return repo.firingCount("u1") == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(1), repo.triggerCount("u1"))
	assert.Equal(t, clock.Now(), repo.firstFiring().firedAt)
}

func TestEngine_FiredAtIsTickStart(t *testing.T) {
	clock := newFakeClock()
	provider := &scriptedProvider{
		desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll},
		react: func(context.Context, string, map[string]interface{}, map[string]interface{}, *credentials.Credential) (*providers.ExecutionResult, error) {
			// A slow reaction: the clock moves on while it runs.
			clock.Advance(5 * time.Second)
			return &providers.ExecutionResult{Succeeded: true}, nil
		},
	}
	repo := newFakeRepo(testUnit("u1", "demo"))

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, clock, 4)
	e.Start()
	defer e.Stop()

	tickStart := clock.Now().Add(time.Second)
	clock.Tick(time.Second)
	require.Eventually(t, func() bool { return repo.firingCount("u1") == 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, tickStart, repo.firstFiring().firedAt,
		"last-triggered is the tick's start, not when the reaction finished")
}

func TestEngine_FailedReactionDoesNotCount(t *testing.T) {
	provider := &scriptedProvider{
		desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll},
		react: func(context.Context, string, map[string]interface{}, map[string]interface{}, *credentials.Credential) (*providers.ExecutionResult, error) {
			return nil, errors.ReactionExecutionError("downstream rejected", nil)
		},
	}
	repo := newFakeRepo(testUnit("u1", "demo"))
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, clock, 4)
	e.Start()
	defer e.Stop()

	clock.Tick(time.Second)
	waitForListCalls(t, repo, 1)

	require.Eventually(t, func() bool { return atomic.LoadInt64(&provider.reacts) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(0), repo.triggerCount("u1"), "failed reaction must not advance the trigger count")
	assert.True(t, repo.firingsEmpty())
}

func TestEngine_NoRetryWithinTick(t *testing.T) {
	provider := &scriptedProvider{
		desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll},
		check: func(context.Context, string, map[string]interface{}, *credentials.Credential, providers.CheckState) (*providers.TriggerOutcome, error) {
			return nil, errors.TriggerCheckError("provider unreachable", nil)
		},
	}
	repo := newFakeRepo(testUnit("u1", "demo"))
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, clock, 4)
	e.Start()
	defer e.Stop()

	clock.Tick(time.Second)
	waitForListCalls(t, repo, 1)
	require.Eventually(t, func() bool { return atomic.LoadInt64(&provider.checks) == 1 }, 2*time.Second, time.Millisecond)

	// A failed check is retried on the next tick, never within the same one.
	clock.Tick(time.Second)
	waitForListCalls(t, repo, 2)
	require.Eventually(t, func() bool { return atomic.LoadInt64(&provider.checks) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(2), atomic.LoadInt64(&provider.checks))
}

func TestEngine_UnitFailureIsolation(t *testing.T) {
	healthy := &scriptedProvider{desc: providers.Descriptor{ID: "healthy", DeliveryMode: providers.DeliveryPoll}}
	repo := newFakeRepo(
		testUnit("broken", "missing-provider"),
		testUnit("ok", "healthy"),
	)
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"healthy": healthy}, &fakeCredSource{}, clock, 4)
	e.Start()
	defer e.Stop()

	clock.Tick(time.Second)
	waitForListCalls(t, repo, 1)

	require.Eventually(t, func() bool { return repo.firingCount("ok") == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, repo.firingCount("broken"))
}

func TestEngine_ConcurrencyLimit(t *testing.T) {
	const limit = 2

	var inFlight, maxInFlight int64
	var peakMu sync.Mutex

	provider := &scriptedProvider{
		desc: providers.Descriptor{ID: "slow", DeliveryMode: providers.DeliveryPoll},
		check: func(context.Context, string, map[string]interface{}, *credentials.Credential, providers.CheckState) (*providers.TriggerOutcome, error) {
			n := atomic.AddInt64(&inFlight, 1)
			peakMu.Lock()
			if n > maxInFlight {
				maxInFlight = n
			}
			peakMu.Unlock()
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return &providers.TriggerOutcome{Fired: false}, nil
		},
	}

	repo := newFakeRepo(
		testUnit("u1", "slow"),
		testUnit("u2", "slow"),
		testUnit("u3", "slow"),
		testUnit("u4", "slow"),
		testUnit("u5", "slow"),
	)
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"slow": provider}, &fakeCredSource{}, clock, limit)
	e.Start()
	defer e.Stop()

	clock.Tick(time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt64(&provider.checks) == 5 }, 3*time.Second, time.Millisecond)

	peakMu.Lock()
	peak := maxInFlight
	peakMu.Unlock()
	assert.LessOrEqual(t, peak, int64(limit), "worker pool must respect the concurrency limit")
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	provider := &scriptedProvider{desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll}}
	repo := newFakeRepo(testUnit("u1", "demo"))
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, clock, 4)
	e.Start()
	e.Start()
	e.Start()
	defer e.Stop()

	// A single loop consumes the shared tick channel; a duplicate loop
	// would deadlock or double-consume.
	clock.Tick(time.Second)
	waitForListCalls(t, repo, 1)
	assert.Equal(t, int64(1), atomic.LoadInt64(&repo.listCalls))
}

func TestEngine_StopDrainsAndIsIdempotent(t *testing.T) {
	provider := &scriptedProvider{desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll}}
	repo := newFakeRepo(testUnit("u1", "demo"))
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, clock, 4)
	e.Start()

	clock.Tick(time.Second)
	waitForListCalls(t, repo, 1)

	e.Stop()
	e.Stop()

	// After Stop returns, no loop is listening; ticks go nowhere.
	select {
	case clock.tickCh <- clock.Now():
		t.Fatal("tick channel should have no consumer after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_Fire_ManualTrigger(t *testing.T) {
	var gotPayload map[string]interface{}
	provider := &scriptedProvider{
		desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll},
		react: func(_ context.Context, _ string, _ map[string]interface{}, payload map[string]interface{}, _ *credentials.Credential) (*providers.ExecutionResult, error) {
			gotPayload = payload
			return &providers.ExecutionResult{Succeeded: true}, nil
		},
	}
	repo := newFakeRepo(testUnit("u1", "demo"))
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, clock, 4)

	err := e.Fire(context.Background(), "u1", map[string]interface{}{"source": "manual"})
	require.NoError(t, err)
	assert.Equal(t, "manual", gotPayload["source"])
	assert.Equal(t, int64(1), repo.triggerCount("u1"))
	assert.Equal(t, int64(0), atomic.LoadInt64(&provider.checks), "manual fire bypasses the trigger check")
}

func TestEngine_Fire_DisabledUnit(t *testing.T) {
	provider := &scriptedProvider{desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll}}
	unit := testUnit("u1", "demo")
	unit.Enabled = false
	repo := newFakeRepo(unit)

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, newFakeClock(), 4)

	err := e.Fire(context.Background(), "u1", nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Equal(t, int64(0), atomic.LoadInt64(&provider.reacts))
}

func TestEngine_Fire_UnknownUnit(t *testing.T) {
	e := newTestEngine(newFakeRepo(), staticResolver{}, &fakeCredSource{}, newFakeClock(), 4)

	err := e.Fire(context.Background(), "missing", nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestEngine_Fire_StaleCredentialClassification(t *testing.T) {
	provider := &scriptedProvider{
		desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll, RequiresCredential: true},
		react: func(context.Context, string, map[string]interface{}, map[string]interface{}, *credentials.Credential) (*providers.ExecutionResult, error) {
			return nil, errors.ReactionExecutionError("401 from provider", nil)
		},
	}
	repo := newFakeRepo(testUnit("u1", "demo"))
	creds := &fakeCredSource{
		cred: &credentials.Credential{OwnerID: "alice", ProviderID: "demo", AccessSecret: "stale"},
		err:  errors.CredentialExpiredError("refresh failed", nil),
	}

	e := newTestEngine(repo, staticResolver{"demo": provider}, creds, newFakeClock(), 4)

	err := e.Fire(context.Background(), "u1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeCredentialExpired),
		"failure under a stale credential is reported as credential trouble")
	assert.Equal(t, int64(0), repo.triggerCount("u1"))
}

func TestEngine_Fire_HardCredentialFailure(t *testing.T) {
	provider := &scriptedProvider{
		desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll, RequiresCredential: true},
	}
	repo := newFakeRepo(testUnit("u1", "demo"))
	creds := &fakeCredSource{err: errors.CredentialExpiredError("no credential", nil)}

	e := newTestEngine(repo, staticResolver{"demo": provider}, creds, newFakeClock(), 4)

	err := e.Fire(context.Background(), "u1", nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeCredentialExpired))
	assert.Equal(t, int64(0), atomic.LoadInt64(&provider.reacts), "no reaction attempt without a credential")
}

func TestAsTriggerCheckFailure(t *testing.T) {
	plain := asTriggerCheckFailure(fmt.Errorf("connection reset"))
	assert.True(t, errors.IsType(plain, errors.ErrTypeTriggerCheck),
		"plain provider errors are reported as trigger check failures")
	assert.EqualError(t, stderrors.Unwrap(plain), "connection reset")

	typed := errors.CredentialExpiredError("token revoked", nil)
	assert.Same(t, typed, asTriggerCheckFailure(typed), "taxonomy errors pass through untouched")
}

func TestEngine_CheckStateCarriesLastTriggered(t *testing.T) {
	var gotState providers.CheckState
	provider := &scriptedProvider{
		desc: providers.Descriptor{ID: "demo", DeliveryMode: providers.DeliveryPoll},
		check: func(_ context.Context, _ string, _ map[string]interface{}, _ *credentials.Credential, state providers.CheckState) (*providers.TriggerOutcome, error) {
			gotState = state
			return &providers.TriggerOutcome{Fired: false}, nil
		},
	}

	last := time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC)
	unit := testUnit("u1", "demo")
	unit.LastTriggeredAt = &last
	repo := newFakeRepo(unit)
	clock := newFakeClock()

	e := newTestEngine(repo, staticResolver{"demo": provider}, &fakeCredSource{}, clock, 4)
	e.Start()
	defer e.Stop()

	clock.Tick(time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt64(&provider.checks) == 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, "u1", gotState.UnitID)
	require.NotNil(t, gotState.LastTriggered)
	assert.Equal(t, last, *gotState.LastTriggered)
	assert.Equal(t, clock.Now(), gotState.Now)
}
