package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/providers"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func check(t *testing.T, triggerID string, params map[string]interface{}, last *time.Time, now time.Time) (*providers.TriggerOutcome, error) {
	t.Helper()
	return New().CheckTrigger(context.Background(), triggerID, params, nil, providers.CheckState{
		UnitID:        "u1",
		LastTriggered: last,
		Now:           now,
	})
}

func TestInterval_FirstEvaluationFires(t *testing.T) {
	outcome, err := check(t, "interval", map[string]interface{}{"every_seconds": 60}, nil, baseTime)
	require.NoError(t, err)
	assert.True(t, outcome.Fired)
	assert.Equal(t, baseTime.Format(time.RFC3339), outcome.Payload["scheduled_at"])
}

func TestInterval_RespectsSpacing(t *testing.T) {
	last := baseTime

	outcome, err := check(t, "interval", map[string]interface{}{"every_seconds": 60}, &last, baseTime.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, outcome.Fired)

	outcome, err = check(t, "interval", map[string]interface{}{"every_seconds": 60}, &last, baseTime.Add(60*time.Second))
	require.NoError(t, err)
	assert.True(t, outcome.Fired, "exactly the interval elapsed")
}

func TestInterval_InvalidParams(t *testing.T) {
	_, err := check(t, "interval", map[string]interface{}{"every_seconds": 0}, nil, baseTime)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = check(t, "interval", nil, nil, baseTime)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestCron_FirstEvaluationFires(t *testing.T) {
	outcome, err := check(t, "cron", map[string]interface{}{"expression": "0 * * * *"}, nil, baseTime)
	require.NoError(t, err)
	assert.True(t, outcome.Fired)
}

func TestCron_FiresWhenScheduleCameDue(t *testing.T) {
	// Hourly schedule, last fired at 12:00.
	last := baseTime
	params := map[string]interface{}{"expression": "0 * * * *"}

	outcome, err := check(t, "cron", params, &last, baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, outcome.Fired, "13:00 has not arrived yet")

	outcome, err = check(t, "cron", params, &last, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, outcome.Fired, "13:00 is due")

	// A missed slot still fires on the next tick, once.
	outcome, err = check(t, "cron", params, &last, baseTime.Add(5*time.Hour))
	require.NoError(t, err)
	assert.True(t, outcome.Fired)
}

func TestCron_InvalidExpression(t *testing.T) {
	_, err := check(t, "cron", map[string]interface{}{"expression": "not cron"}, nil, baseTime)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestCheckTrigger_UnknownTrigger(t *testing.T) {
	_, err := check(t, "lunar-phase", nil, nil, baseTime)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestExecuteReaction_NoReactions(t *testing.T) {
	_, err := New().ExecuteReaction(context.Background(), "anything", nil, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestValidateTriggerConfig(t *testing.T) {
	p := New()

	result := p.ValidateTriggerConfig("interval", map[string]interface{}{"every_seconds": 60})
	assert.True(t, result.Valid)

	result = p.ValidateTriggerConfig("interval", map[string]interface{}{})
	assert.False(t, result.Valid)

	result = p.ValidateTriggerConfig("cron", map[string]interface{}{"expression": "*/5 * * * *"})
	assert.True(t, result.Valid)

	result = p.ValidateTriggerConfig("cron", map[string]interface{}{"expression": "bad"})
	assert.False(t, result.Valid)

	result = p.ValidateTriggerConfig("missing", nil)
	assert.False(t, result.Valid)
}

func TestDescribe(t *testing.T) {
	desc := New().Describe()
	assert.Equal(t, ProviderID, desc.ID)
	assert.Equal(t, providers.DeliveryPoll, desc.DeliveryMode)
	assert.False(t, desc.RequiresCredential)
	assert.Len(t, desc.Triggers, 2)
	assert.Empty(t, desc.Reactions)
}
