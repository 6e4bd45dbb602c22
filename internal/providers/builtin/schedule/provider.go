// Package schedule implements the built-in time-based trigger provider. It
// offers a fixed interval trigger and a cron trigger; both are stateless and
// derive their decision from the unit's last firing time.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/credentials"
	"automation-engine/internal/providers"
)

const ProviderID = "schedule"

type Provider struct {
	descriptor providers.Descriptor
}

func New() *Provider {
	return &Provider{
		descriptor: providers.Descriptor{
			ID:           ProviderID,
			Name:         "Schedule",
			Description:  "Time-based triggers: fixed intervals and cron expressions",
			DeliveryMode: providers.DeliveryPoll,
			Triggers: []providers.TriggerSpec{
				{
					ID:          "interval",
					Name:        "Every N seconds",
					Description: "Fires when at least every_seconds have passed since the last firing",
					Params: []providers.ParamSpec{
						{Name: "every_seconds", Type: "int", Required: true, Rule: "min=1",
							Description: "Minimum seconds between firings"},
					},
				},
				{
					ID:          "cron",
					Name:        "Cron expression",
					Description: "Fires when a cron schedule has come due since the last firing",
					Params: []providers.ParamSpec{
						{Name: "expression", Type: "string", Required: true,
							Description: "Standard five-field cron expression"},
					},
				},
			},
		},
	}
}

func (p *Provider) Describe() *providers.Descriptor {
	return &p.descriptor
}

func (p *Provider) CheckTrigger(_ context.Context, triggerID string, params map[string]interface{}, _ *credentials.Credential, state providers.CheckState) (*providers.TriggerOutcome, error) {
	switch triggerID {
	case "interval":
		return p.checkInterval(params, state)
	case "cron":
		return p.checkCron(params, state)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown schedule trigger %q", triggerID))
	}
}

func (p *Provider) checkInterval(params map[string]interface{}, state providers.CheckState) (*providers.TriggerOutcome, error) {
	every := providers.IntParam(params, "every_seconds", 0)
	if every < 1 {
		return nil, errors.ValidationError("every_seconds must be at least 1")
	}

	// A unit that has never fired fires on its first evaluation.
	if state.LastTriggered == nil {
		return fired(state.Now), nil
	}
	if state.Now.Sub(*state.LastTriggered) >= time.Duration(every)*time.Second {
		return fired(state.Now), nil
	}
	return &providers.TriggerOutcome{Fired: false}, nil
}

func (p *Provider) checkCron(params map[string]interface{}, state providers.CheckState) (*providers.TriggerOutcome, error) {
	expression := providers.StringParam(params, "expression", "")
	sched, err := cron.ParseStandard(expression)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid cron expression %q", expression))
	}

	if state.LastTriggered == nil {
		return fired(state.Now), nil
	}
	if !sched.Next(*state.LastTriggered).After(state.Now) {
		return fired(state.Now), nil
	}
	return &providers.TriggerOutcome{Fired: false}, nil
}

func fired(now time.Time) *providers.TriggerOutcome {
	return &providers.TriggerOutcome{
		Fired: true,
		Payload: map[string]interface{}{
			"scheduled_at": now.UTC().Format(time.RFC3339),
		},
	}
}

func (p *Provider) ExecuteReaction(context.Context, string, map[string]interface{}, map[string]interface{}, *credentials.Credential) (*providers.ExecutionResult, error) {
	return nil, errors.ValidationError("schedule provider has no reactions")
}

func (p *Provider) ValidateTriggerConfig(triggerID string, params map[string]interface{}) *providers.ValidationResult {
	spec, ok := p.descriptor.Trigger(triggerID)
	if !ok {
		return &providers.ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("unknown trigger %q", triggerID)}}
	}
	result := providers.ValidateParams(spec.Params, params)

	if triggerID == "cron" && result.Valid {
		expression := providers.StringParam(params, "expression", "")
		if _, err := cron.ParseStandard(expression); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("invalid cron expression %q", expression))
		}
	}
	return result
}

func (p *Provider) ValidateReactionConfig(reactionID string, _ map[string]interface{}) *providers.ValidationResult {
	return &providers.ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("unknown reaction %q", reactionID)}}
}
