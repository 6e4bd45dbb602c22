// Package webhook implements the built-in HTTP provider: an inbound trigger
// fed by the external gateway and an outbound POST reaction.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/credentials"
	"automation-engine/internal/providers"
)

const ProviderID = "webhook"

const defaultTimeout = 15 * time.Second

type Provider struct {
	descriptor providers.Descriptor
	client     *http.Client
}

func New() *Provider {
	return &Provider{
		descriptor: providers.Descriptor{
			ID:           ProviderID,
			Name:         "Webhook",
			Description:  "Inbound HTTP events and outbound HTTP calls",
			DeliveryMode: providers.DeliveryPush,
			Triggers: []providers.TriggerSpec{
				{
					ID:          "inbound",
					Name:        "Inbound event",
					Description: "Fires when an external event is delivered to the gateway",
					Params: []providers.ParamSpec{
						{Name: "channel", Type: "string",
							Description: "Optional channel label matched against event queries"},
					},
				},
			},
			Reactions: []providers.ReactionSpec{
				{
					ID:          "post",
					Name:        "HTTP POST",
					Description: "Delivers the trigger payload as JSON to a URL",
					Params: []providers.ParamSpec{
						{Name: "url", Type: "string", Required: true, Rule: "url",
							Description: "Destination URL"},
						{Name: "bearer_token", Type: "string",
							Description: "Optional static bearer token for the request"},
					},
				},
			},
		},
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func (p *Provider) Describe() *providers.Descriptor {
	return &p.descriptor
}

// CheckTrigger always fails: push providers receive events through the
// gateway and are never polled.
func (p *Provider) CheckTrigger(context.Context, string, map[string]interface{}, *credentials.Credential, providers.CheckState) (*providers.TriggerOutcome, error) {
	return nil, errors.TriggerCheckError("webhook triggers are event-delivered, not polled", nil)
}

func (p *Provider) ExecuteReaction(ctx context.Context, reactionID string, params, payload map[string]interface{}, cred *credentials.Credential) (*providers.ExecutionResult, error) {
	if reactionID != "post" {
		return nil, errors.ValidationError(fmt.Sprintf("unknown webhook reaction %q", reactionID))
	}

	url := providers.StringParam(params, "url", "")
	if url == "" {
		return nil, errors.ValidationError("url parameter is required")
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.InternalError("failed to encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid request for %q", url))
	}
	req.Header.Set("Content-Type", "application/json")

	if token := providers.StringParam(params, "bearer_token", ""); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if cred != nil && cred.AccessSecret != "" {
		req.Header.Set("Authorization", "Bearer "+cred.AccessSecret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.ReactionExecutionError(fmt.Sprintf("POST %s failed", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &providers.ExecutionResult{
			Succeeded: false,
			ErrorCode: fmt.Sprintf("http_%d", resp.StatusCode),
		}, nil
	}
	return &providers.ExecutionResult{Succeeded: true}, nil
}

func (p *Provider) ValidateTriggerConfig(triggerID string, params map[string]interface{}) *providers.ValidationResult {
	spec, ok := p.descriptor.Trigger(triggerID)
	if !ok {
		return &providers.ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("unknown trigger %q", triggerID)}}
	}
	return providers.ValidateParams(spec.Params, params)
}

func (p *Provider) ValidateReactionConfig(reactionID string, params map[string]interface{}) *providers.ValidationResult {
	spec, ok := p.descriptor.Reaction(reactionID)
	if !ok {
		return &providers.ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("unknown reaction %q", reactionID)}}
	}
	return providers.ValidateParams(spec.Params, params)
}
