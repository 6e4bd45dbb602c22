// Package providers defines the provider contract for the automation engine.
// A provider is a named integration that exposes triggers (conditions the
// engine evaluates) and reactions (effects the engine executes). Providers are
// registered once at startup and resolved by id at dispatch time.
package providers

import (
	"context"
	"time"

	"automation-engine/internal/credentials"
)

// DeliveryMode describes how a provider's triggers reach the engine.
type DeliveryMode string

const (
	// DeliveryPoll providers are asked on every scheduler tick whether their
	// trigger condition holds
	DeliveryPoll DeliveryMode = "poll"
	// DeliveryPush providers deliver events through the external gateway and
	// are never polled
	DeliveryPush DeliveryMode = "push"
)

// ParamSpec describes one configuration parameter of a trigger or reaction.
type ParamSpec struct {
	// Name is the parameter key inside a binding's params map
	Name string `json:"name"`
	// Type is the expected value type: "string", "int", "float", "bool"
	Type string `json:"type"`
	// Required marks parameters that must be present in every binding
	Required bool `json:"required"`
	// Rule is an optional validator rule applied to the value, e.g. "url" or "min=1"
	Rule string `json:"rule,omitempty"`
	// Description is human-readable help text
	Description string `json:"description,omitempty"`
}

// TriggerSpec describes one trigger a provider offers.
type TriggerSpec struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Params      []ParamSpec `json:"params,omitempty"`
}

// ReactionSpec describes one reaction a provider offers.
type ReactionSpec struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Params      []ParamSpec `json:"params,omitempty"`
}

// Descriptor is a provider's static self-description. It is returned by
// Describe and never changes after registration.
type Descriptor struct {
	// ID is the unique provider identifier used in bindings
	ID string `json:"id"`
	// Name is the human-readable provider name
	Name string `json:"name"`
	// Description explains what the provider integrates with
	Description string `json:"description,omitempty"`
	// DeliveryMode is poll or push; it applies to all of the provider's triggers
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	// RequiresCredential is true when trigger checks and reactions need a
	// per-owner credential
	RequiresCredential bool `json:"requires_credential"`
	// Triggers lists the conditions this provider can evaluate
	Triggers []TriggerSpec `json:"triggers"`
	// Reactions lists the effects this provider can execute
	Reactions []ReactionSpec `json:"reactions"`
}

// Trigger returns the TriggerSpec with the given id, or false.
func (d *Descriptor) Trigger(id string) (TriggerSpec, bool) {
	for _, t := range d.Triggers {
		if t.ID == id {
			return t, true
		}
	}
	return TriggerSpec{}, false
}

// Reaction returns the ReactionSpec with the given id, or false.
func (d *Descriptor) Reaction(id string) (ReactionSpec, bool) {
	for _, r := range d.Reactions {
		if r.ID == id {
			return r, true
		}
	}
	return ReactionSpec{}, false
}

// CheckState is the per-unit evaluation context handed to CheckTrigger. It
// lets stateless providers implement conditions like "every N minutes"
// without keeping their own bookkeeping.
type CheckState struct {
	// UnitID identifies the unit being evaluated
	UnitID string
	// LastTriggered is when the unit last fired successfully, nil if never
	LastTriggered *time.Time
	// Now is the scheduler's notion of the current time for this tick
	Now time.Time
}

// TriggerOutcome is the result of one trigger condition check.
type TriggerOutcome struct {
	// Fired is true when the condition holds and the reaction should run
	Fired bool `json:"fired"`
	// Payload carries trigger-produced data into the reaction
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ExecutionResult is the result of one reaction execution.
type ExecutionResult struct {
	// Succeeded is true when the effect was applied
	Succeeded bool `json:"succeeded"`
	// ErrorCode is a provider-specific code describing the failure
	ErrorCode string `json:"error_code,omitempty"`
}

// ValidationResult reports whether a binding's params satisfy a spec.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Provider is the contract every integration implements. Implementations must
// be safe for concurrent use: the scheduler evaluates many units in parallel.
type Provider interface {
	// Describe returns the provider's static descriptor
	Describe() *Descriptor

	// CheckTrigger evaluates whether the trigger condition holds for one
	// unit. cred is nil when the provider does not require credentials.
	CheckTrigger(ctx context.Context, triggerID string, params map[string]interface{}, cred *credentials.Credential, state CheckState) (*TriggerOutcome, error)

	// ExecuteReaction applies one reaction. payload is the trigger's output
	// for this firing, possibly nil.
	ExecuteReaction(ctx context.Context, reactionID string, params map[string]interface{}, payload map[string]interface{}, cred *credentials.Credential) (*ExecutionResult, error)

	// ValidateTriggerConfig checks params against the trigger's ParamSpecs
	ValidateTriggerConfig(triggerID string, params map[string]interface{}) *ValidationResult

	// ValidateReactionConfig checks params against the reaction's ParamSpecs
	ValidateReactionConfig(reactionID string, params map[string]interface{}) *ValidationResult
}
