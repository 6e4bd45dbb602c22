// Package queue implements the built-in AMQP provider. Its publish reaction
// hands trigger payloads to RabbitMQ for downstream consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/credentials"
	"automation-engine/internal/providers"
)

const ProviderID = "queue"

type Provider struct {
	descriptor providers.Descriptor
	url        string

	mu   sync.Mutex
	conn *amqp.Connection
}

// New creates the queue provider. url is the AMQP broker address; the
// connection is dialed lazily on first publish.
func New(url string) *Provider {
	return &Provider{
		descriptor: providers.Descriptor{
			ID:           ProviderID,
			Name:         "Queue",
			Description:  "Publishes trigger payloads to an AMQP broker",
			DeliveryMode: providers.DeliveryPush,
			Reactions: []providers.ReactionSpec{
				{
					ID:          "publish",
					Name:        "Publish message",
					Description: "Publishes the trigger payload as a persistent JSON message",
					Params: []providers.ParamSpec{
						{Name: "queue", Type: "string", Required: true,
							Description: "Queue name, declared durable on first use"},
						{Name: "exchange", Type: "string",
							Description: "Exchange to publish through; empty uses the default exchange"},
						{Name: "routing_key", Type: "string",
							Description: "Routing key; defaults to the queue name"},
					},
				},
			},
		},
		url: url,
	}
}

func (p *Provider) Describe() *providers.Descriptor {
	return &p.descriptor
}

func (p *Provider) CheckTrigger(context.Context, string, map[string]interface{}, *credentials.Credential, providers.CheckState) (*providers.TriggerOutcome, error) {
	return nil, errors.TriggerCheckError("queue provider has no triggers", nil)
}

func (p *Provider) ExecuteReaction(ctx context.Context, reactionID string, params, payload map[string]interface{}, _ *credentials.Credential) (*providers.ExecutionResult, error) {
	if reactionID != "publish" {
		return nil, errors.ValidationError(fmt.Sprintf("unknown queue reaction %q", reactionID))
	}

	queue := providers.StringParam(params, "queue", "")
	if queue == "" {
		return nil, errors.ValidationError("queue parameter is required")
	}
	exchange := providers.StringParam(params, "exchange", "")
	routingKey := providers.StringParam(params, "routing_key", queue)

	if payload == nil {
		payload = map[string]interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.InternalError("failed to encode payload", err)
	}

	if err := p.publish(queue, exchange, routingKey, body); err != nil {
		// The cached connection may have died since the last publish;
		// redial once before giving up.
		p.dropConnection()
		if err = p.publish(queue, exchange, routingKey, body); err != nil {
			return nil, errors.ReactionExecutionError(
				fmt.Sprintf("failed to publish to queue %q", queue), err)
		}
	}

	return &providers.ExecutionResult{Succeeded: true}, nil
}

func (p *Provider) publish(queue, exchange, routingKey string, body []byte) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if exchange == "" {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue: %w", err)
		}
	}

	return ch.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}

func (p *Provider) connection() (*amqp.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	p.conn = conn
	return conn, nil
}

func (p *Provider) dropConnection() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *Provider) Close() error {
	p.dropConnection()
	return nil
}

func (p *Provider) ValidateTriggerConfig(triggerID string, _ map[string]interface{}) *providers.ValidationResult {
	return &providers.ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("unknown trigger %q", triggerID)}}
}

func (p *Provider) ValidateReactionConfig(reactionID string, params map[string]interface{}) *providers.ValidationResult {
	spec, ok := p.descriptor.Reaction(reactionID)
	if !ok {
		return &providers.ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("unknown reaction %q", reactionID)}}
	}
	return providers.ValidateParams(spec.Params, params)
}
