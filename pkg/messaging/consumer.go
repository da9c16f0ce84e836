package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// maxDeliveryAttempts is how often a failing event is requeued before
// it dead letters to <queue>.dlq.
const maxDeliveryAttempts = 3

// MessageHandler handles one decoded event
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer consumes events from a durable queue and dispatches them
// to handlers registered per event type. Events without a handler are
// acknowledged and dropped; failing events are retried and eventually
// dead lettered.
type Consumer struct {
	rmq      *RabbitMQ
	queue    string
	handlers map[string]MessageHandler
	log      *logger.Logger
}

// NewConsumer creates a consumer on the named queue, declaring the
// queue and its dead letter queue
func NewConsumer(rmq *RabbitMQ, queue string, log *logger.Logger) (*Consumer, error) {
	if err := rmq.declareQueue(queue); err != nil {
		return nil, err
	}

	return &Consumer{
		rmq:      rmq,
		queue:    queue,
		handlers: make(map[string]MessageHandler),
		log:      log.WithComponent("consumer"),
	}, nil
}

// Subscribe binds the queue to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.bindQueue(c.queue, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", c.queue, err)
	}

	c.log.Info().
		Str("queue", c.queue).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start begins consuming until the context is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.rmq.Channel().Consume(
		c.queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from %s: %w", c.queue, err)
	}

	c.log.Info().Str("queue", c.queue).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.log.Info().Str("queue", c.queue).Msg("consumer stopped")
				return
			case delivery, ok := <-deliveries:
				if !ok {
					c.log.Warn().Str("queue", c.queue).Msg("delivery channel closed")
					return
				}
				c.dispatch(ctx, delivery)
			}
		}
	}()

	return nil
}

func (c *Consumer) dispatch(ctx context.Context, delivery amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		c.log.Error().Err(err).Msg("failed to unmarshal event")
		// Malformed payloads go straight to the dead letter queue.
		delivery.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.log.Debug().
			Str("event_type", event.Type).
			Msg("no handler registered for event type")
		delivery.Ack(false)
		return
	}

	if err := handler(ctx, &event); err != nil {
		c.log.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Msg("failed to process event")

		if attempts := deliveryAttempts(delivery); attempts >= maxDeliveryAttempts {
			c.log.Warn().
				Str("event_id", event.ID).
				Int("attempts", attempts).
				Msg("max delivery attempts exceeded, dead lettering")
			delivery.Reject(false)
			return
		}

		delivery.Nack(false, true)
		return
	}

	delivery.Ack(false)
}

// deliveryAttempts reads how often the broker has dead lettered and
// redelivered this message, from the x-death header.
func deliveryAttempts(delivery amqp.Delivery) int {
	deaths, ok := delivery.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}

	for _, death := range deaths {
		if d, ok := death.(amqp.Table); ok {
			if count, ok := d["count"].(int64); ok {
				return int(count)
			}
		}
	}

	return 0
}
