// Package messaging connects the inventory service to RabbitMQ. The
// service publishes stock events to one topic exchange and consumes
// user events from another; both are declared up front together with
// the dead letter exchange, so publishers and consumers never race on
// topology.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const deadLetterExchange = "stock.dlx"

// RabbitMQ manages the broker connection and its topology. The
// connection redials itself after a broker-side close; callers read
// the current channel through Channel and must not cache it.
type RabbitMQ struct {
	url      string
	prefetch int
	delay    time.Duration
	retries  int
	log      *logger.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// New connects to RabbitMQ and declares the service topology
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:      cfg.URL,
		prefetch: cfg.PrefetchCount,
		delay:    cfg.ReconnectDelay,
		retries:  cfg.MaxRetries,
		log:      log.WithComponent("rabbitmq"),
	}

	if err := r.dial(); err != nil {
		return nil, err
	}

	go r.redial()
	return r, nil
}

func (r *RabbitMQ) dial() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn, r.channel = conn, ch
	r.mu.Unlock()

	r.log.Info().Msg("connected to RabbitMQ")
	return nil
}

// declareTopology declares the exchanges the service speaks to: the
// stock event exchange it publishes on, the user event exchange it
// consumes from, and the dead letter exchange that failed deliveries
// land on.
func declareTopology(ch *amqp.Channel) error {
	for _, exchange := range []string{ExchangeStockEvents, ExchangeUserEvents, deadLetterExchange} {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}
	return nil
}

// redial re-establishes the connection after a broker-side close.
// A clean Close delivers nil on the notification channel and ends the
// loop.
func (r *RabbitMQ) redial() {
	for {
		r.mu.RLock()
		conn, closed := r.conn, r.closed
		r.mu.RUnlock()
		if closed || conn == nil {
			return
		}

		amqpErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
		if amqpErr == nil {
			return
		}
		r.log.Warn().Str("reason", amqpErr.Reason).Msg("RabbitMQ connection lost")

		for attempt := 1; ; attempt++ {
			r.mu.RLock()
			closed = r.closed
			r.mu.RUnlock()
			if closed {
				return
			}

			r.log.Info().Int("attempt", attempt).Msg("reconnecting to RabbitMQ")
			if err := r.dial(); err == nil {
				break
			} else if attempt >= r.retries {
				r.log.Error().Err(err).Int("attempts", attempt).Msg("giving up reconnecting to RabbitMQ")
				return
			} else {
				r.log.Warn().Err(err).Msg("reconnection attempt failed")
				time.Sleep(r.delay)
			}
		}
	}
}

// Channel returns the current channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close closes the RabbitMQ connection
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.log.Warn().Err(err).Msg("failed to close channel")
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.log.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health returns the health status of the broker connection
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := map[string]string{
		"status": "up",
	}

	if r.conn == nil || r.conn.IsClosed() {
		status["status"] = "down"
		status["error"] = "connection closed"
	}

	return status
}

// declareQueue declares a durable queue whose failed deliveries dead
// letter to <queue>.dlq, and binds that dead letter queue by routing
// key so each queue keeps its own failures.
func (r *RabbitMQ) declareQueue(name string) error {
	ch := r.Channel()

	_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": name,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}

	dlq := name + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, name, deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue %s: %w", dlq, err)
	}

	return nil
}

// bindQueue binds a queue to an exchange with a routing key pattern
func (r *RabbitMQ) bindQueue(queueName, exchange, routingKey string) error {
	return r.Channel().QueueBind(queueName, routingKey, exchange, false, nil)
}
