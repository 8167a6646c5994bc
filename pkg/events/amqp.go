package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"inference-ops-service/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const ExchangeName = "inference.ops.events"

// AMQPPublisher forwards bus events to a topic exchange, routed by event type.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare events exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

// Attach subscribes the publisher to bus and returns the unsubscribe func.
func (p *AMQPPublisher) Attach(bus *Bus) func() {
	return bus.Subscribe(func(evt Event) {
		if err := p.Publish(evt); err != nil {
			logger.Warn("Failed to publish event",
				logger.String("event", string(evt.Type)),
				logger.String("resource_id", evt.ResourceID),
				logger.Err(err))
		}
	})
}

func (p *AMQPPublisher) Publish(evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish(
		ExchangeName,    // exchange
		RoutingKey(evt), // routing key
		false,           // mandatory
		false,           // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RoutingKey groups monitoring and rollback events under separate prefixes.
func RoutingKey(evt Event) string {
	switch evt.Type {
	case EndpointAdded, EndpointRemoved, MetricsUpdated, HealthChanged,
		AlertCreated, AlertResolved, EndpointError:
		return "monitoring." + string(evt.Type)
	case SnapshotCreated:
		return "snapshot." + string(evt.Type)
	default:
		return "rollback." + string(evt.Type)
	}
}
