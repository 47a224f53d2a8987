package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"dealgraph.org/common"
)

// DocumentStatusEvent is the fan-out payload for document state changes.
// Consumers (notification service, data-room sync) subscribe to the durable
// queue; the pipeline itself never depends on them.
type DocumentStatusEvent struct {
	DocumentID string    `json:"document_id"`
	DealID     string    `json:"deal_id"`
	OrgID      string    `json:"org_id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StatusPublisher publishes document status events.
type StatusPublisher interface {
	PublishStatus(event DocumentStatusEvent) error
	Close() error
}

// StatusFanout publishes events to a durable AMQP queue.
type StatusFanout struct {
	connection AMQPConnection
	channel    AMQPChannel
	queueName  string
}

// NewStatusFanout connects to the broker and declares the durable queue.
func NewStatusFanout(url, queueName string) (*StatusFanout, error) {
	return NewStatusFanoutWithDialer(url, queueName, &RealAMQPDialer{})
}

// NewStatusFanoutWithDialer allows injecting a dialer for testing.
func NewStatusFanoutWithDialer(url, queueName string, dialer AMQPDialer) (*StatusFanout, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &StatusFanout{connection: conn, channel: ch, queueName: queueName}, nil
}

// PublishStatus serializes the event and publishes it as a persistent message.
func (f *StatusFanout) PublishStatus(event DocumentStatusEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	err = f.channel.Publish(
		"",          // default exchange
		f.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (f *StatusFanout) Close() error {
	if f.channel != nil {
		if err := f.channel.Close(); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	if f.connection != nil {
		if err := f.connection.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}

// NopStatusPublisher drops events. Used when no fan-out URL is configured.
type NopStatusPublisher struct{}

func (NopStatusPublisher) PublishStatus(event DocumentStatusEvent) error {
	common.Logger.WithFields(map[string]interface{}{
		"document_id": event.DocumentID, "status": event.Status,
	}).Debug("status fan-out disabled, dropping event")
	return nil
}

func (NopStatusPublisher) Close() error { return nil }
