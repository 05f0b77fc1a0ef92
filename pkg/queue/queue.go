// Package queue publishes and consumes the engine's RabbitMQ messages.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

// Queue names.
const (
	AnnotateQueue = "sm_annotate"
	StatusQueue   = "sm_dataset_status"
)

// StatusMessage announces a dataset status change.
type StatusMessage struct {
	DatasetID string             `json:"ds_id"`
	Status    core.DatasetStatus `json:"status"`
}

// AnnotateMessage requests an annotation job for a dataset.
type AnnotateMessage struct {
	DatasetID   string `json:"ds_id"`
	DatasetName string `json:"ds_name"`
	InputPath   string `json:"input_path"`
	UserEmail   string `json:"user_email,omitempty"`
}

// Publisher sends JSON messages to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg interface{}) error
}

// AMQPPublisher publishes persistent messages to RabbitMQ through the
// default exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.Mutex
	declared map[string]bool
	logger   *slog.Logger
}

// DialPublisher connects to the broker at url.
func DialPublisher(url string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, declared: map[string]bool{}, logger: logger}, nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to message broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return conn, ch, nil
}

func declare(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return nil
}

// Publish encodes msg as JSON and publishes it to queue.
func (p *AMQPPublisher) Publish(ctx context.Context, queue string, msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.declared[queue] {
		if err := declare(p.ch, queue); err != nil {
			return err
		}
		p.declared[queue] = true
	}

	id := uuid.NewString()
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	p.logger.Debug("published message", "queue", queue, "message_id", id)
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.ch.Close()
	return p.conn.Close()
}

// MemoryPublisher records published messages in memory. It serves local
// mode and tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: map[string][][]byte{}}
}

func (p *MemoryPublisher) Publish(ctx context.Context, queue string, msg interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	p.mu.Lock()
	p.messages[queue] = append(p.messages[queue], body)
	p.mu.Unlock()
	return nil
}

// Messages returns the bodies published to queue, oldest first.
func (p *MemoryPublisher) Messages(queue string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.messages[queue]...)
}

// Statuses decodes the status messages published so far.
func (p *MemoryPublisher) Statuses() ([]StatusMessage, error) {
	var out []StatusMessage
	for _, body := range p.Messages(StatusQueue) {
		var m StatusMessage
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
