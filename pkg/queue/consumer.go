package queue

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. A returned error rejects the message
// without requeueing it.
type Handler func(ctx context.Context, body []byte) error

// Consumer reads messages from one queue with manual acknowledgement.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *slog.Logger
}

// DialConsumer connects to the broker and declares queue. prefetch bounds
// the number of unacknowledged messages; annotation jobs use 1.
func DialConsumer(url, queue string, prefetch int, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	if err := declare(ch, queue); err != nil {
		conn.Close()
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, logger: logger}, nil
}

// Run consumes messages until ctx is canceled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}
	c.logger.Info("consuming messages", "queue", c.queue)
	return dispatch(ctx, deliveries, h, c.logger)
}

func dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := h(ctx, d.Body); err != nil {
				logger.Error("message handling failed", "message_id", d.MessageId, "error", err)
				if nerr := d.Nack(false, false); nerr != nil {
					logger.Error("nack failed", "error", nerr)
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				logger.Error("ack failed", "error", err)
			}
		}
	}
}

// Close closes the channel and connection.
func (c *Consumer) Close() error {
	c.ch.Close()
	return c.conn.Close()
}
