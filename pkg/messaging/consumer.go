package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lotledger/lotledger-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Disposition is what the consumer does with a delivery after handling it
type Disposition int

const (
	Ack Disposition = iota
	Requeue
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// PermanentError marks a handler failure that retrying cannot fix, such as
// a payload the service will always reject. It goes straight to the DLQ.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq        *RabbitMQ
	queueName  string
	handlers   map[string]MessageHandler
	maxRetries int
	logger     *logger.Logger
}

// NewConsumer declares queueName and returns a consumer for it
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return newConsumer(rmq, queueName, rmq.config.MaxRetries, log), nil
}

func newConsumer(rmq *RabbitMQ, queueName string, maxRetries int, log *logger.Logger) *Consumer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Consumer{
		rmq:        rmq,
		queueName:  queueName,
		handlers:   make(map[string]MessageHandler),
		maxRetries: maxRetries,
		logger:     log,
	}
}

// Subscribe subscribes to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start starts consuming messages from the queue
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Msg("message channel closed")
					return
				}
				c.settle(ctx, msg, c.Dispatch(ctx, msg.Body, retryCount(msg.Headers)))
			}
		}
	}()

	return nil
}

// settle acknowledges the delivery. A retry is republished to the tail of
// the queue with an incremented x-retry-count header, since a plain nack
// with requeue never increments any counter.
func (c *Consumer) settle(ctx context.Context, msg amqp.Delivery, d Disposition) {
	var err error
	switch d {
	case Ack:
		err = msg.Ack(false)
	case Requeue:
		err = c.rmq.Channel().PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
			Headers:       amqp.Table{retryHeader: int64(retryCount(msg.Headers) + 1)},
			ContentType:   msg.ContentType,
			DeliveryMode:  amqp.Persistent,
			MessageId:     msg.MessageId,
			CorrelationId: msg.CorrelationId,
			Type:          msg.Type,
			Body:          msg.Body,
		})
		if err == nil {
			err = msg.Ack(false)
		} else {
			_ = msg.Nack(false, true)
		}
	default:
		err = msg.Reject(false)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("disposition", d.String()).Msg("failed to settle delivery")
	}
}

// Dispatch decodes body, runs the registered handler and decides how the
// delivery is settled. Unknown event types are acknowledged and dropped.
func (c *Consumer) Dispatch(ctx context.Context, body []byte, retries int) Disposition {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		return DeadLetter
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().
			Str("event_type", event.Type).
			Msg("no handler registered for event type")
		return Ack
	}

	c.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	err := handler(ctx, &event)
	if err == nil {
		return Ack
	}

	c.logger.Error().
		Err(err).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Msg("failed to process event")

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return DeadLetter
	}

	if retries >= c.maxRetries {
		c.logger.Warn().
			Str("event_id", event.ID).
			Int("retry_count", retries).
			Msg("max retries exceeded, sending to DLQ")
		return DeadLetter
	}

	return Requeue
}

const retryHeader = "x-retry-count"

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}

	switch n := headers[retryHeader].(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	}

	if deaths, ok := headers["x-death"].([]interface{}); ok {
		for _, death := range deaths {
			if d, ok := death.(amqp.Table); ok {
				if count, ok := d["count"].(int64); ok {
					return int(count)
				}
			}
		}
	}

	return 0
}
