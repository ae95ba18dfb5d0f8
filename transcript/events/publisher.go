package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends envelopes to a durable topic exchange.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *zap.Logger
}

// Dial connects to url and declares exchange.
func Dial(url, exchange string, logger *zap.Logger) (Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("Dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("Dial: open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("Dial: declare exchange %q: %w", exchange, err)
	}
	return &rmqPublisher{conn: conn, exchange: exchange, log: logger}, nil
}

func (r *rmqPublisher) Publish(ctx context.Context, env Envelope) error {
	pub, err := publishing(env)
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("Publish: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, r.exchange, env.Meta.Type, false, false, pub); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	r.log.Debug("event_published",
		zap.String("exchange", r.exchange),
		zap.String("key", env.Meta.Type),
		zap.String("id", pub.MessageId),
	)
	return nil
}

func (r *rmqPublisher) Close() error { return r.conn.Close() }

// publishing builds the persistent AMQP message for env.
func publishing(env Envelope) (amqp091.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp091.Publishing{}, err
	}
	msgID := env.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := uuid.NewString()
	if env.Meta.CorrelationID != nil {
		cid = *env.Meta.CorrelationID
	}
	ts := env.Meta.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msgID,
		CorrelationId: cid,
		Timestamp:     ts,
		Type:          env.Meta.Type,
		Body:          body,
	}, nil
}
