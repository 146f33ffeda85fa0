package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeType = "topic"

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ interfaces.EventPublisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher publishes domain events to a durable topic exchange. The routing key
// is the event type, e.g. "adventure.turn_resolved".
type RabbitMQPublisher struct {
	mu       sync.Mutex
	ch       Channel
	exchange string
	logger   *zap.Logger
}

// NewRabbitMQPublisher declares exchange on ch and returns a publisher using it.
func NewRabbitMQPublisher(ch Channel, exchange string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}
	logger = logger.Named("EventPublisher")
	err := ch.ExchangeDeclare(
		exchange,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		logger.Error("Failed to declare events exchange", zap.String("exchange", exchange), zap.Error(err))
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}
	logger.Info("Events exchange declared", zap.String("exchange", exchange), zap.String("type", exchangeType))
	return &RabbitMQPublisher{ch: ch, exchange: exchange, logger: logger}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event models.Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}
	logFields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.Int64("party_id", event.PartyID),
		zap.Int64("adventure_id", event.AdventureID),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		string(event.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish event", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}
	p.logger.Debug("Event published", logFields...)
	return nil
}

// Close closes the channel.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher returns a publisher that only logs at debug level.
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger.Named("NoopEventPublisher")}
}

func (p *NoopPublisher) Publish(_ context.Context, event models.Event) error {
	p.logger.Debug("Event dropped", zap.String("event", string(event.Type)), zap.Int64("party_id", event.PartyID))
	return nil
}

// Connect dials RabbitMQ, retrying at a fixed interval.
func Connect(ctx context.Context, url string, attempts int, step time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if attempts <= 0 {
		attempts = 5
	}
	var conn *amqp.Connection
	attempt := 0
	op := func() error {
		attempt++
		c, err := amqp.Dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_delay", wait),
			zap.Error(err),
		)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(step), uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}
	return conn, nil
}
