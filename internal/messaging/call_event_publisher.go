package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// callEventsExchange — fanout exchange для событий звонков; его слушают
	// внешние потребители (аналитика, уведомления).
	callEventsExchange     = "teledoom.calls"
	callEventsExchangeType = "fanout"
)

// Имена событий жизненного цикла звонка.
const (
	CallAnswered  = "call.answered"
	CallSeated    = "call.seated"
	CallQueued    = "call.queued"
	CallRejected  = "call.rejected"
	CallEnded     = "call.ended"
	PlayerRotated = "player.rotated"
)

// CallEventPayload — сообщение о событии звонка. Caller уже замаскирован:
// полный номер за пределы сервиса не уходит.
type CallEventPayload struct {
	Event      string    `json:"event"`
	ChannelID  string    `json:"channel_id"`
	Caller     string    `json:"caller,omitempty"`
	QueueDepth int       `json:"queue_depth"`
	Timestamp  time.Time `json:"timestamp"`
}

// CallEventPublisher публикует события жизненного цикла звонков.
type CallEventPublisher interface {
	PublishCallEvent(ctx context.Context, payload CallEventPayload) error
	Close() error
}

// Compile-time check to ensure implementation satisfies the interface.
var _ CallEventPublisher = (*RabbitMQCallEventPublisher)(nil)

// RabbitMQCallEventPublisher публикует события в fanout exchange.
type RabbitMQCallEventPublisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

// NewRabbitMQCallEventPublisher создает издателя и объявляет exchange.
func NewRabbitMQCallEventPublisher(conn *amqp.Connection, logger *zap.Logger) (*RabbitMQCallEventPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		callEventsExchange,
		callEventsExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", callEventsExchange, err)
	}

	logger.Info("Call events exchange declared", zap.String("exchange", callEventsExchange))

	return &RabbitMQCallEventPublisher{
		conn:   conn,
		ch:     ch,
		logger: logger.Named("CallEventPublisher"),
	}, nil
}

// PublishCallEvent публикует событие звонка.
func (p *RabbitMQCallEventPublisher) PublishCallEvent(ctx context.Context, payload CallEventPayload) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal call event", zap.Error(err), zap.Any("payload", payload))
		return fmt.Errorf("failed to marshal call event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		callEventsExchange,
		"",    // routing key (не используется для fanout)
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   payload.Timestamp,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish call event", zap.Error(err), zap.String("event", payload.Event))
		return fmt.Errorf("failed to publish call event: %w", err)
	}

	p.logger.Debug("Call event published", zap.String("event", payload.Event), zap.String("channel_id", payload.ChannelID))
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *RabbitMQCallEventPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
