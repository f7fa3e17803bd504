package app

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/transfa/transfer-service/internal/domain"
)

// EventPublisher is implemented by the RabbitMQ producer and the Kafka publisher.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Notifier delivers a verification code to the user out of band. Delivery is
// fire-and-forget: a failure is logged and never blocks the transfer.
type Notifier interface {
	SendVerificationCode(ctx context.Context, msg domain.VerificationCodeMessage) error
}

// EventNotifier hands verification codes to the notification service over the event bus.
type EventNotifier struct {
	publisher EventPublisher
	exchange  string
}

func NewEventNotifier(publisher EventPublisher, exchange string) *EventNotifier {
	return &EventNotifier{publisher: publisher, exchange: exchange}
}

func (n *EventNotifier) SendVerificationCode(ctx context.Context, msg domain.VerificationCodeMessage) error {
	return n.publisher.Publish(ctx, n.exchange, domain.EventVerificationCodeRequested, msg)
}

// LogNotifier records that a code was dispatched without delivering it. The code
// itself is never written to the log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendVerificationCode(ctx context.Context, msg domain.VerificationCodeMessage) error {
	channel := domain.ChallengeChannel{Kind: msg.Channel, Destination: msg.Destination}
	n.logger.Info().
		Str("transfer_id", msg.TransferID.String()).
		Str("channel", string(msg.Channel)).
		Str("destination", channel.MaskedDestination()).
		Time("expires_at", msg.ExpiresAt).
		Msg("verification code dispatched")
	return nil
}

// noopPublisher drops events when no broker is configured.
type noopPublisher struct {
	logger zerolog.Logger
}

// NewNoopPublisher returns an EventPublisher that only logs the routing key.
func NewNoopPublisher(logger zerolog.Logger) EventPublisher {
	return &noopPublisher{logger: logger}
}

func (p *noopPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.logger.Debug().Str("exchange", exchange).Str("routing_key", routingKey).Msg("publish skipped; no broker configured")
	return nil
}
