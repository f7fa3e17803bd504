package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

// DeliveryReportConsumer records the notification service's delivery reports in the
// audit log. A failed delivery never changes the transfer or its challenge: the user
// recovers through resend.
type DeliveryReportConsumer struct {
	repo   store.Repository
	logger zerolog.Logger
}

func NewDeliveryReportConsumer(repo store.Repository, logger zerolog.Logger) *DeliveryReportConsumer {
	return &DeliveryReportConsumer{repo: repo, logger: logger}
}

// HandleMessage returns false only when the report should be redelivered.
func (c *DeliveryReportConsumer) HandleMessage(body []byte) bool {
	var report domain.DeliveryReport
	if err := json.Unmarshal(body, &report); err != nil {
		c.logger.Warn().Err(err).Msg("failed to unmarshal delivery report; dropping")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	challenge, err := c.repo.FindLatestChallenge(ctx, report.TransferID)
	if err != nil {
		if errors.Is(err, store.ErrChallengeNotFound) || errors.Is(err, store.ErrTransferNotFound) {
			c.logger.Warn().Str("transfer_id", report.TransferID.String()).Msg("delivery report for unknown challenge; acknowledging")
			return true
		}
		c.logger.Error().Err(err).Str("transfer_id", report.TransferID.String()).Msg("delivery report lookup failed")
		return false
	}

	event := c.logger.Info()
	if report.Status != "delivered" {
		event = c.logger.Warn().Str("reason", report.Reason)
	}
	event.
		Str("transfer_id", report.TransferID.String()).
		Str("challenge_id", challenge.ID.String()).
		Str("channel", string(challenge.Channel.Kind)).
		Str("destination", challenge.Channel.MaskedDestination()).
		Str("delivery_status", report.Status).
		Bool("challenge_active", challenge.IsActive(time.Now())).
		Msg("verification code delivery reported")
	return true
}

// Bindings maps the delivery report routing keys to this consumer.
func (c *DeliveryReportConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		domain.EventVerificationCodeDelivered: c.HandleMessage,
		domain.EventVerificationCodeFailed:    c.HandleMessage,
	}
}
