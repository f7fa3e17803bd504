package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys for transfer lifecycle events.
const (
	EventTransferSubmitted          = "transfer.submitted"
	EventTransferVerificationIssued = "transfer.verification.issued"
	EventTransferVerified           = "transfer.verified"
	EventTransferCompleted          = "transfer.completed"
	EventTransferFailed             = "transfer.failed"
	EventVerificationCodeRequested  = "notification.verification_code"
)

// TransferEvent is published on every status change of a transfer.
type TransferEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	TransferID    uuid.UUID       `json:"transfer_id"`
	OwnerID       string          `json:"owner_id"`
	Kind          TransferKind    `json:"kind"`
	Status        TransferStatus  `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewTransferEvent snapshots a transfer into an event of the given type.
func NewTransferEvent(eventType string, t *TransferRequest, at time.Time) TransferEvent {
	event := TransferEvent{
		EventID:    uuid.New(),
		EventType:  eventType,
		TransferID: t.ID,
		OwnerID:    t.OwnerID,
		Kind:       t.Kind,
		Status:     t.Status,
		Amount:     t.Amount,
		Fee:        t.Fee,
		Currency:   t.Currency,
		OccurredAt: at,
	}
	if t.Reference != nil {
		event.Reference = *t.Reference
	}
	if t.FailureReason != nil {
		event.FailureReason = *t.FailureReason
	}
	return event
}

// VerificationCodeMessage is handed to the notification dispatcher for delivery.
type VerificationCodeMessage struct {
	TransferID  uuid.UUID   `json:"transfer_id"`
	Channel     ChannelKind `json:"channel"`
	Destination string      `json:"destination"`
	Code        string      `json:"code"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Routing keys of delivery reports sent back by the notification service.
const (
	EventVerificationCodeDelivered = "notification.verification_code.delivered"
	EventVerificationCodeFailed    = "notification.verification_code.failed"
)

// DeliveryReport tells the service whether a verification code reached the user.
type DeliveryReport struct {
	TransferID uuid.UUID   `json:"transfer_id"`
	Channel    ChannelKind `json:"channel"`
	Status     string      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	ReportedAt time.Time   `json:"reported_at"`
}
