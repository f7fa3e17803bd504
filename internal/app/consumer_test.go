package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

type deliveryReportRepoStub struct {
	store.Repository

	challenge *domain.VerificationChallenge
	err       error
}

func (s *deliveryReportRepoStub) FindLatestChallenge(ctx context.Context, transferID uuid.UUID) (*domain.VerificationChallenge, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.challenge, nil
}

func deliveryReportBody(t *testing.T, status string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.DeliveryReport{
		TransferID: uuid.New(),
		Channel:    domain.ChannelSMS,
		Status:     status,
		Reason:     "carrier rejected",
		ReportedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to marshal report: %v", err)
	}
	return body
}

func TestDeliveryReportConsumer_AcknowledgesReports(t *testing.T) {
	repo := &deliveryReportRepoStub{challenge: &domain.VerificationChallenge{
		ID:        uuid.New(),
		Channel:   domain.ChallengeChannel{Kind: domain.ChannelSMS, Destination: "+15555550123"},
		ExpiresAt: time.Now().Add(time.Minute),
	}}
	consumer := NewDeliveryReportConsumer(repo, zerolog.Nop())

	if !consumer.HandleMessage(deliveryReportBody(t, "failed")) {
		t.Fatalf("expected a failed delivery report to be acknowledged")
	}
	if !consumer.HandleMessage(deliveryReportBody(t, "delivered")) {
		t.Fatalf("expected a delivered report to be acknowledged")
	}
}

func TestDeliveryReportConsumer_DropsMalformedAndUnknownReports(t *testing.T) {
	consumer := NewDeliveryReportConsumer(&deliveryReportRepoStub{err: store.ErrChallengeNotFound}, zerolog.Nop())

	if !consumer.HandleMessage([]byte("{not json")) {
		t.Fatalf("expected malformed payload to be dropped")
	}
	if !consumer.HandleMessage(deliveryReportBody(t, "failed")) {
		t.Fatalf("expected report for unknown challenge to be acknowledged")
	}
}

func TestDeliveryReportConsumer_RequeuesOnStoreError(t *testing.T) {
	consumer := NewDeliveryReportConsumer(&deliveryReportRepoStub{err: errors.New("db down")}, zerolog.Nop())

	if consumer.HandleMessage(deliveryReportBody(t, "failed")) {
		t.Fatalf("expected store errors to requeue the report")
	}
	if len(consumer.Bindings()) != 2 {
		t.Fatalf("expected bindings for delivered and failed reports")
	}
}
