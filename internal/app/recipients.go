package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

// RecipientRegistry manages each user's saved transfer counterparties.
type RecipientRegistry struct {
	repo store.Repository
	now  func() time.Time
}

func NewRecipientRegistry(repo store.Repository) *RecipientRegistry {
	return &RecipientRegistry{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Save stores a recipient, keeping only the last four digits of the account number.
func (r *RecipientRegistry) Save(ctx context.Context, ownerID string, req domain.SaveRecipientRequest) (*domain.Recipient, error) {
	displayName := strings.TrimSpace(req.DisplayName)
	bankName := strings.TrimSpace(req.BankName)
	last4 := domain.LastFour(req.AccountNumber)

	if displayName == "" {
		return nil, domain.NewValidationError("display_name", "is required")
	}
	if bankName == "" {
		return nil, domain.NewValidationError("bank_name", "is required")
	}
	if len(last4) < 4 {
		return nil, domain.NewValidationError("account_number", "must have at least 4 characters")
	}

	recipient := &domain.Recipient{
		ID:                 uuid.New(),
		OwnerID:            ownerID,
		DisplayName:        displayName,
		BankName:           bankName,
		AccountNumberLast4: last4,
		CreatedAt:          r.now(),
	}
	if err := r.repo.CreateRecipient(ctx, recipient); err != nil {
		return nil, err
	}
	return recipient, nil
}

// List returns the owner's recipients, most recently used first.
func (r *RecipientRegistry) List(ctx context.Context, ownerID string) ([]domain.Recipient, error) {
	return r.repo.ListRecipientsByOwner(ctx, ownerID)
}

// Resolve looks up a recipient chosen for a quick transfer.
func (r *RecipientRegistry) Resolve(ctx context.Context, ownerID string, recipientID uuid.UUID) (*domain.Recipient, error) {
	return r.repo.FindRecipientByID(ctx, recipientID, ownerID)
}

func (r *RecipientRegistry) Delete(ctx context.Context, ownerID string, recipientID uuid.UUID) error {
	return r.repo.DeleteRecipient(ctx, recipientID, ownerID)
}
