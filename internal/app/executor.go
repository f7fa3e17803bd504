package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

const maxReferenceAttempts = 3

// Executor settles verified transfers. Internal transfers post a balanced debit and
// credit pair; external kinds debit the source and record the intent to settle, which
// the downstream settlement service picks up from the transfer.completed event.
type Executor struct {
	repo       store.Repository
	references *ReferenceGenerator
	locks      *accountLocker
	logger     zerolog.Logger
	now        func() time.Time
}

func NewExecutor(repo store.Repository, references *ReferenceGenerator, logger zerolog.Logger) *Executor {
	return &Executor{
		repo:       repo,
		references: references,
		locks:      newAccountLocker(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute moves a Verified transfer to Completed. Data-layer failures move it to Failed
// instead; they are never retried. A lost race returns a *domain.ConcurrencyError and
// leaves the transfer as the winner left it.
func (e *Executor) Execute(ctx context.Context, transfer *domain.TransferRequest) (*domain.TransferRequest, error) {
	switch {
	case transfer.Status == domain.StatusVerified:
	case transfer.Status.IsTerminal():
		return nil, &domain.ConcurrencyError{Expected: domain.StatusVerified}
	default:
		return nil, fmt.Errorf("%w: transfer is %s, not verified", domain.ErrInvalidTransition, transfer.Status)
	}

	entries := e.buildEntries(transfer)
	accountIDs := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		accountIDs = append(accountIDs, entry.AccountID)
	}

	unlock := e.locks.Lock(accountIDs...)
	err := e.complete(ctx, transfer, entries)
	unlock()

	if err != nil {
		return nil, e.handleFailure(ctx, transfer, err)
	}

	completed, err := e.repo.FindTransferByID(ctx, transfer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload completed transfer: %w", err)
	}

	e.logger.Info().
		Str("transfer_id", completed.ID.String()).
		Str("kind", string(completed.Kind)).
		Str("reference", derefString(completed.Reference)).
		Str("amount", completed.Amount.StringFixed(2)).
		Msg("transfer completed")
	return completed, nil
}

func (e *Executor) complete(ctx context.Context, transfer *domain.TransferRequest, entries []domain.LedgerEntry) error {
	var lastErr error
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		reference, err := e.references.Next(ctx, transfer.Kind)
		if err != nil {
			return err
		}

		lastErr = e.repo.CompleteTransfer(ctx, store.CompleteTransferParams{
			TransferID:  transfer.ID,
			Reference:   reference,
			CompletedAt: e.now(),
			Entries:     entries,
			RecipientID: transfer.RecipientID,
		})
		if !errors.Is(lastErr, store.ErrDuplicateReference) {
			return lastErr
		}
		e.logger.Warn().Str("transfer_id", transfer.ID.String()).Msg("reference collision; drawing a new reference")
	}
	return lastErr
}

// buildEntries returns the ledger postings for a transfer. Debits are negative.
func (e *Executor) buildEntries(transfer *domain.TransferRequest) []domain.LedgerEntry {
	now := e.now()
	if destinationID, ok := transfer.InternalDestinationAccountID(); ok {
		return []domain.LedgerEntry{
			{
				ID:         uuid.New(),
				TransferID: transfer.ID,
				AccountID:  transfer.SourceAccountID,
				Amount:     transfer.Amount.Neg(),
				CreatedAt:  now,
			},
			{
				ID:         uuid.New(),
				TransferID: transfer.ID,
				AccountID:  destinationID,
				Amount:     transfer.Amount,
				CreatedAt:  now,
			},
		}
	}

	return []domain.LedgerEntry{
		{
			ID:         uuid.New(),
			TransferID: transfer.ID,
			AccountID:  transfer.SourceAccountID,
			Amount:     transfer.Total().Neg(),
			CreatedAt:  now,
		},
	}
}

func (e *Executor) handleFailure(ctx context.Context, transfer *domain.TransferRequest, err error) error {
	var execErr *domain.ExecutionError
	switch {
	case errors.Is(err, store.ErrStatusConflict):
		return &domain.ConcurrencyError{Expected: domain.StatusVerified}
	case errors.Is(err, store.ErrTransferNotFound):
		return err
	case errors.Is(err, store.ErrInsufficientFunds):
		execErr = &domain.ExecutionError{Code: domain.ExecutionInsufficientFunds, Err: err}
	case errors.Is(err, store.ErrAccountInactive), errors.Is(err, store.ErrAccountNotFound):
		execErr = &domain.ExecutionError{Code: domain.ExecutionAccountInactive, Err: err}
	default:
		execErr = &domain.ExecutionError{Code: domain.ExecutionPersistenceFailure, Err: err}
	}

	reason := string(execErr.Code)
	if markErr := e.repo.UpdateTransferStatus(ctx, transfer.ID, domain.StatusVerified, domain.StatusFailed, &reason); markErr != nil {
		if errors.Is(markErr, store.ErrStatusConflict) {
			return &domain.ConcurrencyError{Expected: domain.StatusVerified}
		}
		e.logger.Error().Err(markErr).Str("transfer_id", transfer.ID.String()).Msg("failed to mark transfer as failed")
	}

	e.logger.Warn().Err(err).
		Str("transfer_id", transfer.ID.String()).
		Str("code", reason).
		Msg("transfer execution failed")
	return execErr
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
