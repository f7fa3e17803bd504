/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the transfer-service. The application layer only
 * talks to this interface, so the PostgreSQL implementation can be swapped for the
 * in-memory one in tests and local development.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountInactive    = errors.New("account is not active")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrChallengeNotFound  = errors.New("verification challenge not found")
	ErrChallengeConsumed  = errors.New("verification challenge already consumed or superseded")
	ErrStatusConflict     = errors.New("transfer status changed concurrently")
	ErrDuplicateReference = errors.New("transfer reference already assigned")
)

// Repository defines the set of methods for interacting with the record store.
type Repository interface {
	// Account methods
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)

	// Transfer methods
	CreateTransfer(ctx context.Context, transfer *domain.TransferRequest) error
	FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error)
	ListTransfersByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.TransferRequest, error)
	ListTransfersByStatusBefore(ctx context.Context, status domain.TransferStatus, before time.Time) ([]domain.TransferRequest, error)
	// UpdateTransferStatus moves a transfer from one status to another. It returns
	// ErrStatusConflict when the transfer is no longer in the expected status.
	UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, from, to domain.TransferStatus, failureReason *string) error
	// CompleteTransfer applies the ledger entries, assigns the reference and moves the
	// transfer from Verified to Completed, all in one unit of work.
	CompleteTransfer(ctx context.Context, params CompleteTransferParams) error
	NextReferenceSequence(ctx context.Context) (int64, error)

	// Verification challenge methods
	// IssueChallenge moves the transfer from Draft to AwaitingVerification and stores
	// the challenge atomically.
	IssueChallenge(ctx context.Context, challenge *domain.VerificationChallenge) error
	// ReplaceChallenge supersedes the previous challenge and stores its replacement.
	ReplaceChallenge(ctx context.Context, previousID uuid.UUID, challenge *domain.VerificationChallenge) error
	FindLatestChallenge(ctx context.Context, transferID uuid.UUID) (*domain.VerificationChallenge, error)
	ListChallengesByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.VerificationChallenge, error)
	RecordChallengeAttempt(ctx context.Context, challengeID uuid.UUID) error
	// ConfirmChallenge consumes the challenge and moves the transfer from
	// AwaitingVerification to Verified in one unit of work.
	ConfirmChallenge(ctx context.Context, challengeID, transferID uuid.UUID, at time.Time) error
	ExpireStaleChallenges(ctx context.Context, now time.Time) (int64, error)

	// Recipient methods
	CreateRecipient(ctx context.Context, recipient *domain.Recipient) error
	FindRecipientByID(ctx context.Context, recipientID uuid.UUID, ownerID string) (*domain.Recipient, error)
	ListRecipientsByOwner(ctx context.Context, ownerID string) ([]domain.Recipient, error)
	DeleteRecipient(ctx context.Context, recipientID uuid.UUID, ownerID string) error

	// Ledger methods
	ListLedgerEntriesByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.LedgerEntry, error)
	ListLedgerEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)
}

// CompleteTransferParams carries everything needed to settle a verified transfer.
type CompleteTransferParams struct {
	TransferID  uuid.UUID
	Reference   string
	CompletedAt time.Time
	Entries     []domain.LedgerEntry
	RecipientID *uuid.UUID
}
