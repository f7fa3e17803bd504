/**
 * @description
 * This file defines the core domain models for the transfer-service: the transfer
 * request and its status machine, the accounts money moves between, and the
 * ledger entries written when an internal transfer settles.
 *
 * @notes
 * - Amounts are `decimal.Decimal` so that fees, balances and ledger sums never pass
 *   through floating point.
 * - A TransferRequest is never deleted. It is mutated only through its status machine
 *   and kept as the audit record of the money movement.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferKind classifies a transfer. It is fixed at creation.
type TransferKind string

const (
	KindInternal      TransferKind = "internal"
	KindDomesticACH   TransferKind = "domestic_ach"
	KindDomesticWire  TransferKind = "domestic_wire"
	KindInternational TransferKind = "international"
)

// ParseTransferKind normalizes user input into a TransferKind.
func ParseTransferKind(raw string) (TransferKind, error) {
	kind := TransferKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case KindInternal, KindDomesticACH, KindDomesticWire, KindInternational:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown transfer kind %q", raw)
	}
}

// RequiresVerification reports whether transfers of this kind must pass the
// out-of-band verification gate before they can execute.
func (k TransferKind) RequiresVerification() bool {
	return k != KindInternal
}

// Label is the human readable name used on receipts.
func (k TransferKind) Label() string {
	switch k {
	case KindInternal:
		return "Internal Transfer"
	case KindDomesticACH:
		return "Domestic Transfer (ACH)"
	case KindDomesticWire:
		return "Domestic Wire Transfer"
	case KindInternational:
		return "International Wire Transfer"
	default:
		return string(k)
	}
}

// TransferStatus is the lifecycle state of a TransferRequest.
type TransferStatus string

const (
	StatusDraft                TransferStatus = "draft"
	StatusAwaitingVerification TransferStatus = "awaiting_verification"
	StatusVerified             TransferStatus = "verified"
	StatusCompleted            TransferStatus = "completed"
	StatusFailed               TransferStatus = "failed"
)

var allowedTransitions = map[TransferStatus][]TransferStatus{
	StatusDraft:                {StatusAwaitingVerification, StatusVerified, StatusFailed},
	StatusAwaitingVerification: {StatusVerified, StatusFailed},
	StatusVerified:             {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether nothing may leave this status.
func (s TransferStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the status machine allows moving from s to next.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransferRequest is the central record for a single money movement.
// This struct maps directly to the `transfers` table in the database.
type TransferRequest struct {
	ID              uuid.UUID       `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Kind            TransferKind    `json:"kind"`
	SourceAccountID uuid.UUID       `json:"source_account_id"`
	Destination     Destination     `json:"destination"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Fee             decimal.Decimal `json:"fee"`
	Memo            string          `json:"memo,omitempty"`
	RecipientID     *uuid.UUID      `json:"recipient_id,omitempty"`
	Status          TransferStatus  `json:"status"`
	Reference       *string         `json:"reference,omitempty"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Total is the amount leaving the source account, fee included.
func (t *TransferRequest) Total() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}

// InternalDestinationAccountID returns the destination account of an internal transfer.
func (t *TransferRequest) InternalDestinationAccountID() (uuid.UUID, bool) {
	dest, ok := t.Destination.(InternalDestination)
	if !ok {
		return uuid.Nil, false
	}
	return dest.DestinationAccountID, true
}

// SubmitTransferRequest is the DTO for incoming transfer requests, both for dry-run
// validation and for submission.
type SubmitTransferRequest struct {
	Kind            TransferKind    `json:"kind"`
	SourceAccountID uuid.UUID       `json:"source_account_id"`
	Destination     Destination     `json:"-"`
	Amount          decimal.Decimal `json:"amount"`
	Memo            string          `json:"memo"`
	RecipientID     *uuid.UUID      `json:"recipient_id,omitempty"`
}

// AccountStatus is the operational state of an account.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// Account represents a customer deposit account held at this institution.
type Account struct {
	ID             uuid.UUID       `json:"id"`
	OwnerID        string          `json:"owner_id"`
	DisplayName    string          `json:"display_name"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	// OpeningBalance is the balance the account was created with. It plus the
	// account's ledger entries always equals Balance.
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Status         AccountStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsActive reports whether the account may send or receive funds.
func (a *Account) IsActive() bool {
	return a != nil && a.Status == AccountActive
}

// LedgerEntry is one side of a double-entry posting. Debits carry a negative amount
// and credits a positive one, so the entries of a transfer sum to zero.
type LedgerEntry struct {
	ID         uuid.UUID       `json:"id"`
	TransferID uuid.UUID       `json:"transfer_id"`
	AccountID  uuid.UUID       `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IsDebit reports whether the entry removes money from its account.
func (e LedgerEntry) IsDebit() bool {
	return e.Amount.IsNegative()
}

// User is the authenticated caller as reported by the identity provider.
type User struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Phone *string `json:"phone,omitempty"`
}
