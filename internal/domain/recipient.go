package domain

import (
	"time"

	"github.com/google/uuid"
)

// Recipient is a saved transfer counterparty. Only the last four digits of the
// counterparty account number are retained.
type Recipient struct {
	ID                 uuid.UUID  `json:"id"`
	OwnerID            string     `json:"owner_id"`
	DisplayName        string     `json:"display_name"`
	BankName           string     `json:"bank_name"`
	AccountNumberLast4 string     `json:"account_number_last4"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// SaveRecipientRequest is the DTO for creating a saved recipient.
type SaveRecipientRequest struct {
	DisplayName   string `json:"display_name"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
}
