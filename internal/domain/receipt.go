package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReceiptLine is a single label/value row in the kind-specific block of a receipt.
type ReceiptLine struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Receipt is the user-facing projection of a completed transfer.
type Receipt struct {
	TransferID        uuid.UUID     `json:"transfer_id"`
	Kind              TransferKind  `json:"kind"`
	Type              string        `json:"type"`
	Reference         string        `json:"reference"`
	CompletedAt       time.Time     `json:"completed_at"`
	SourceAccountName string        `json:"source_account_name"`
	Amount            string        `json:"amount"`
	Fee               string        `json:"fee,omitempty"`
	Total             string        `json:"total,omitempty"`
	Memo              string        `json:"memo,omitempty"`
	Details           []ReceiptLine `json:"details"`
}

// Detail returns the value of the named detail row, if present.
func (r *Receipt) Detail(label string) (string, bool) {
	for _, line := range r.Details {
		if line.Label == label {
			return line.Value, true
		}
	}
	return "", false
}
