package app

import (
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
)

// FeeSchedule holds the flat fee charged per transfer kind. Internal transfers and
// ACH are free.
type FeeSchedule struct {
	DomesticWire  decimal.Decimal
	International decimal.Decimal
}

// DefaultFeeSchedule returns the standard fee table.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		DomesticWire:  decimal.RequireFromString("25.00"),
		International: decimal.RequireFromString("45.00"),
	}
}

// FeeFor returns the fee fixed onto a transfer at creation. The international fee
// option (SHA/OUR/BEN) is recorded on the destination but does not change the charge.
func (f FeeSchedule) FeeFor(kind domain.TransferKind) decimal.Decimal {
	switch kind {
	case domain.KindDomesticWire:
		return f.DomesticWire
	case domain.KindInternational:
		return f.International
	default:
		return decimal.Zero
	}
}
