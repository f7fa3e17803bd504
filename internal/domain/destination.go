package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Destination is the kind-specific payload of a transfer. The set of implementations
// is closed: InternalDestination, DomesticDestination and InternationalDestination.
type Destination interface {
	destination()
}

// InternalDestination moves funds to another account held at this institution.
type InternalDestination struct {
	DestinationAccountID uuid.UUID `json:"destination_account_id"`
}

// DeliveryMethod is the rail a domestic transfer settles on.
type DeliveryMethod string

const (
	DeliveryACH  DeliveryMethod = "ach"
	DeliveryWire DeliveryMethod = "wire"
)

// DomesticDestination is used by both DomesticACH and DomesticWire transfers.
type DomesticDestination struct {
	RecipientName  string         `json:"recipient_name"`
	RecipientBank  string         `json:"recipient_bank"`
	RoutingNumber  string         `json:"routing_number"`
	AccountNumber  string         `json:"account_number"`
	DeliveryMethod DeliveryMethod `json:"delivery_method"`
}

// FeeOption describes who bears correspondent charges on an international wire.
type FeeOption string

const (
	FeeOptionShared      FeeOption = "SHA"
	FeeOptionOur         FeeOption = "OUR"
	FeeOptionBeneficiary FeeOption = "BEN"
)

// Valid reports whether the option is one of SHA, OUR or BEN.
func (o FeeOption) Valid() bool {
	switch o {
	case FeeOptionShared, FeeOptionOur, FeeOptionBeneficiary:
		return true
	}
	return false
}

// InternationalDestination is a SWIFT wire to a foreign bank.
type InternationalDestination struct {
	RecipientName        string    `json:"recipient_name"`
	RecipientAddress     string    `json:"recipient_address"`
	RecipientBank        string    `json:"recipient_bank"`
	RecipientBankAddress string    `json:"recipient_bank_address"`
	SwiftCode            string    `json:"swift_code"`
	IBAN                 string    `json:"iban"`
	IntermediaryBank     *string   `json:"intermediary_bank,omitempty"`
	Currency             string    `json:"currency"`
	FeeOption            FeeOption `json:"fee_option"`
	Purpose              string    `json:"purpose"`
}

func (InternalDestination) destination()      {}
func (DomesticDestination) destination()      {}
func (InternationalDestination) destination() {}

// DecodeDestination parses the raw JSON payload for the given kind into its concrete
// destination type.
func DecodeDestination(kind TransferKind, raw json.RawMessage) (Destination, error) {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil, nil
	}

	switch kind {
	case KindInternal:
		var dest InternalDestination
		if err := json.Unmarshal(raw, &dest); err != nil {
			return nil, fmt.Errorf("decode internal destination: %w", err)
		}
		return dest, nil
	case KindDomesticACH, KindDomesticWire:
		var dest DomesticDestination
		if err := json.Unmarshal(raw, &dest); err != nil {
			return nil, fmt.Errorf("decode domestic destination: %w", err)
		}
		return dest, nil
	case KindInternational:
		var dest InternationalDestination
		if err := json.Unmarshal(raw, &dest); err != nil {
			return nil, fmt.Errorf("decode international destination: %w", err)
		}
		return dest, nil
	default:
		return nil, fmt.Errorf("unknown transfer kind %q", kind)
	}
}

// EncodeDestination serializes a destination for storage.
func EncodeDestination(dest Destination) ([]byte, error) {
	if dest == nil {
		return nil, fmt.Errorf("destination is required")
	}
	return json.Marshal(dest)
}

// MaskAccountNumber keeps only the last four characters of an account number or IBAN.
func MaskAccountNumber(accountNumber string) string {
	return "****" + LastFour(accountNumber)
}

// LastFour returns the trailing four non-space characters of an account identifier.
func LastFour(accountNumber string) string {
	compact := strings.ReplaceAll(strings.TrimSpace(accountNumber), " ", "")
	if len(compact) <= 4 {
		return compact
	}
	return compact[len(compact)-4:]
}
