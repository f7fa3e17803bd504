package app

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
)

const (
	routingNumberLength = 9
	swiftMinLength      = 8
	swiftMaxLength      = 11
	maxMemoLength       = 140
)

// ValidationInput is everything the validator looks at. Accounts are resolved by the
// caller so that validation itself stays free of I/O.
type ValidationInput struct {
	OwnerID            string
	Kind               domain.TransferKind
	Amount             decimal.Decimal
	Memo               string
	Destination        domain.Destination
	Source             *domain.Account
	DestinationAccount *domain.Account
}

// ValidateTransfer checks a transfer request against the rules for its kind and returns
// the first *domain.ValidationError found, or nil.
func ValidateTransfer(in ValidationInput) error {
	switch in.Kind {
	case domain.KindInternal, domain.KindDomesticACH, domain.KindDomesticWire, domain.KindInternational:
	default:
		return domain.NewValidationError("kind", "unsupported transfer kind")
	}

	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Memo)) > maxMemoLength {
		return domain.NewValidationError("memo", "must be at most 140 characters")
	}
	if err := validateSource(in.OwnerID, in.Source); err != nil {
		return err
	}
	if in.Destination == nil {
		return domain.NewValidationError("destination", "is required")
	}

	switch dest := in.Destination.(type) {
	case domain.InternalDestination:
		if in.Kind != domain.KindInternal {
			return domain.NewValidationError("destination", "does not match transfer kind")
		}
		return validateInternal(in, dest)
	case domain.DomesticDestination:
		if in.Kind != domain.KindDomesticACH && in.Kind != domain.KindDomesticWire {
			return domain.NewValidationError("destination", "does not match transfer kind")
		}
		return validateDomestic(in.Kind, dest)
	case domain.InternationalDestination:
		if in.Kind != domain.KindInternational {
			return domain.NewValidationError("destination", "does not match transfer kind")
		}
		return validateInternational(dest)
	default:
		return domain.NewValidationError("destination", "unsupported destination")
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.NewValidationError("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return domain.NewValidationError("amount", "must have at most two decimal places")
	}
	return nil
}

func validateSource(ownerID string, source *domain.Account) error {
	if source == nil {
		return domain.NewValidationError("source_account_id", "account not found")
	}
	if source.OwnerID != ownerID {
		return domain.NewValidationError("source_account_id", "account does not belong to the caller")
	}
	if !source.IsActive() {
		return domain.NewValidationError("source_account_id", "account is not active")
	}
	return nil
}

func validateInternal(in ValidationInput, dest domain.InternalDestination) error {
	if dest.DestinationAccountID == in.Source.ID {
		return domain.NewValidationError("destination_account_id", "must differ from the source account")
	}
	target := in.DestinationAccount
	if target == nil || target.ID != dest.DestinationAccountID {
		return domain.NewValidationError("destination_account_id", "account not found")
	}
	if target.OwnerID != in.OwnerID {
		return domain.NewValidationError("destination_account_id", "account does not belong to the caller")
	}
	if !target.IsActive() {
		return domain.NewValidationError("destination_account_id", "account is not active")
	}
	if target.Currency != in.Source.Currency {
		return domain.NewValidationError("destination_account_id", "account currency differs from the source account")
	}
	return nil
}

func validateDomestic(kind domain.TransferKind, dest domain.DomesticDestination) error {
	if dest.RoutingNumber == "" {
		return domain.NewValidationError("routing_number", "is required")
	}
	if len(dest.RoutingNumber) != routingNumberLength || !allDigits(dest.RoutingNumber) {
		return domain.NewValidationError("routing_number", "must be exactly 9 digits")
	}
	if isBlank(dest.AccountNumber) {
		return domain.NewValidationError("account_number", "is required")
	}
	if isBlank(dest.RecipientName) {
		return domain.NewValidationError("recipient_name", "is required")
	}
	if isBlank(dest.RecipientBank) {
		return domain.NewValidationError("recipient_bank", "is required")
	}

	expected := domain.DeliveryACH
	if kind == domain.KindDomesticWire {
		expected = domain.DeliveryWire
	}
	if dest.DeliveryMethod != expected {
		return domain.NewValidationError("delivery_method", "must be "+string(expected)+" for this transfer kind")
	}
	return nil
}

func validateInternational(dest domain.InternationalDestination) error {
	if len(dest.SwiftCode) < swiftMinLength || len(dest.SwiftCode) > swiftMaxLength || !allAlphanumeric(dest.SwiftCode) {
		return domain.NewValidationError("swift_code", "must be 8 to 11 letters or digits")
	}
	if isBlank(dest.IBAN) {
		return domain.NewValidationError("iban", "is required")
	}
	if isBlank(dest.RecipientName) {
		return domain.NewValidationError("recipient_name", "is required")
	}
	if isBlank(dest.RecipientAddress) {
		return domain.NewValidationError("recipient_address", "is required")
	}
	if isBlank(dest.RecipientBank) {
		return domain.NewValidationError("recipient_bank", "is required")
	}
	if isBlank(dest.Purpose) {
		return domain.NewValidationError("purpose", "is required")
	}
	if !dest.FeeOption.Valid() {
		return domain.NewValidationError("fee_option", "must be one of SHA, OUR or BEN")
	}
	if len(dest.Currency) != 3 || !allUpperLetters(dest.Currency) {
		return domain.NewValidationError("currency", "must be a three-letter ISO code")
	}
	return nil
}

// normalizeDestination fills in defaults that the client may omit. It never rewrites a
// value the client did send, so malformed input still reaches the validator unchanged.
func normalizeDestination(kind domain.TransferKind, dest domain.Destination) domain.Destination {
	switch d := dest.(type) {
	case domain.DomesticDestination:
		if d.DeliveryMethod == "" {
			switch kind {
			case domain.KindDomesticACH:
				d.DeliveryMethod = domain.DeliveryACH
			case domain.KindDomesticWire:
				d.DeliveryMethod = domain.DeliveryWire
			}
		}
		return d
	case domain.InternationalDestination:
		if d.FeeOption == "" {
			d.FeeOption = domain.FeeOptionShared
		}
		return d
	default:
		return dest
	}
}

// destinationMatchesRecipient reports whether dest is the account a saved recipient
// points at. Recipients only keep the bank name and the last four digits, so those
// are what is compared. Internal destinations never match a saved recipient.
func destinationMatchesRecipient(dest domain.Destination, recipient *domain.Recipient) bool {
	var bank, account string
	switch d := dest.(type) {
	case domain.DomesticDestination:
		bank, account = d.RecipientBank, d.AccountNumber
	case domain.InternationalDestination:
		bank, account = d.RecipientBank, d.IBAN
	default:
		return false
	}
	return strings.EqualFold(strings.TrimSpace(bank), strings.TrimSpace(recipient.BankName)) &&
		domain.LastFour(account) == recipient.AccountNumberLast4
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

func allUpperLetters(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
