package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
)

type currencyFormat struct {
	symbol   string
	decimals int32
}

var currencyFormats = map[string]currencyFormat{
	"USD": {symbol: "$", decimals: 2},
	"EUR": {symbol: "€", decimals: 2},
	"GBP": {symbol: "£", decimals: 2},
	"JPY": {symbol: "¥", decimals: 0},
	"CNY": {symbol: "CN¥", decimals: 2},
	"INR": {symbol: "₹", decimals: 2},
	"NGN": {symbol: "₦", decimals: 2},
	"CAD": {symbol: "CA$", decimals: 2},
	"AUD": {symbol: "A$", decimals: 2},
	"CHF": {symbol: "CHF ", decimals: 2},
	"MXN": {symbol: "MX$", decimals: 2},
}

var settlementTimes = map[domain.TransferKind]string{
	domain.KindInternal:      "Immediate",
	domain.KindDomesticACH:   "1-3 business days",
	domain.KindDomesticWire:  "Same business day",
	domain.KindInternational: "2-5 business days",
}

type accountFinder interface {
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
}

// ReceiptFormatter projects completed transfers into user-facing receipts.
type ReceiptFormatter struct {
	accounts accountFinder
}

func NewReceiptFormatter(accounts accountFinder) *ReceiptFormatter {
	return &ReceiptFormatter{accounts: accounts}
}

// Format loads the accounts a receipt names and builds it.
func (f *ReceiptFormatter) Format(ctx context.Context, transfer *domain.TransferRequest) (*domain.Receipt, error) {
	source, err := f.accounts.FindAccountByID(ctx, transfer.SourceAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source account: %w", err)
	}

	var destination *domain.Account
	if destinationID, ok := transfer.InternalDestinationAccountID(); ok {
		destination, err = f.accounts.FindAccountByID(ctx, destinationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load destination account: %w", err)
		}
	}

	return BuildReceipt(transfer, source, destination)
}

// BuildReceipt builds the receipt for a Completed transfer. destination is only read
// for internal transfers.
func BuildReceipt(transfer *domain.TransferRequest, source *domain.Account, destination *domain.Account) (*domain.Receipt, error) {
	if transfer.Status != domain.StatusCompleted || transfer.Reference == nil || transfer.CompletedAt == nil {
		return nil, fmt.Errorf("%w: receipts exist only for completed transfers", domain.ErrInvalidTransition)
	}

	receipt := &domain.Receipt{
		TransferID:        transfer.ID,
		Kind:              transfer.Kind,
		Type:              transfer.Kind.Label(),
		Reference:         *transfer.Reference,
		CompletedAt:       *transfer.CompletedAt,
		SourceAccountName: accountName(source),
		Amount:            FormatMoney(transfer.Amount, transfer.Currency),
		Memo:              transfer.Memo,
	}
	if transfer.Fee.IsPositive() {
		receipt.Fee = FormatMoney(transfer.Fee, transfer.Currency)
		receipt.Total = FormatMoney(transfer.Total(), transfer.Currency)
	}

	switch dest := transfer.Destination.(type) {
	case domain.InternalDestination:
		receipt.Details = []domain.ReceiptLine{
			{Label: "To Account", Value: accountName(destination)},
		}
	case domain.DomesticDestination:
		receipt.Details = []domain.ReceiptLine{
			{Label: "Recipient", Value: dest.RecipientName},
			{Label: "Bank", Value: dest.RecipientBank},
			{Label: "Routing Number", Value: dest.RoutingNumber},
		}
	case domain.InternationalDestination:
		receipt.Details = []domain.ReceiptLine{
			{Label: "Recipient", Value: dest.RecipientName},
			{Label: "Bank", Value: dest.RecipientBank},
			{Label: "SWIFT/BIC", Value: dest.SwiftCode},
			{Label: "Account", Value: domain.MaskAccountNumber(dest.IBAN)},
		}
	}
	if settlement, ok := settlementTimes[transfer.Kind]; ok {
		receipt.Details = append(receipt.Details, domain.ReceiptLine{Label: "Settlement", Value: settlement})
	}

	return receipt, nil
}

// FormatMoney renders an amount with its currency symbol and thousands separators.
// Unknown currencies fall back to the raw code, e.g. "XYZ 100.00".
func FormatMoney(amount decimal.Decimal, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	format, ok := currencyFormats[code]
	if !ok {
		return sign + code + " " + groupThousands(amount.Abs().StringFixed(2))
	}
	return sign + format.symbol + groupThousands(amount.Abs().StringFixed(format.decimals))
}

func groupThousands(fixed string) string {
	whole, fraction := fixed, ""
	if idx := strings.IndexByte(fixed, '.'); idx >= 0 {
		whole, fraction = fixed[:idx], fixed[idx:]
	}

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteString(fraction)
	return b.String()
}

func accountName(account *domain.Account) string {
	if account == nil {
		return ""
	}
	return account.DisplayName
}
