package app

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
)

func TestValidateTransfer(t *testing.T) {
	owner := "user_alice"
	source := &domain.Account{ID: uuid.New(), OwnerID: owner, Currency: "USD", Status: domain.AccountActive}
	destination := &domain.Account{ID: uuid.New(), OwnerID: owner, Currency: "USD", Status: domain.AccountActive}

	domestic := func(mutate func(*domain.DomesticDestination)) domain.Destination {
		dest := validDomesticDestination()
		mutate(&dest)
		return dest
	}
	international := func(mutate func(*domain.InternationalDestination)) domain.Destination {
		dest := validInternationalDestination()
		mutate(&dest)
		return dest
	}

	tests := []struct {
		name      string
		kind      domain.TransferKind
		amount    string
		memo      string
		dest      domain.Destination
		source    *domain.Account
		destAcct  *domain.Account
		wantField string
	}{
		{
			name:     "accepts internal transfer",
			kind:     domain.KindInternal,
			amount:   "100.00",
			dest:     domain.InternalDestination{DestinationAccountID: destination.ID},
			source:   source,
			destAcct: destination,
		},
		{
			name:      "rejects same source and destination",
			kind:      domain.KindInternal,
			amount:    "100.00",
			dest:      domain.InternalDestination{DestinationAccountID: source.ID},
			source:    source,
			destAcct:  source,
			wantField: "destination_account_id",
		},
		{
			name:      "rejects destination in another currency",
			kind:      domain.KindInternal,
			amount:    "1.00",
			dest:      domain.InternalDestination{DestinationAccountID: destination.ID},
			source:    source,
			destAcct:  &domain.Account{ID: destination.ID, OwnerID: owner, Currency: "EUR", Status: domain.AccountActive},
			wantField: "destination_account_id",
		},
		{
			name:      "rejects zero amount",
			kind:      domain.KindDomesticACH,
			amount:    "0",
			dest:      domain.Destination(validDomesticDestination()),
			source:    source,
			wantField: "amount",
		},
		{
			name:      "rejects sub-cent amount",
			kind:      domain.KindDomesticACH,
			amount:    "10.001",
			dest:      domain.Destination(validDomesticDestination()),
			source:    source,
			wantField: "amount",
		},
		{
			name:      "rejects long memo",
			kind:      domain.KindDomesticACH,
			amount:    "10.00",
			memo:      strings.Repeat("m", 141),
			dest:      domain.Destination(validDomesticDestination()),
			source:    source,
			wantField: "memo",
		},
		{
			name:   "accepts 140 multibyte characters",
			kind:   domain.KindDomesticACH,
			amount: "10.00",
			memo:   strings.Repeat("é", 140),
			dest:   domain.Destination(validDomesticDestination()),
			source: source,
		},
		{
			name:   "ignores surrounding whitespace in memo",
			kind:   domain.KindDomesticACH,
			amount: "10.00",
			memo:   "  " + strings.Repeat("m", 140) + "\n ",
			dest:   domain.Destination(validDomesticDestination()),
			source: source,
		},
		{
			name:      "rejects 141 multibyte characters",
			kind:      domain.KindDomesticACH,
			amount:    "10.00",
			memo:      strings.Repeat("ü", 141),
			dest:      domain.Destination(validDomesticDestination()),
			source:    source,
			wantField: "memo",
		},
		{
			name:      "rejects source owned by someone else",
			kind:      domain.KindDomesticACH,
			amount:    "10.00",
			dest:      domain.Destination(validDomesticDestination()),
			source:    &domain.Account{ID: uuid.New(), OwnerID: "user_bob", Currency: "USD", Status: domain.AccountActive},
			wantField: "source_account_id",
		},
		{
			name:      "rejects frozen source",
			kind:      domain.KindDomesticACH,
			amount:    "10.00",
			dest:      domain.Destination(validDomesticDestination()),
			source:    &domain.Account{ID: uuid.New(), OwnerID: owner, Currency: "USD", Status: domain.AccountFrozen},
			wantField: "source_account_id",
		},
		{
			name:   "accepts nine digit routing number",
			kind:   domain.KindDomesticWire,
			amount: "10.00",
			dest:   domestic(func(d *domain.DomesticDestination) { d.RoutingNumber = "026009593" }),
			source: source,
		},
		{
			name:      "rejects eight digit routing number",
			kind:      domain.KindDomesticWire,
			amount:    "10.00",
			dest:      domestic(func(d *domain.DomesticDestination) { d.RoutingNumber = "02600959" }),
			source:    source,
			wantField: "routing_number",
		},
		{
			name:      "rejects ten digit routing number",
			kind:      domain.KindDomesticWire,
			amount:    "10.00",
			dest:      domestic(func(d *domain.DomesticDestination) { d.RoutingNumber = "0260095931" }),
			source:    source,
			wantField: "routing_number",
		},
		{
			name:      "rejects routing number with spaces",
			kind:      domain.KindDomesticWire,
			amount:    "10.00",
			dest:      domestic(func(d *domain.DomesticDestination) { d.RoutingNumber = " 026009593" }),
			source:    source,
			wantField: "routing_number",
		},
		{
			name:      "rejects wire delivery on ach transfer",
			kind:      domain.KindDomesticACH,
			amount:    "10.00",
			dest:      domestic(func(d *domain.DomesticDestination) { d.DeliveryMethod = domain.DeliveryWire }),
			source:    source,
			wantField: "delivery_method",
		},
		{
			name:      "rejects domestic destination on international transfer",
			kind:      domain.KindInternational,
			amount:    "10.00",
			dest:      domain.Destination(validDomesticDestination()),
			source:    source,
			wantField: "destination",
		},
		{
			name:   "accepts eleven character swift code",
			kind:   domain.KindInternational,
			amount: "10.00",
			dest:   international(func(d *domain.InternationalDestination) { d.SwiftCode = "BNPAFRPPXXX" }),
			source: source,
		},
		{
			name:   "accepts eight character swift code",
			kind:   domain.KindInternational,
			amount: "10.00",
			dest:   international(func(d *domain.InternationalDestination) { d.SwiftCode = "BNPAFRPP" }),
			source: source,
		},
		{
			name:      "rejects seven character swift code",
			kind:      domain.KindInternational,
			amount:    "10.00",
			dest:      international(func(d *domain.InternationalDestination) { d.SwiftCode = "BNPAFRP" }),
			source:    source,
			wantField: "swift_code",
		},
		{
			name:      "rejects missing purpose",
			kind:      domain.KindInternational,
			amount:    "10.00",
			dest:      international(func(d *domain.InternationalDestination) { d.Purpose = "  " }),
			source:    source,
			wantField: "purpose",
		},
		{
			name:      "rejects unknown fee option",
			kind:      domain.KindInternational,
			amount:    "10.00",
			dest:      international(func(d *domain.InternationalDestination) { d.FeeOption = "ALL" }),
			source:    source,
			wantField: "fee_option",
		},
		{
			name:      "rejects lowercase currency",
			kind:      domain.KindInternational,
			amount:    "10.00",
			dest:      international(func(d *domain.InternationalDestination) { d.Currency = "eur" }),
			source:    source,
			wantField: "currency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ValidationInput{
				OwnerID:            owner,
				Kind:               tt.kind,
				Amount:             decimal.RequireFromString(tt.amount),
				Memo:               tt.memo,
				Destination:        normalizeDestination(tt.kind, tt.dest),
				Source:             tt.source,
				DestinationAccount: tt.destAcct,
			}
			err := ValidateTransfer(in)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			var validationErr *domain.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error on %s, got %v", tt.wantField, err)
			}
			if validationErr.Field != tt.wantField {
				t.Fatalf("expected field %q, got %q (%v)", tt.wantField, validationErr.Field, err)
			}
		})
	}
}

func TestValidateTransfer_IsIdempotent(t *testing.T) {
	source := &domain.Account{ID: uuid.New(), OwnerID: "user_alice", Currency: "USD", Status: domain.AccountActive}
	dest := validDomesticDestination()
	dest.RoutingNumber = "12345"
	in := ValidationInput{
		OwnerID:     "user_alice",
		Kind:        domain.KindDomesticWire,
		Amount:      decimal.RequireFromString("10.00"),
		Destination: normalizeDestination(domain.KindDomesticWire, dest),
		Source:      source,
	}

	first := ValidateTransfer(in)
	second := ValidateTransfer(in)
	if first == nil || second == nil || first.Error() != second.Error() {
		t.Fatalf("expected identical validation errors, got %v and %v", first, second)
	}
}

func TestDestinationMatchesRecipient(t *testing.T) {
	recipient := &domain.Recipient{BankName: "First National", AccountNumberLast4: "6789"}

	tests := []struct {
		name string
		dest domain.Destination
		want bool
	}{
		{name: "same bank and last four", dest: validDomesticDestination(), want: true},
		{name: "bank compared case-insensitively", dest: domain.DomesticDestination{RecipientBank: " first national ", AccountNumber: "555556789"}, want: true},
		{name: "different last four", dest: domain.DomesticDestination{RecipientBank: "First National", AccountNumber: "000123450000"}, want: false},
		{name: "different bank", dest: domain.DomesticDestination{RecipientBank: "Chase", AccountNumber: "000123456789"}, want: false},
		{name: "international by iban", dest: domain.InternationalDestination{RecipientBank: "First National", IBAN: "FR7630006000011234567896789"}, want: true},
		{name: "internal never matches", dest: domain.InternalDestination{DestinationAccountID: uuid.New()}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := destinationMatchesRecipient(tt.dest, recipient); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
