package app

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type staticIdentity struct {
	user *domain.User
}

func (s staticIdentity) CurrentUser(ctx context.Context) (*domain.User, error) {
	if s.user == nil {
		return nil, ErrUnauthenticated
	}
	return s.user, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []domain.VerificationCodeMessage
	err      error
}

func (n *recordingNotifier) SendVerificationCode(ctx context.Context, msg domain.VerificationCodeMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		t.Fatalf("expected a verification code to be dispatched")
	}
	return n.messages[len(n.messages)-1].Code
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type recordingPublisher struct {
	mu          sync.Mutex
	routingKeys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *recordingPublisher) published(routingKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range p.routingKeys {
		if key == routingKey {
			return true
		}
	}
	return false
}

type serviceFixture struct {
	repo      *store.MemoryRepository
	notifier  *recordingNotifier
	publisher *recordingPublisher
	gate      *Gate
	executor  *Executor
	service   *Service
	user      *domain.User
}

func newServiceFixture(t *testing.T, opts ServiceOptions) *serviceFixture {
	t.Helper()

	phone := "+15555550123"
	user := &domain.User{ID: "user_alice", Email: "alice@example.com", Phone: &phone}
	repo := store.NewMemoryRepository()
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	logger := zerolog.Nop()

	config := DefaultGateConfig()
	config.HashCost = bcrypt.MinCost
	gate := NewGate(repo, notifier, nil, config, logger)
	executor := NewExecutor(repo, NewReferenceGenerator(repo), logger)

	if opts.Fees.DomesticWire.IsZero() && opts.Fees.International.IsZero() {
		opts.Fees = DefaultFeeSchedule()
	}
	if opts.EventsExchange == "" {
		opts.EventsExchange = "transfa.events"
	}

	return &serviceFixture{
		repo:      repo,
		notifier:  notifier,
		publisher: publisher,
		gate:      gate,
		executor:  executor,
		service:   NewService(repo, staticIdentity{user: user}, gate, executor, publisher, opts, logger),
		user:      user,
	}
}

func (f *serviceFixture) seedAccount(t *testing.T, ownerID, currency, balance string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.repo.SeedAccount(domain.Account{
		ID:          id,
		OwnerID:     ownerID,
		DisplayName: "Everyday Checking",
		Currency:    currency,
		Balance:     decimal.RequireFromString(balance),
		Status:      domain.AccountActive,
	})
	return id
}

func (f *serviceFixture) balance(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := f.repo.FindAccountByID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("failed to load account %s: %v", accountID, err)
	}
	return account.Balance
}

func (f *serviceFixture) transferStatus(t *testing.T, transferID uuid.UUID) domain.TransferStatus {
	t.Helper()
	transfer, err := f.repo.FindTransferByID(context.Background(), transferID)
	if err != nil {
		t.Fatalf("failed to load transfer %s: %v", transferID, err)
	}
	return transfer.Status
}

func validDomesticDestination() domain.DomesticDestination {
	return domain.DomesticDestination{
		RecipientName: "Bob Builder",
		RecipientBank: "First National",
		RoutingNumber: "026009593",
		AccountNumber: "000123456789",
	}
}

func validInternationalDestination() domain.InternationalDestination {
	return domain.InternationalDestination{
		RecipientName:        "Chloé Martin",
		RecipientAddress:     "12 Rue de Rivoli, Paris",
		RecipientBank:        "BNP Paribas",
		RecipientBankAddress: "16 Boulevard des Italiens, Paris",
		SwiftCode:            "BNPAFRPPXXX",
		IBAN:                 "FR7630006000011234567890189",
		Currency:             "EUR",
		FeeOption:            domain.FeeOptionShared,
		Purpose:              "Family support",
	}
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", raw, err)
	}
	return d
}
