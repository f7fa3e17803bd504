package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
)

// MemoryRepository is an in-memory implementation of Repository. A single mutex guards
// all state, which makes every multi-record operation atomic. It backs the test suite
// and STORE_DRIVER=memory for local development.
type MemoryRepository struct {
	mu         sync.RWMutex
	accounts   map[uuid.UUID]domain.Account
	transfers  map[uuid.UUID]domain.TransferRequest
	challenges map[uuid.UUID][]domain.VerificationChallenge
	recipients map[uuid.UUID]domain.Recipient
	entries    []domain.LedgerEntry
	references map[string]uuid.UUID
	sequence   int64
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:   make(map[uuid.UUID]domain.Account),
		transfers:  make(map[uuid.UUID]domain.TransferRequest),
		challenges: make(map[uuid.UUID][]domain.VerificationChallenge),
		recipients: make(map[uuid.UUID]domain.Recipient),
		entries:    make([]domain.LedgerEntry, 0),
		references: make(map[string]uuid.UUID),
	}
}

// SeedAccount stores an account. Account lifecycle is owned by another service, so this
// is only used to populate the store for tests and local runs. The seeded balance
// becomes the opening balance.
func (m *MemoryRepository) SeedAccount(account domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account.OpeningBalance = account.Balance
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	m.accounts[account.ID] = account
}

func (m *MemoryRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

func (m *MemoryRepository) CreateTransfer(ctx context.Context, transfer *domain.TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transfers[transfer.ID] = *transfer
	return nil
}

func (m *MemoryRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	transfer, ok := m.transfers[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return &transfer, nil
}

func (m *MemoryRepository) ListTransfersByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.TransferRequest, 0)
	for _, t := range m.transfers {
		if t.OwnerID == ownerID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if offset >= len(result) {
		return []domain.TransferRequest{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryRepository) ListTransfersByStatusBefore(ctx context.Context, status domain.TransferStatus, before time.Time) ([]domain.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.TransferRequest, 0)
	for _, t := range m.transfers {
		if t.Status == status && t.UpdatedAt.Before(before) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

func (m *MemoryRepository) UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, from, to domain.TransferStatus, failureReason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transfer, ok := m.transfers[transferID]
	if !ok {
		return ErrTransferNotFound
	}
	if transfer.Status != from {
		return ErrStatusConflict
	}
	transfer.Status = to
	transfer.UpdatedAt = time.Now().UTC()
	if failureReason != nil {
		reason := *failureReason
		transfer.FailureReason = &reason
	}
	m.transfers[transferID] = transfer
	return nil
}

func (m *MemoryRepository) CompleteTransfer(ctx context.Context, params CompleteTransferParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transfer, ok := m.transfers[params.TransferID]
	if !ok {
		return ErrTransferNotFound
	}
	if transfer.Status != domain.StatusVerified {
		return ErrStatusConflict
	}
	if _, taken := m.references[params.Reference]; taken {
		return ErrDuplicateReference
	}

	// Stage balance changes first so a failed check leaves nothing half-applied.
	staged := make(map[uuid.UUID]decimal.Decimal)
	for _, entry := range params.Entries {
		account, ok := m.accounts[entry.AccountID]
		if !ok {
			return ErrAccountNotFound
		}
		if !account.IsActive() {
			return ErrAccountInactive
		}
		current, seen := staged[entry.AccountID]
		if !seen {
			current = account.Balance
		}
		staged[entry.AccountID] = current.Add(entry.Amount)
	}
	for accountID, balance := range staged {
		if balance.IsNegative() && balance.LessThan(m.accounts[accountID].Balance) {
			return ErrInsufficientFunds
		}
	}

	for accountID, balance := range staged {
		account := m.accounts[accountID]
		account.Balance = balance
		m.accounts[accountID] = account
	}
	m.entries = append(m.entries, params.Entries...)

	reference := params.Reference
	completedAt := params.CompletedAt
	transfer.Status = domain.StatusCompleted
	transfer.Reference = &reference
	transfer.CompletedAt = &completedAt
	transfer.UpdatedAt = completedAt
	m.transfers[transfer.ID] = transfer
	m.references[reference] = transfer.ID

	if params.RecipientID != nil {
		if recipient, ok := m.recipients[*params.RecipientID]; ok {
			usedAt := completedAt
			recipient.LastUsedAt = &usedAt
			m.recipients[recipient.ID] = recipient
		}
	}
	return nil
}

func (m *MemoryRepository) NextReferenceSequence(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	return m.sequence, nil
}

func (m *MemoryRepository) IssueChallenge(ctx context.Context, challenge *domain.VerificationChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transfer, ok := m.transfers[challenge.TransferID]
	if !ok {
		return ErrTransferNotFound
	}
	if transfer.Status != domain.StatusDraft {
		return ErrStatusConflict
	}
	transfer.Status = domain.StatusAwaitingVerification
	transfer.UpdatedAt = challenge.CreatedAt
	m.transfers[transfer.ID] = transfer
	m.challenges[challenge.TransferID] = append(m.challenges[challenge.TransferID], *challenge)
	return nil
}

func (m *MemoryRepository) ReplaceChallenge(ctx context.Context, previousID uuid.UUID, challenge *domain.VerificationChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.challenges[challenge.TransferID]
	idx := -1
	for i := range chain {
		if chain[i].ID == previousID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrChallengeNotFound
	}
	if chain[idx].Consumed || chain[idx].SupersededAt != nil {
		return ErrChallengeConsumed
	}

	supersededAt := challenge.CreatedAt
	chain[idx].SupersededAt = &supersededAt
	m.challenges[challenge.TransferID] = append(chain, *challenge)
	return nil
}

func (m *MemoryRepository) FindLatestChallenge(ctx context.Context, transferID uuid.UUID) (*domain.VerificationChallenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.challenges[transferID]
	if len(chain) == 0 {
		return nil, ErrChallengeNotFound
	}
	latest := chain[len(chain)-1]
	return &latest, nil
}

func (m *MemoryRepository) ListChallengesByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.VerificationChallenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.challenges[transferID]
	copied := make([]domain.VerificationChallenge, len(chain))
	copy(copied, chain)
	return copied, nil
}

func (m *MemoryRepository) RecordChallengeAttempt(ctx context.Context, challengeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for transferID, chain := range m.challenges {
		for i := range chain {
			if chain[i].ID == challengeID {
				chain[i].Attempts++
				m.challenges[transferID] = chain
				return nil
			}
		}
	}
	return ErrChallengeNotFound
}

func (m *MemoryRepository) ConfirmChallenge(ctx context.Context, challengeID, transferID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.challenges[transferID]
	idx := -1
	for i := range chain {
		if chain[i].ID == challengeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrChallengeNotFound
	}
	if chain[idx].Consumed || chain[idx].SupersededAt != nil {
		return ErrChallengeConsumed
	}

	transfer, ok := m.transfers[transferID]
	if !ok {
		return ErrTransferNotFound
	}
	if transfer.Status != domain.StatusAwaitingVerification {
		return ErrStatusConflict
	}

	consumedAt := at
	chain[idx].Consumed = true
	chain[idx].ConsumedAt = &consumedAt
	m.challenges[transferID] = chain

	transfer.Status = domain.StatusVerified
	transfer.UpdatedAt = at
	m.transfers[transferID] = transfer
	return nil
}

func (m *MemoryRepository) ExpireStaleChallenges(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired int64
	for transferID, chain := range m.challenges {
		for i := range chain {
			c := &chain[i]
			if c.Consumed || c.SupersededAt != nil || c.ExpiredAt != nil || !c.IsExpired(now) {
				continue
			}
			expiredAt := now
			c.ExpiredAt = &expiredAt
			expired++
		}
		m.challenges[transferID] = chain
	}
	return expired, nil
}

func (m *MemoryRepository) CreateRecipient(ctx context.Context, recipient *domain.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recipients[recipient.ID] = *recipient
	return nil
}

func (m *MemoryRepository) FindRecipientByID(ctx context.Context, recipientID uuid.UUID, ownerID string) (*domain.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recipient, ok := m.recipients[recipientID]
	if !ok || recipient.OwnerID != ownerID {
		return nil, ErrRecipientNotFound
	}
	return &recipient, nil
}

func (m *MemoryRepository) ListRecipientsByOwner(ctx context.Context, ownerID string) ([]domain.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.Recipient, 0)
	for _, r := range m.recipients {
		if r.OwnerID == ownerID {
			result = append(result, r)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.LastUsedAt != nil && b.LastUsedAt != nil:
			if !a.LastUsedAt.Equal(*b.LastUsedAt) {
				return a.LastUsedAt.After(*b.LastUsedAt)
			}
		case a.LastUsedAt != nil:
			return true
		case b.LastUsedAt != nil:
			return false
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return result, nil
}

func (m *MemoryRepository) DeleteRecipient(ctx context.Context, recipientID uuid.UUID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recipient, ok := m.recipients[recipientID]
	if !ok || recipient.OwnerID != ownerID {
		return ErrRecipientNotFound
	}
	delete(m.recipients, recipientID)
	return nil
}

func (m *MemoryRepository) ListLedgerEntriesByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.LedgerEntry, 0)
	for _, e := range m.entries {
		if e.TransferID == transferID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryRepository) ListLedgerEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.LedgerEntry, 0)
	for _, e := range m.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

// Compile-time check: ensure MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)
