package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

type executorRepoStub struct {
	store.Repository

	transfer *domain.TransferRequest

	completeErrs    []error
	completeCalls   int
	references      []string
	sequence        int64
	markedFailed    bool
	failureReason   string
	markFailedError error
}

func (s *executorRepoStub) NextReferenceSequence(ctx context.Context) (int64, error) {
	s.sequence++
	return s.sequence, nil
}

func (s *executorRepoStub) CompleteTransfer(ctx context.Context, params store.CompleteTransferParams) error {
	s.completeCalls++
	s.references = append(s.references, params.Reference)
	if len(s.completeErrs) > 0 {
		err := s.completeErrs[0]
		s.completeErrs = s.completeErrs[1:]
		if err != nil {
			return err
		}
	}
	reference := params.Reference
	completedAt := params.CompletedAt
	s.transfer.Status = domain.StatusCompleted
	s.transfer.Reference = &reference
	s.transfer.CompletedAt = &completedAt
	return nil
}

func (s *executorRepoStub) UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, from, to domain.TransferStatus, failureReason *string) error {
	if s.markFailedError != nil {
		return s.markFailedError
	}
	s.markedFailed = to == domain.StatusFailed
	if failureReason != nil {
		s.failureReason = *failureReason
	}
	s.transfer.Status = to
	return nil
}

func (s *executorRepoStub) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error) {
	copied := *s.transfer
	return &copied, nil
}

func newVerifiedWire() *domain.TransferRequest {
	return &domain.TransferRequest{
		ID:              uuid.New(),
		OwnerID:         "user_alice",
		Kind:            domain.KindDomesticWire,
		SourceAccountID: uuid.New(),
		Destination:     validDomesticDestination(),
		Amount:          decimal.RequireFromString("100"),
		Fee:             decimal.RequireFromString("25"),
		Currency:        "USD",
		Status:          domain.StatusVerified,
	}
}

func TestExecutor_ExternalTransferDebitsTotal(t *testing.T) {
	transfer := newVerifiedWire()
	repo := &executorRepoStub{transfer: transfer}
	executor := NewExecutor(repo, NewReferenceGenerator(repo), zerolog.Nop())

	entries := executor.buildEntries(transfer)
	if len(entries) != 1 {
		t.Fatalf("expected a single debit for an external transfer, got %d", len(entries))
	}
	if !entries[0].Amount.Equal(decimal.RequireFromString("-125")) {
		t.Fatalf("expected debit of amount plus fee, got %s", entries[0].Amount)
	}

	completed, err := executor.Execute(context.Background(), transfer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.Status != domain.StatusCompleted || completed.Reference == nil {
		t.Fatalf("expected completed transfer with reference, got %+v", completed)
	}
}

func TestExecutor_RetriesReferenceCollision(t *testing.T) {
	transfer := newVerifiedWire()
	repo := &executorRepoStub{transfer: transfer, completeErrs: []error{store.ErrDuplicateReference, nil}}
	executor := NewExecutor(repo, NewReferenceGenerator(repo), zerolog.Nop())

	if _, err := executor.Execute(context.Background(), transfer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.completeCalls != 2 {
		t.Fatalf("expected a second attempt after the collision, got %d calls", repo.completeCalls)
	}
	if repo.references[0] == repo.references[1] {
		t.Fatalf("expected a fresh reference on retry, got %q twice", repo.references[0])
	}
}

func TestExecutor_PersistenceFailureMarksTransferFailed(t *testing.T) {
	transfer := newVerifiedWire()
	repo := &executorRepoStub{transfer: transfer, completeErrs: []error{errors.New("connection reset")}}
	executor := NewExecutor(repo, NewReferenceGenerator(repo), zerolog.Nop())

	_, err := executor.Execute(context.Background(), transfer)
	if !errors.Is(err, domain.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if repo.completeCalls != 1 {
		t.Fatalf("expected no automatic retry, got %d calls", repo.completeCalls)
	}
	if !repo.markedFailed || repo.failureReason != string(domain.ExecutionPersistenceFailure) {
		t.Fatalf("expected transfer to be marked failed with persistence_failure, got marked=%t reason=%q", repo.markedFailed, repo.failureReason)
	}
}

func TestExecutor_InactiveAccountFailsTransfer(t *testing.T) {
	transfer := newVerifiedWire()
	repo := &executorRepoStub{transfer: transfer, completeErrs: []error{store.ErrAccountInactive}}
	executor := NewExecutor(repo, NewReferenceGenerator(repo), zerolog.Nop())

	_, err := executor.Execute(context.Background(), transfer)
	if !errors.Is(err, domain.ErrAccountInactive) {
		t.Fatalf("expected account inactive, got %v", err)
	}
	if !errors.Is(err, store.ErrAccountInactive) {
		t.Fatalf("expected the store cause to be preserved, got %v", err)
	}
}

func TestExecutor_StatusConflictLeavesTransferAlone(t *testing.T) {
	transfer := newVerifiedWire()
	repo := &executorRepoStub{transfer: transfer, completeErrs: []error{store.ErrStatusConflict}}
	executor := NewExecutor(repo, NewReferenceGenerator(repo), zerolog.Nop())

	_, err := executor.Execute(context.Background(), transfer)
	var concurrencyErr *domain.ConcurrencyError
	if !errors.As(err, &concurrencyErr) {
		t.Fatalf("expected concurrency error, got %v", err)
	}
	if repo.markedFailed {
		t.Fatalf("expected a lost race not to mark the transfer failed")
	}
}

func TestExecutor_FailedMarkLosingRaceReturnsConcurrencyError(t *testing.T) {
	transfer := newVerifiedWire()
	repo := &executorRepoStub{
		transfer:        transfer,
		completeErrs:    []error{store.ErrInsufficientFunds},
		markFailedError: store.ErrStatusConflict,
	}
	executor := NewExecutor(repo, NewReferenceGenerator(repo), zerolog.Nop())

	_, err := executor.Execute(context.Background(), transfer)
	if !errors.Is(err, domain.ErrConflictingUpdate) {
		t.Fatalf("expected conflicting update, got %v", err)
	}
}

func TestExecutor_RejectsUnverifiedTransfer(t *testing.T) {
	transfer := newVerifiedWire()
	transfer.Status = domain.StatusAwaitingVerification
	repo := &executorRepoStub{transfer: transfer}
	executor := NewExecutor(repo, NewReferenceGenerator(repo), zerolog.Nop())

	if _, err := executor.Execute(context.Background(), transfer); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if repo.completeCalls != 0 {
		t.Fatalf("expected no posting for an unverified transfer")
	}
}
