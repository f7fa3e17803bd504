/**
 * @description
 * This file contains the transfer orchestrator. The `Service` struct is the only entry
 * point the API layer uses: it validates requests, persists drafts, routes
 * cross-institution transfers through the verification gate, hands verified transfers
 * to the executor and projects completed ones into receipts.
 *
 * Key features:
 * - Internal transfers skip verification and go straight from Draft to Verified.
 * - A configured allow-list of bypass identities may skip code issuance. Every bypass
 *   is audit-logged.
 * - Abandoned verifications are left in AwaitingVerification. They are reported, never
 *   failed automatically and never resumed after expiry.
 * - Lifecycle events are published fire-and-forget to the configured broker.
 *
 * @dependencies
 * - github.com/rs/zerolog: Structured logging.
 * - github.com/shopspring/decimal: Money arithmetic.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ErrUnauthenticated is returned when no caller identity is available.
var ErrUnauthenticated = errors.New("no authenticated user")

// IdentityProvider reports the authenticated caller.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (*domain.User, error)
}

// ServiceOptions carries the orchestrator's configuration.
type ServiceOptions struct {
	Fees           FeeSchedule
	BypassUserIDs  []string
	EventsExchange string
}

// VerificationStatus is returned from issuing or resending a verification code.
type VerificationStatus struct {
	Transfer  *domain.TransferRequest `json:"transfer"`
	Required  bool                    `json:"required"`
	Bypassed  bool                    `json:"bypassed"`
	Channel   domain.ChannelKind      `json:"channel,omitempty"`
	SentTo    string                  `json:"sent_to,omitempty"`
	ExpiresAt *time.Time              `json:"expires_at,omitempty"`
}

// AccountBalance compares the stored balance of an account with the sum of its ledger.
type AccountBalance struct {
	AccountID      uuid.UUID       `json:"account_id"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	// LedgerBalance is the opening balance plus every ledger entry of the account.
	LedgerBalance  decimal.Decimal `json:"ledger_balance"`
	EntryCount     int             `json:"entry_count"`
}

// Service provides the core business logic for transfers.
type Service struct {
	repo           store.Repository
	identity       IdentityProvider
	gate           *Gate
	executor       *Executor
	receipts       *ReceiptFormatter
	recipients     *RecipientRegistry
	publisher      EventPublisher
	fees           FeeSchedule
	bypass         map[string]struct{}
	eventsExchange string
	logger         zerolog.Logger
	now            func() time.Time
}

// NewService creates a new transfer orchestrator.
func NewService(
	repo store.Repository,
	identity IdentityProvider,
	gate *Gate,
	executor *Executor,
	publisher EventPublisher,
	opts ServiceOptions,
	logger zerolog.Logger,
) *Service {
	bypass := make(map[string]struct{}, len(opts.BypassUserIDs))
	for _, id := range opts.BypassUserIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			bypass[trimmed] = struct{}{}
		}
	}
	if publisher == nil {
		publisher = NewNoopPublisher(logger)
	}

	return &Service{
		repo:           repo,
		identity:       identity,
		gate:           gate,
		executor:       executor,
		receipts:       NewReceiptFormatter(repo),
		recipients:     NewRecipientRegistry(repo),
		publisher:      publisher,
		fees:           opts.Fees,
		bypass:         bypass,
		eventsExchange: opts.EventsExchange,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Validate runs the validator against a request without persisting anything. Calling
// it repeatedly with the same input yields the same result.
func (s *Service) Validate(ctx context.Context, req domain.SubmitTransferRequest) error {
	user, err := s.currentUser(ctx)
	if err != nil {
		return err
	}
	_, _, err = s.validate(ctx, user, req)
	return err
}

// Submit validates a request and persists it as a Draft. Internal transfers are moved
// straight to Verified. Invalid requests are never persisted.
func (s *Service) Submit(ctx context.Context, req domain.SubmitTransferRequest) (*domain.TransferRequest, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	source, dest, err := s.validate(ctx, user, req)
	if err != nil {
		return nil, err
	}

	if req.RecipientID != nil {
		recipient, err := s.recipients.Resolve(ctx, user.ID, *req.RecipientID)
		if err != nil {
			if errors.Is(err, store.ErrRecipientNotFound) {
				return nil, domain.NewValidationError("recipient_id", "recipient not found")
			}
			return nil, fmt.Errorf("failed to resolve recipient: %w", err)
		}
		if !destinationMatchesRecipient(dest, recipient) {
			return nil, domain.NewValidationError("recipient_id", "destination does not match the saved recipient")
		}
	}

	now := s.now()
	transfer := &domain.TransferRequest{
		ID:              uuid.New(),
		OwnerID:         user.ID,
		Kind:            req.Kind,
		SourceAccountID: source.ID,
		Destination:     dest,
		Amount:          req.Amount,
		Currency:        source.Currency,
		Fee:             s.fees.FeeFor(req.Kind),
		Memo:            strings.TrimSpace(req.Memo),
		RecipientID:     req.RecipientID,
		Status:          domain.StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		s.logger.Error().Err(err).Str("owner_id", user.ID).Msg("failed to create transfer")
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	s.logger.Info().
		Str("transfer_id", transfer.ID.String()).
		Str("owner_id", user.ID).
		Str("kind", string(transfer.Kind)).
		Str("amount", transfer.Amount.StringFixed(2)).
		Str("fee", transfer.Fee.StringFixed(2)).
		Msg("transfer submitted")
	s.publish(ctx, domain.EventTransferSubmitted, transfer)

	if !transfer.Kind.RequiresVerification() {
		if err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.StatusDraft, domain.StatusVerified, nil); err != nil {
			return nil, s.mapStatusError(err, domain.StatusDraft)
		}
		transfer.Status = domain.StatusVerified
		s.publish(ctx, domain.EventTransferVerified, transfer)
	}

	return transfer, nil
}

// IssueVerification sends the first verification code for a Draft transfer. An empty
// channel picks SMS when the caller has a phone number and email otherwise.
func (s *Service) IssueVerification(ctx context.Context, transferID uuid.UUID, channel domain.ChannelKind) (*VerificationStatus, error) {
	user, transfer, err := s.ownedTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}

	if !transfer.Kind.RequiresVerification() {
		return &VerificationStatus{Transfer: transfer, Required: false}, nil
	}

	if s.isBypassIdentity(user.ID) && transfer.Status == domain.StatusDraft {
		if err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.StatusDraft, domain.StatusVerified, nil); err != nil {
			return nil, s.mapStatusError(err, domain.StatusDraft)
		}
		transfer.Status = domain.StatusVerified
		s.logger.Warn().
			Str("audit", "verification_bypass").
			Str("transfer_id", transfer.ID.String()).
			Str("owner_id", user.ID).
			Str("kind", string(transfer.Kind)).
			Str("amount", transfer.Amount.StringFixed(2)).
			Msg("verification bypassed for allow-listed identity")
		s.publish(ctx, domain.EventTransferVerified, transfer)
		return &VerificationStatus{Transfer: transfer, Required: true, Bypassed: true}, nil
	}

	switch transfer.Status {
	case domain.StatusDraft, domain.StatusAwaitingVerification:
	default:
		return nil, fmt.Errorf("%w: transfer is %s", domain.ErrInvalidTransition, transfer.Status)
	}

	target, err := resolveChannel(user, channel)
	if err != nil {
		return nil, err
	}

	challenge, err := s.gate.Issue(ctx, transfer.ID, target)
	if err != nil {
		return nil, err
	}

	transfer.Status = domain.StatusAwaitingVerification
	transfer.UpdatedAt = challenge.CreatedAt
	s.publish(ctx, domain.EventTransferVerificationIssued, transfer)
	return verificationStatus(transfer, challenge), nil
}

// ResendVerification replaces the active code of a transfer awaiting verification.
func (s *Service) ResendVerification(ctx context.Context, transferID uuid.UUID) (*VerificationStatus, error) {
	_, transfer, err := s.ownedTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status != domain.StatusAwaitingVerification {
		if transfer.Status == domain.StatusDraft {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: transfer is %s", domain.ErrInvalidTransition, transfer.Status)
	}

	challenge, err := s.gate.Resend(ctx, transfer)
	if err != nil {
		return nil, err
	}
	return verificationStatus(transfer, challenge), nil
}

// ConfirmVerification checks a code and, on success, leaves the transfer Verified.
func (s *Service) ConfirmVerification(ctx context.Context, transferID uuid.UUID, code string) (*domain.TransferRequest, error) {
	_, transfer, err := s.ownedTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !transfer.Kind.RequiresVerification() {
		return nil, fmt.Errorf("%w: %s transfers do not use verification codes", domain.ErrInvalidTransition, transfer.Kind)
	}

	if err := s.gate.Confirm(ctx, transfer, code); err != nil {
		return nil, err
	}

	verified, err := s.repo.FindTransferByID(ctx, transfer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload transfer: %w", err)
	}
	s.publish(ctx, domain.EventTransferVerified, verified)
	return verified, nil
}

// Execute settles a Verified transfer and returns its receipt.
func (s *Service) Execute(ctx context.Context, transferID uuid.UUID) (*domain.Receipt, error) {
	_, transfer, err := s.ownedTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}

	completed, err := s.executor.Execute(ctx, transfer)
	if err != nil {
		var execErr *domain.ExecutionError
		if errors.As(err, &execErr) {
			if failed, findErr := s.repo.FindTransferByID(ctx, transfer.ID); findErr == nil {
				s.publish(ctx, domain.EventTransferFailed, failed)
			}
		}
		return nil, err
	}

	s.publish(ctx, domain.EventTransferCompleted, completed)
	return s.receipts.Format(ctx, completed)
}

// GetTransfer returns one of the caller's transfers.
func (s *Service) GetTransfer(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error) {
	_, transfer, err := s.ownedTransfer(ctx, transferID)
	return transfer, err
}

// ListTransfers returns the caller's transfers, newest first.
func (s *Service) ListTransfers(ctx context.Context, limit, offset int) ([]domain.TransferRequest, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransfersByOwner(ctx, user.ID, limit, offset)
}

// GetReceipt re-projects the receipt of a completed transfer.
func (s *Service) GetReceipt(ctx context.Context, transferID uuid.UUID) (*domain.Receipt, error) {
	_, transfer, err := s.ownedTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	return s.receipts.Format(ctx, transfer)
}

// SaveRecipient stores a counterparty for quick transfers.
func (s *Service) SaveRecipient(ctx context.Context, req domain.SaveRecipientRequest) (*domain.Recipient, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.recipients.Save(ctx, user.ID, req)
}

// ListRecipients returns the caller's saved recipients, most recently used first.
func (s *Service) ListRecipients(ctx context.Context) ([]domain.Recipient, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.recipients.List(ctx, user.ID)
}

func (s *Service) DeleteRecipient(ctx context.Context, recipientID uuid.UUID) error {
	user, err := s.currentUser(ctx)
	if err != nil {
		return err
	}
	return s.recipients.Delete(ctx, user.ID, recipientID)
}

// GetAccountBalance reports an account's stored balance next to the sum of its ledger entries.
func (s *Service) GetAccountBalance(ctx context.Context, accountID uuid.UUID) (*AccountBalance, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != user.ID {
		return nil, store.ErrAccountNotFound
	}

	entries, err := s.repo.ListLedgerEntriesByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	ledgerBalance := account.OpeningBalance
	for _, entry := range entries {
		ledgerBalance = ledgerBalance.Add(entry.Amount)
	}

	return &AccountBalance{
		AccountID:      account.ID,
		Currency:       account.Currency,
		Balance:        account.Balance,
		OpeningBalance: account.OpeningBalance,
		LedgerBalance:  ledgerBalance,
		EntryCount:     len(entries),
	}, nil
}

// SweepExpiredChallenges stamps verification challenges that expired unconfirmed.
// Their transfers stay in AwaitingVerification.
func (s *Service) SweepExpiredChallenges(ctx context.Context) (int64, error) {
	return s.gate.SweepExpired(ctx)
}

// AbandonedTransfers lists transfers that have waited for verification longer than maxAge.
func (s *Service) AbandonedTransfers(ctx context.Context, maxAge time.Duration) ([]domain.TransferRequest, error) {
	return s.repo.ListTransfersByStatusBefore(ctx, domain.StatusAwaitingVerification, s.now().Add(-maxAge))
}

func (s *Service) validate(ctx context.Context, user *domain.User, req domain.SubmitTransferRequest) (*domain.Account, domain.Destination, error) {
	dest := normalizeDestination(req.Kind, req.Destination)

	source, err := s.lookupAccount(ctx, req.SourceAccountID)
	if err != nil {
		return nil, nil, err
	}

	var destinationAccount *domain.Account
	if internal, ok := dest.(domain.InternalDestination); ok && req.Kind == domain.KindInternal {
		destinationAccount, err = s.lookupAccount(ctx, internal.DestinationAccountID)
		if err != nil {
			return nil, nil, err
		}
	}

	err = ValidateTransfer(ValidationInput{
		OwnerID:            user.ID,
		Kind:               req.Kind,
		Amount:             req.Amount,
		Memo:               req.Memo,
		Destination:        dest,
		Source:             source,
		DestinationAccount: destinationAccount,
	})
	if err != nil {
		return nil, nil, err
	}
	return source, dest, nil
}

// lookupAccount returns nil without error for an unknown account so the validator can
// report it against the right field.
func (s *Service) lookupAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if accountID == uuid.Nil {
		return nil, nil
	}
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

func (s *Service) currentUser(ctx context.Context) (*domain.User, error) {
	if s.identity == nil {
		return nil, ErrUnauthenticated
	}
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

// ownedTransfer loads a transfer and hides it from anyone but its owner.
func (s *Service) ownedTransfer(ctx context.Context, transferID uuid.UUID) (*domain.User, *domain.TransferRequest, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, nil, err
	}
	if transfer.OwnerID != user.ID {
		return nil, nil, store.ErrTransferNotFound
	}
	return user, transfer, nil
}

func (s *Service) isBypassIdentity(userID string) bool {
	_, ok := s.bypass[userID]
	return ok
}

func (s *Service) mapStatusError(err error, expected domain.TransferStatus) error {
	if errors.Is(err, store.ErrStatusConflict) {
		return &domain.ConcurrencyError{Expected: expected}
	}
	return err
}

func (s *Service) publish(ctx context.Context, eventType string, transfer *domain.TransferRequest) {
	event := domain.NewTransferEvent(eventType, transfer, s.now())
	if err := s.publisher.Publish(ctx, s.eventsExchange, eventType, event); err != nil {
		s.logger.Warn().Err(err).
			Str("transfer_id", transfer.ID.String()).
			Str("event_type", eventType).
			Msg("failed to publish transfer event")
	}
}

func resolveChannel(user *domain.User, preferred domain.ChannelKind) (domain.ChallengeChannel, error) {
	phone := ""
	if user.Phone != nil {
		phone = strings.TrimSpace(*user.Phone)
	}
	email := strings.TrimSpace(user.Email)

	switch preferred {
	case domain.ChannelSMS:
		if phone == "" {
			return domain.ChallengeChannel{}, domain.NewValidationError("channel", "no phone number on file")
		}
		return domain.ChallengeChannel{Kind: domain.ChannelSMS, Destination: phone}, nil
	case domain.ChannelEmail:
		if email == "" {
			return domain.ChallengeChannel{}, domain.NewValidationError("channel", "no email address on file")
		}
		return domain.ChallengeChannel{Kind: domain.ChannelEmail, Destination: email}, nil
	case "":
		if phone != "" {
			return domain.ChallengeChannel{Kind: domain.ChannelSMS, Destination: phone}, nil
		}
		if email != "" {
			return domain.ChallengeChannel{Kind: domain.ChannelEmail, Destination: email}, nil
		}
		return domain.ChallengeChannel{}, domain.NewValidationError("channel", "no verification channel on file")
	default:
		return domain.ChallengeChannel{}, domain.NewValidationError("channel", "must be sms or email")
	}
}

func verificationStatus(transfer *domain.TransferRequest, challenge *domain.VerificationChallenge) *VerificationStatus {
	expiresAt := challenge.ExpiresAt
	return &VerificationStatus{
		Transfer:  transfer,
		Required:  true,
		Channel:   challenge.Channel.Kind,
		SentTo:    challenge.Channel.MaskedDestination(),
		ExpiresAt: &expiresAt,
	}
}
