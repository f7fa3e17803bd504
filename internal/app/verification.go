/**
 * @description
 * The verification gate issues and checks the short-lived one-time codes that
 * unlock execution of cross-institution transfers. Per transfer it moves through
 * NoChallenge -> Issued -> Confirmed | Expired, and a consumed or expired challenge
 * never validates again.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: Codes are stored only as bcrypt hashes.
 * - github.com/rs/zerolog: Structured logging. Codes are never logged.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	verificationCodeLength = 6
	maxCodeDraws           = 5

	attemptResend  = "resend"
	attemptConfirm = "confirm"
	attemptWindow  = time.Minute
)

// GateConfig tunes the verification gate.
type GateConfig struct {
	CodeTTL  time.Duration
	HashCost int
	// MaxResends caps how many replacement codes one transfer can receive.
	MaxResends int
	// MaxLifetime bounds the whole challenge chain, measured from the first issue.
	// Resending never extends a code past it.
	MaxLifetime           time.Duration
	ResendLimitPerMinute  int
	ConfirmLimitPerMinute int
}

// DefaultGateConfig returns a five minute window with throttled resend and confirm.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		CodeTTL:               5 * time.Minute,
		HashCost:              bcrypt.DefaultCost,
		MaxResends:            5,
		MaxLifetime:           15 * time.Minute,
		ResendLimitPerMinute:  3,
		ConfirmLimitPerMinute: 10,
	}
}

// RateLimitError is returned when resend or confirm attempts exceed the server-side budget.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (retry after %ds)", domain.ErrRateLimited.Error(), e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// Gate is the verification gate.
type Gate struct {
	repo     store.Repository
	notifier Notifier
	limiter  RateLimiter
	config   GateConfig
	logger   zerolog.Logger
	now      func() time.Time
	newCode  func() (string, error)
}

// NewGate creates a verification gate. A nil limiter disables server-side throttling.
func NewGate(repo store.Repository, notifier Notifier, limiter RateLimiter, config GateConfig, logger zerolog.Logger) *Gate {
	if config.CodeTTL <= 0 {
		config.CodeTTL = DefaultGateConfig().CodeTTL
	}
	if config.HashCost < bcrypt.MinCost || config.HashCost > bcrypt.MaxCost {
		config.HashCost = bcrypt.DefaultCost
	}
	if config.MaxResends <= 0 {
		config.MaxResends = DefaultGateConfig().MaxResends
	}
	if config.MaxLifetime < config.CodeTTL {
		config.MaxLifetime = config.CodeTTL
	}
	return &Gate{
		repo:     repo,
		notifier: notifier,
		limiter:  limiter,
		config:   config,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  generateVerificationCode,
	}
}

// Issue creates the first challenge for a Draft transfer and moves the transfer to
// AwaitingVerification.
func (g *Gate) Issue(ctx context.Context, transferID uuid.UUID, channel domain.ChallengeChannel) (*domain.VerificationChallenge, error) {
	latest, err := g.repo.FindLatestChallenge(ctx, transferID)
	switch {
	case err == nil:
		return nil, g.classifyExisting(latest)
	case !errors.Is(err, store.ErrChallengeNotFound):
		return nil, fmt.Errorf("failed to load verification challenge: %w", err)
	}

	code, challenge, err := g.newChallenge(transferID, channel, nil, g.now().Add(g.config.MaxLifetime))
	if err != nil {
		return nil, err
	}

	if err := g.repo.IssueChallenge(ctx, challenge); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, domain.ErrChallengeAlreadyActive
		}
		return nil, fmt.Errorf("failed to store verification challenge: %w", err)
	}

	g.dispatch(ctx, challenge, code)
	g.logger.Info().
		Str("transfer_id", transferID.String()).
		Str("challenge_id", challenge.ID.String()).
		Str("channel", string(channel.Kind)).
		Time("expires_at", challenge.ExpiresAt).
		Msg("verification challenge issued")
	return challenge, nil
}

// Resend replaces the active challenge with a new code. An expired challenge cannot be
// resent, and neither can a transfer that used up its resends; the user has to start a
// new transfer. The new code expires no later than the chain's lifetime allows.
func (g *Gate) Resend(ctx context.Context, transfer *domain.TransferRequest) (*domain.VerificationChallenge, error) {
	transferID := transfer.ID
	latest, err := g.repo.FindLatestChallenge(ctx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrChallengeNotFound) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load verification challenge: %w", err)
	}
	if err := g.throttle(ctx, attemptResend, transfer, latest, g.config.ResendLimitPerMinute); err != nil {
		return nil, err
	}
	if !latest.IsActive(g.now()) {
		return nil, g.classifyInactive(latest)
	}

	previous, err := g.repo.ListChallengesByTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous challenges: %w", err)
	}

	if len(previous)-1 >= g.config.MaxResends {
		g.logger.Info().
			Str("transfer_id", transferID.String()).
			Int("resends", len(previous)-1).
			Msg("verification resend limit reached")
		return nil, domain.ErrResendLimitReached
	}

	code, challenge, err := g.newChallenge(transferID, latest.Channel, previous, chainStart(previous, latest).Add(g.config.MaxLifetime))
	if err != nil {
		return nil, err
	}

	if err := g.repo.ReplaceChallenge(ctx, latest.ID, challenge); err != nil {
		if errors.Is(err, store.ErrChallengeConsumed) {
			return nil, domain.ErrChallengeAlreadyConsumed
		}
		return nil, fmt.Errorf("failed to replace verification challenge: %w", err)
	}

	g.dispatch(ctx, challenge, code)
	g.logger.Info().
		Str("transfer_id", transferID.String()).
		Str("challenge_id", challenge.ID.String()).
		Str("superseded_challenge_id", latest.ID.String()).
		Msg("verification challenge resent")
	return challenge, nil
}

// Confirm checks a submitted code. On a match the challenge is consumed and the
// transfer becomes Verified in one unit of work. A wrong code only bumps the attempt
// counter; there is no lockout.
func (g *Gate) Confirm(ctx context.Context, transfer *domain.TransferRequest, code string) error {
	transferID := transfer.ID
	latest, err := g.repo.FindLatestChallenge(ctx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrChallengeNotFound) {
			return domain.ErrChallengeNotFound
		}
		return fmt.Errorf("failed to load verification challenge: %w", err)
	}
	if err := g.throttle(ctx, attemptConfirm, transfer, latest, g.config.ConfirmLimitPerMinute); err != nil {
		return err
	}

	now := g.now()
	if latest.Consumed {
		return domain.ErrChallengeAlreadyConsumed
	}
	if latest.IsExpired(now) {
		return domain.ErrChallengeExpired
	}

	if len(code) != verificationCodeLength || bcrypt.CompareHashAndPassword([]byte(latest.CodeHash), []byte(code)) != nil {
		if err := g.repo.RecordChallengeAttempt(ctx, latest.ID); err != nil {
			g.logger.Warn().Err(err).Str("challenge_id", latest.ID.String()).Msg("failed to record verification attempt")
		}
		g.logger.Info().
			Str("transfer_id", transferID.String()).
			Str("challenge_id", latest.ID.String()).
			Int("attempts", latest.Attempts+1).
			Msg("verification code mismatch")
		return domain.ErrCodeMismatch
	}

	if err := g.repo.ConfirmChallenge(ctx, latest.ID, transferID, now); err != nil {
		switch {
		case errors.Is(err, store.ErrChallengeConsumed):
			return domain.ErrChallengeAlreadyConsumed
		case errors.Is(err, store.ErrStatusConflict):
			return &domain.ConcurrencyError{Expected: domain.StatusAwaitingVerification}
		default:
			return fmt.Errorf("failed to confirm verification challenge: %w", err)
		}
	}

	g.logger.Info().
		Str("transfer_id", transferID.String()).
		Str("challenge_id", latest.ID.String()).
		Msg("verification challenge confirmed")
	return nil
}

// SweepExpired stamps challenges whose window closed without a confirmation and drops
// in-process attempt budgets that can no longer throttle anything.
func (g *Gate) SweepExpired(ctx context.Context) (int64, error) {
	now := g.now()
	if p, ok := g.limiter.(pruner); ok {
		if removed := p.Prune(now); removed > 0 {
			g.logger.Debug().Int("removed", removed).Msg("pruned verification attempt budgets")
		}
	}
	return g.repo.ExpireStaleChallenges(ctx, now)
}

// newChallenge draws and hashes a code. The challenge expires after CodeTTL or at
// deadline, whichever comes first.
func (g *Gate) newChallenge(transferID uuid.UUID, channel domain.ChallengeChannel, previous []domain.VerificationChallenge, deadline time.Time) (string, *domain.VerificationChallenge, error) {
	code, err := g.drawDistinctCode(previous)
	if err != nil {
		return "", nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), g.config.HashCost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash verification code: %w", err)
	}

	now := g.now()
	expiresAt := now.Add(g.config.CodeTTL)
	if deadline.Before(expiresAt) {
		expiresAt = deadline
	}
	return code, &domain.VerificationChallenge{
		ID:         uuid.New(),
		TransferID: transferID,
		CodeHash:   string(hash),
		Channel:    channel,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}, nil
}

func chainStart(previous []domain.VerificationChallenge, latest *domain.VerificationChallenge) time.Time {
	start := latest.CreatedAt
	for _, p := range previous {
		if p.CreatedAt.Before(start) {
			start = p.CreatedAt
		}
	}
	return start
}

// drawDistinctCode returns a code that matches none of the transfer's earlier challenges.
// The chain is at most MaxResends+1 long, which bounds the bcrypt comparisons.
func (g *Gate) drawDistinctCode(previous []domain.VerificationChallenge) (string, error) {
	for draw := 0; draw < maxCodeDraws; draw++ {
		code, err := g.newCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate verification code: %w", err)
		}
		reused := false
		for _, p := range previous {
			if bcrypt.CompareHashAndPassword([]byte(p.CodeHash), []byte(code)) == nil {
				reused = true
				break
			}
		}
		if !reused {
			return code, nil
		}
	}
	return "", errors.New("failed to generate a verification code distinct from previous codes")
}

func (g *Gate) dispatch(ctx context.Context, challenge *domain.VerificationChallenge, code string) {
	if g.notifier == nil {
		return
	}
	msg := domain.VerificationCodeMessage{
		TransferID:  challenge.TransferID,
		Channel:     challenge.Channel.Kind,
		Destination: challenge.Channel.Destination,
		Code:        code,
		ExpiresAt:   challenge.ExpiresAt,
	}
	if err := g.notifier.SendVerificationCode(ctx, msg); err != nil {
		g.logger.Warn().Err(err).
			Str("transfer_id", challenge.TransferID.String()).
			Str("channel", string(challenge.Channel.Kind)).
			Msg("verification code dispatch failed")
	}
}

// throttle draws one attempt from the owner's budget for this transfer. The budget is
// kept no longer than the latest challenge lives.
func (g *Gate) throttle(ctx context.Context, action string, transfer *domain.TransferRequest, latest *domain.VerificationChallenge, limit int) error {
	if g.limiter == nil || limit <= 0 {
		return nil
	}
	key := AttemptKey{
		Action:     action,
		OwnerID:    transfer.OwnerID,
		TransferID: transfer.ID,
		ExpiresAt:  latest.ExpiresAt,
	}
	allowed, retryAfter, err := g.limiter.Allow(ctx, key, limit, attemptWindow)
	if err != nil {
		g.logger.Warn().Err(err).Str("action", action).Msg("rate limiter unavailable; allowing attempt")
		return nil
	}
	if !allowed {
		g.logger.Info().Str("action", action).Str("transfer_id", transfer.ID.String()).Int("retry_after_seconds", retryAfter).Msg("verification attempt throttled")
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (g *Gate) classifyExisting(latest *domain.VerificationChallenge) error {
	if latest.IsActive(g.now()) {
		return domain.ErrChallengeAlreadyActive
	}
	return g.classifyInactive(latest)
}

func (g *Gate) classifyInactive(latest *domain.VerificationChallenge) error {
	if latest.Consumed {
		return domain.ErrChallengeAlreadyConsumed
	}
	return domain.ErrChallengeExpired
}

func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
