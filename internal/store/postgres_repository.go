/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed to persist transfers, verification challenges,
 * saved recipients and ledger entries. Every operation that touches more than one
 * row runs inside a single transaction.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Money columns are NUMERIC and scanned into decimals.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolationCode = "23505"

const transferColumns = `
	id, owner_id, kind, source_account_id, destination, amount, currency, fee, memo,
	recipient_id, status, reference, failure_reason, created_at, updated_at, completed_at`

const challengeColumns = `
	id, transfer_id, code_hash, channel, channel_destination, expires_at, consumed,
	consumed_at, superseded_at, expired_at, attempts, created_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema applies the idempotent table definitions.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// FindAccountByID retrieves an account by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, owner_id, display_name, currency, balance, COALESCE(opening_balance, 0), status, created_at FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID,
		&account.OwnerID,
		&account.DisplayName,
		&account.Currency,
		&account.Balance,
		&account.OpeningBalance,
		&account.Status,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateTransfer inserts a new transfer record.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, transfer *domain.TransferRequest) error {
	destination, err := domain.EncodeDestination(transfer.Destination)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transfers (id, owner_id, kind, source_account_id, destination, amount, currency, fee, memo, recipient_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.Exec(ctx, query,
		transfer.ID,
		transfer.OwnerID,
		transfer.Kind,
		transfer.SourceAccountID,
		destination,
		transfer.Amount,
		transfer.Currency,
		transfer.Fee,
		transfer.Memo,
		transfer.RecipientID,
		transfer.Status,
		transfer.CreatedAt,
		transfer.UpdatedAt,
	)
	return err
}

// FindTransferByID retrieves a single transfer.
func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	transfer, err := scanTransfer(r.db.QueryRow(ctx, query, transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return transfer, nil
}

// ListTransfersByOwner returns an owner's transfers, newest first.
func (r *PostgresRepository) ListTransfersByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.TransferRequest, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// ListTransfersByStatusBefore returns transfers that have sat in a status since before the cutoff.
func (r *PostgresRepository) ListTransfersByStatusBefore(ctx context.Context, status domain.TransferStatus, before time.Time) ([]domain.TransferRequest, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC`
	rows, err := r.db.Query(ctx, query, status, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// UpdateTransferStatus conditionally moves a transfer between statuses.
func (r *PostgresRepository) UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, from, to domain.TransferStatus, failureReason *string) error {
	query := `
		UPDATE transfers
		SET status = $3, failure_reason = COALESCE($4, failure_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.Exec(ctx, query, transferID, from, to, failureReason)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissingTransfer(ctx, transferID)
	}
	return nil
}

// CompleteTransfer settles a verified transfer. The transfer row and every touched
// account row are locked FOR UPDATE, accounts in id order, before any balance moves.
func (r *PostgresRepository) CompleteTransfer(ctx context.Context, params CompleteTransferParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status domain.TransferStatus
	err = tx.QueryRow(ctx, "SELECT status FROM transfers WHERE id = $1 FOR UPDATE", params.TransferID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransferNotFound
		}
		return err
	}
	if status != domain.StatusVerified {
		return ErrStatusConflict
	}

	deltas := make(map[uuid.UUID]decimal.Decimal)
	for _, entry := range params.Entries {
		deltas[entry.AccountID] = deltas[entry.AccountID].Add(entry.Amount)
	}
	accountIDs := make([]uuid.UUID, 0, len(deltas))
	for id := range deltas {
		accountIDs = append(accountIDs, id)
	}
	sort.Slice(accountIDs, func(i, j int) bool {
		return accountIDs[i].String() < accountIDs[j].String()
	})

	for _, accountID := range accountIDs {
		var balance decimal.Decimal
		var accountStatus domain.AccountStatus
		err = tx.QueryRow(ctx, "SELECT balance, status FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&balance, &accountStatus)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		if accountStatus != domain.AccountActive {
			return ErrAccountInactive
		}
		delta := deltas[accountID]
		if delta.IsNegative() && balance.Add(delta).IsNegative() {
			return ErrInsufficientFunds
		}
		if _, err = tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2", delta, accountID); err != nil {
			return err
		}
	}

	for _, entry := range params.Entries {
		_, err = tx.Exec(ctx,
			"INSERT INTO ledger_entries (id, transfer_id, account_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)",
			entry.ID, entry.TransferID, entry.AccountID, entry.Amount, entry.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE transfers
		SET status = $2, reference = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`, params.TransferID, domain.StatusCompleted, params.Reference, params.CompletedAt, domain.StatusVerified)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateReference
		}
		return err
	}

	if params.RecipientID != nil {
		if _, err = tx.Exec(ctx, "UPDATE recipients SET last_used_at = $2 WHERE id = $1", *params.RecipientID, params.CompletedAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// NextReferenceSequence draws the next value of the reference sequence.
func (r *PostgresRepository) NextReferenceSequence(ctx context.Context) (int64, error) {
	var next int64
	if err := r.db.QueryRow(ctx, "SELECT nextval('transfer_reference_seq')").Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// IssueChallenge moves a Draft transfer to AwaitingVerification and stores its first challenge.
func (r *PostgresRepository) IssueChallenge(ctx context.Context, challenge *domain.VerificationChallenge) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		"UPDATE transfers SET status = $2, updated_at = $4 WHERE id = $1 AND status = $3",
		challenge.TransferID, domain.StatusAwaitingVerification, domain.StatusDraft, challenge.CreatedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissingTransfer(ctx, challenge.TransferID)
	}

	if err := insertChallenge(ctx, tx, challenge); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReplaceChallenge supersedes an open challenge and stores the replacement.
func (r *PostgresRepository) ReplaceChallenge(ctx context.Context, previousID uuid.UUID, challenge *domain.VerificationChallenge) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE verification_challenges
		SET superseded_at = $3
		WHERE id = $1 AND transfer_id = $2 AND consumed = FALSE AND superseded_at IS NULL
	`, previousID, challenge.TransferID, challenge.CreatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrChallengeConsumed
	}

	if err := insertChallenge(ctx, tx, challenge); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindLatestChallenge returns the most recently issued challenge for a transfer.
func (r *PostgresRepository) FindLatestChallenge(ctx context.Context, transferID uuid.UUID) (*domain.VerificationChallenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM verification_challenges WHERE transfer_id = $1 ORDER BY created_at DESC LIMIT 1`
	challenge, err := scanChallenge(r.db.QueryRow(ctx, query, transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return challenge, nil
}

// ListChallengesByTransfer returns every challenge ever issued for a transfer, oldest first.
func (r *PostgresRepository) ListChallengesByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.VerificationChallenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM verification_challenges WHERE transfer_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	challenges := make([]domain.VerificationChallenge, 0)
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, *challenge)
	}
	return challenges, rows.Err()
}

// RecordChallengeAttempt increments the failed-attempt counter of a challenge.
func (r *PostgresRepository) RecordChallengeAttempt(ctx context.Context, challengeID uuid.UUID) error {
	result, err := r.db.Exec(ctx, "UPDATE verification_challenges SET attempts = attempts + 1 WHERE id = $1", challengeID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

// ConfirmChallenge consumes a challenge and verifies its transfer together.
func (r *PostgresRepository) ConfirmChallenge(ctx context.Context, challengeID, transferID uuid.UUID, at time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE verification_challenges
		SET consumed = TRUE, consumed_at = $3
		WHERE id = $1 AND transfer_id = $2 AND consumed = FALSE AND superseded_at IS NULL
	`, challengeID, transferID, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrChallengeConsumed
	}

	result, err = tx.Exec(ctx,
		"UPDATE transfers SET status = $2, updated_at = $4 WHERE id = $1 AND status = $3",
		transferID, domain.StatusVerified, domain.StatusAwaitingVerification, at,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrStatusConflict
	}

	return tx.Commit(ctx)
}

// ExpireStaleChallenges stamps open challenges whose window has closed.
func (r *PostgresRepository) ExpireStaleChallenges(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE verification_challenges
		SET expired_at = $1
		WHERE consumed = FALSE AND superseded_at IS NULL AND expired_at IS NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// CreateRecipient inserts a saved recipient.
func (r *PostgresRepository) CreateRecipient(ctx context.Context, recipient *domain.Recipient) error {
	query := `
		INSERT INTO recipients (id, owner_id, display_name, bank_name, account_number_last4, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		recipient.ID,
		recipient.OwnerID,
		recipient.DisplayName,
		recipient.BankName,
		recipient.AccountNumberLast4,
		recipient.LastUsedAt,
		recipient.CreatedAt,
	)
	return err
}

// FindRecipientByID retrieves a recipient owned by the given user.
func (r *PostgresRepository) FindRecipientByID(ctx context.Context, recipientID uuid.UUID, ownerID string) (*domain.Recipient, error) {
	var recipient domain.Recipient
	query := `
		SELECT id, owner_id, display_name, bank_name, account_number_last4, last_used_at, created_at
		FROM recipients
		WHERE id = $1 AND owner_id = $2
	`
	err := r.db.QueryRow(ctx, query, recipientID, ownerID).Scan(
		&recipient.ID,
		&recipient.OwnerID,
		&recipient.DisplayName,
		&recipient.BankName,
		&recipient.AccountNumberLast4,
		&recipient.LastUsedAt,
		&recipient.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	return &recipient, nil
}

// ListRecipientsByOwner returns saved recipients, most recently used first.
func (r *PostgresRepository) ListRecipientsByOwner(ctx context.Context, ownerID string) ([]domain.Recipient, error) {
	query := `
		SELECT id, owner_id, display_name, bank_name, account_number_last4, last_used_at, created_at
		FROM recipients
		WHERE owner_id = $1
		ORDER BY last_used_at DESC NULLS LAST, created_at DESC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := make([]domain.Recipient, 0)
	for rows.Next() {
		var recipient domain.Recipient
		if err := rows.Scan(
			&recipient.ID,
			&recipient.OwnerID,
			&recipient.DisplayName,
			&recipient.BankName,
			&recipient.AccountNumberLast4,
			&recipient.LastUsedAt,
			&recipient.CreatedAt,
		); err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}
	return recipients, rows.Err()
}

// DeleteRecipient removes a saved recipient. Past transfers keep their own copy of the
// destination, so nothing else changes.
func (r *PostgresRepository) DeleteRecipient(ctx context.Context, recipientID uuid.UUID, ownerID string) error {
	result, err := r.db.Exec(ctx, "DELETE FROM recipients WHERE id = $1 AND owner_id = $2", recipientID, ownerID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

// ListLedgerEntriesByTransfer returns the postings of one transfer.
func (r *PostgresRepository) ListLedgerEntriesByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.LedgerEntry, error) {
	return r.queryLedgerEntries(ctx, "SELECT id, transfer_id, account_id, amount, created_at FROM ledger_entries WHERE transfer_id = $1 ORDER BY amount ASC", transferID)
}

// ListLedgerEntriesByAccount returns every posting against an account, oldest first.
func (r *PostgresRepository) ListLedgerEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	return r.queryLedgerEntries(ctx, "SELECT id, transfer_id, account_id, amount, created_at FROM ledger_entries WHERE account_id = $1 ORDER BY created_at ASC", accountID)
}

func (r *PostgresRepository) queryLedgerEntries(ctx context.Context, query string, arg uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.TransferID, &entry.AccountID, &entry.Amount, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// classifyMissingTransfer tells a conditional update that matched nothing apart from a
// transfer that does not exist.
func (r *PostgresRepository) classifyMissingTransfer(ctx context.Context, transferID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM transfers WHERE id = $1)", transferID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrTransferNotFound
	}
	return ErrStatusConflict
}

func insertChallenge(ctx context.Context, tx pgx.Tx, challenge *domain.VerificationChallenge) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO verification_challenges (id, transfer_id, code_hash, channel, channel_destination, expires_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		challenge.ID,
		challenge.TransferID,
		challenge.CodeHash,
		challenge.Channel.Kind,
		challenge.Channel.Destination,
		challenge.ExpiresAt,
		challenge.Attempts,
		challenge.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrStatusConflict
		}
	}
	return err
}

func scanTransfer(row pgx.Row) (*domain.TransferRequest, error) {
	var transfer domain.TransferRequest
	var destination []byte
	err := row.Scan(
		&transfer.ID,
		&transfer.OwnerID,
		&transfer.Kind,
		&transfer.SourceAccountID,
		&destination,
		&transfer.Amount,
		&transfer.Currency,
		&transfer.Fee,
		&transfer.Memo,
		&transfer.RecipientID,
		&transfer.Status,
		&transfer.Reference,
		&transfer.FailureReason,
		&transfer.CreatedAt,
		&transfer.UpdatedAt,
		&transfer.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	transfer.Destination, err = domain.DecodeDestination(transfer.Kind, destination)
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func collectTransfers(rows pgx.Rows) ([]domain.TransferRequest, error) {
	transfers := make([]domain.TransferRequest, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, rows.Err()
}

func scanChallenge(row pgx.Row) (*domain.VerificationChallenge, error) {
	var challenge domain.VerificationChallenge
	err := row.Scan(
		&challenge.ID,
		&challenge.TransferID,
		&challenge.CodeHash,
		&challenge.Channel.Kind,
		&challenge.Channel.Destination,
		&challenge.ExpiresAt,
		&challenge.Consumed,
		&challenge.ConsumedAt,
		&challenge.SupersededAt,
		&challenge.ExpiredAt,
		&challenge.Attempts,
		&challenge.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

// Compile-time check: ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
