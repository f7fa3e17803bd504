package domain

import (
	"errors"
	"fmt"
)

// ValidationError names the request field that failed a check. It is surfaced to the
// caller as-is and never moves a transfer through the status machine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ChallengeErrorCode enumerates the verification gate failures.
type ChallengeErrorCode string

const (
	ChallengeNotFound        ChallengeErrorCode = "challenge_not_found"
	ChallengeExpired         ChallengeErrorCode = "challenge_expired"
	ChallengeCodeMismatch    ChallengeErrorCode = "code_mismatch"
	ChallengeAlreadyConsumed ChallengeErrorCode = "challenge_already_consumed"
	ChallengeAlreadyActive   ChallengeErrorCode = "challenge_already_active"
	ChallengeResendLimit     ChallengeErrorCode = "resend_limit_reached"
)

// ChallengeError is returned by the verification gate.
type ChallengeError struct {
	Code ChallengeErrorCode
}

func (e *ChallengeError) Error() string {
	switch e.Code {
	case ChallengeNotFound:
		return "no verification code has been issued for this transfer"
	case ChallengeExpired:
		return "verification code has expired"
	case ChallengeCodeMismatch:
		return "verification code does not match"
	case ChallengeAlreadyConsumed:
		return "verification code has already been used"
	case ChallengeAlreadyActive:
		return "a verification code is already active for this transfer"
	case ChallengeResendLimit:
		return "too many verification codes requested; start a new transfer"
	default:
		return string(e.Code)
	}
}

// Is lets callers match on the code with errors.Is(err, domain.ErrCodeMismatch).
func (e *ChallengeError) Is(target error) bool {
	t, ok := target.(*ChallengeError)
	return ok && t.Code == e.Code
}

var (
	ErrChallengeNotFound        = &ChallengeError{Code: ChallengeNotFound}
	ErrChallengeExpired         = &ChallengeError{Code: ChallengeExpired}
	ErrCodeMismatch             = &ChallengeError{Code: ChallengeCodeMismatch}
	ErrChallengeAlreadyConsumed = &ChallengeError{Code: ChallengeAlreadyConsumed}
	ErrChallengeAlreadyActive   = &ChallengeError{Code: ChallengeAlreadyActive}
	ErrResendLimitReached       = &ChallengeError{Code: ChallengeResendLimit}
)

// ExecutionErrorCode enumerates the ways settlement of a verified transfer can fail.
type ExecutionErrorCode string

const (
	ExecutionPersistenceFailure ExecutionErrorCode = "persistence_failure"
	ExecutionInsufficientFunds  ExecutionErrorCode = "insufficient_funds"
	ExecutionAccountInactive    ExecutionErrorCode = "account_inactive"
)

// ExecutionError moves the transfer to Failed. It is shown to users as a generic
// retry prompt and is never retried automatically.
type ExecutionError struct {
	Code ExecutionErrorCode
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer execution failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transfer execution failed (%s)", e.Code)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	return ok && t.Code == e.Code && t.Err == nil
}

var (
	ErrPersistenceFailure = &ExecutionError{Code: ExecutionPersistenceFailure}
	ErrInsufficientFunds  = &ExecutionError{Code: ExecutionInsufficientFunds}
	ErrAccountInactive    = &ExecutionError{Code: ExecutionAccountInactive}
)

// ConcurrencyError reports that a conditional status update lost a race with another
// writer. The transfer is left in whatever state the winner put it in.
type ConcurrencyError struct {
	Expected TransferStatus
}

func (e *ConcurrencyError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("conflicting update: transfer is no longer %s", e.Expected)
	}
	return "conflicting update"
}

func (e *ConcurrencyError) Is(target error) bool {
	_, ok := target.(*ConcurrencyError)
	return ok
}

// ErrConflictingUpdate matches any ConcurrencyError.
var ErrConflictingUpdate = &ConcurrencyError{}

var (
	ErrInvalidTransition = errors.New("transfer status transition not allowed")
	ErrRateLimited       = errors.New("too many attempts; please wait and try again")
	ErrForbidden         = errors.New("transfer does not belong to the caller")
)
