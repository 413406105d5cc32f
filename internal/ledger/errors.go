package ledger

import "errors"

var (
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountExists indicates the owner already holds an account of that variant and currency.
	ErrAccountExists = errors.New("ledger: account already exists")
	// ErrAccountInactive indicates the account is not active (pending, suspended, frozen or closed).
	ErrAccountInactive = errors.New("ledger: account inactive")
	// ErrInvalidAmount indicates a non-positive, out of range or over-precise amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInvalidInput indicates a malformed request field other than amount or currency.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrInvalidCurrency indicates an unsupported currency or an account mismatch.
	ErrInvalidCurrency = errors.New("ledger: invalid currency")
	// ErrCreditLimitExceeded indicates the credit line cannot cover the amount.
	ErrCreditLimitExceeded = errors.New("ledger: credit limit exceeded")
	// ErrInsufficientFunds indicates the wallet available balance cannot cover the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrSpendingLimitExceeded indicates a wallet daily or monthly limit would be breached.
	ErrSpendingLimitExceeded = errors.New("ledger: spending limit exceeded")
	// ErrTransactionNotFound indicates the transaction does not exist.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrAlreadySettled indicates the authorization was already settled.
	ErrAlreadySettled = errors.New("ledger: transaction already settled")
	// ErrAlreadyCancelled indicates the authorization was already cancelled.
	ErrAlreadyCancelled = errors.New("ledger: transaction already cancelled")
	// ErrSettlementExceedsAuthorization indicates a settle amount above the hold.
	ErrSettlementExceedsAuthorization = errors.New("ledger: settlement exceeds authorization")
	// ErrRefundExceedsSettled indicates a refund above the remaining settled amount.
	ErrRefundExceedsSettled = errors.New("ledger: refund exceeds settled amount")
	// ErrConcurrencyConflict indicates the guard gave up after bounded retries.
	ErrConcurrencyConflict = errors.New("ledger: concurrency conflict")
	// ErrReviewRequired is a soft signal: the account crossed the review threshold.
	ErrReviewRequired = errors.New("ledger: account review required")
	// ErrInvalidTransition indicates a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrReasonRequired indicates a mandatory reason was left empty.
	ErrReasonRequired = errors.New("ledger: reason required")
	// ErrActorRequired indicates an administrative call without an actor.
	ErrActorRequired = errors.New("ledger: actor required")
	// ErrOutstandingBalance indicates an account cannot close while it still carries value.
	ErrOutstandingBalance = errors.New("ledger: outstanding balance")
	// ErrSignalMismatch indicates an inbound settlement signal that does not match its authorization.
	ErrSignalMismatch = errors.New("ledger: settlement signal mismatch")
	// ErrReplayMismatch indicates the journal does not reproduce the stored account state.
	ErrReplayMismatch = errors.New("ledger: journal replay mismatch")
	// ErrBatchInProgress indicates another overdue batch holds the lock.
	ErrBatchInProgress = errors.New("ledger: overdue batch already running")
	// ErrVersionConflict is returned by repositories when a conditional write lost the race.
	ErrVersionConflict = errors.New("ledger: version conflict")
	// ErrDuplicateIdempotencyKey is returned by repositories when an idempotency key is already taken.
	ErrDuplicateIdempotencyKey = errors.New("ledger: duplicate idempotency key")
)

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrVersionConflict)
}

// IsValidation reports whether err was a rejected precondition.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrActorRequired) ||
		errors.Is(err, ErrSignalMismatch)
}

// IsNotFound reports whether err denotes a missing account or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrTransactionNotFound)
}
