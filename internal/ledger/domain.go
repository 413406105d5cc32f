package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Variant distinguishes deferred-credit accounts from prepaid wallets.
type Variant string

const (
	VariantCredit Variant = "credit"
	VariantWallet Variant = "wallet"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantCredit || v == VariantWallet
}

// AccountStatus enumerates account lifecycle states.
type AccountStatus string

const (
	AccountPendingApproval AccountStatus = "pending_approval"
	AccountActive          AccountStatus = "active"
	AccountSuspended       AccountStatus = "suspended"
	AccountFrozen          AccountStatus = "frozen"
	AccountClosed          AccountStatus = "closed"
)

// TxType enumerates journal record kinds.
type TxType string

const (
	TxAuthorization TxType = "authorization"
	TxCharge        TxType = "charge"
	TxPayment       TxType = "payment"
	TxRefund        TxType = "refund"
	TxAdjustment    TxType = "adjustment"
	TxFee           TxType = "fee"
	TxInterest      TxType = "interest"
	TxTransfer      TxType = "transfer"
)

// TxStatus enumerates journal record states.
type TxStatus string

const (
	StatusPending    TxStatus = "pending"
	StatusAuthorized TxStatus = "authorized"
	StatusSettled    TxStatus = "settled"
	StatusFailed     TxStatus = "failed"
	StatusCancelled  TxStatus = "cancelled"
	StatusRefunded   TxStatus = "refunded"
	StatusOverdue    TxStatus = "overdue"
)

// Terminal reports whether the status freezes the record's core fields.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusSettled, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Direction states how a record moves the account position.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
	DirectionNone   Direction = "none"
)

// Account is a credit line or a wallet owned by a single customer in one currency.
type Account struct {
	ID       uuid.UUID     `json:"id"`
	OwnerID  string        `json:"owner_id"`
	Variant  Variant       `json:"variant"`
	Currency string        `json:"currency"`
	Status   AccountStatus `json:"status"`
	Version  int64         `json:"version"`

	CreditLimit     decimal.Decimal `json:"credit_limit"`
	UsedCredit      decimal.Decimal `json:"used_credit"`
	OverdraftLimit  decimal.Decimal `json:"overdraft_limit"`
	PaymentTermDays int             `json:"payment_term_days"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	OverdraftFee    decimal.Decimal `json:"overdraft_fee"`
	AccruedCharges  decimal.Decimal `json:"accrued_charges"`

	Balance             decimal.Decimal `json:"balance"`
	ReservedBalance     decimal.Decimal `json:"reserved_balance"`
	DailyLimit          decimal.Decimal `json:"daily_limit"`
	MonthlyLimit        decimal.Decimal `json:"monthly_limit"`
	LowBalanceThreshold decimal.Decimal `json:"low_balance_threshold"`

	StatusReason string    `json:"status_reason,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Transaction is a single journal record.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	Seq            int64             `json:"seq"`
	AccountID      uuid.UUID         `json:"account_id"`
	ParentID       *uuid.UUID        `json:"parent_id,omitempty"`
	ExternalRef    string            `json:"external_ref,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Type           TxType            `json:"type"`
	Status         TxStatus          `json:"status"`
	Direction      Direction         `json:"direction"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	DueDate        *time.Time        `json:"due_date,omitempty"`
	BalanceBefore  decimal.Decimal   `json:"balance_before"`
	BalanceAfter   decimal.Decimal   `json:"balance_after"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	SettledAmount   decimal.Decimal `json:"settled_amount"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	AccruedInterest decimal.Decimal `json:"accrued_interest"`
	AccruedFees     decimal.Decimal `json:"accrued_fees"`
	LastInterestAt  *time.Time      `json:"last_interest_at,omitempty"`
	OverdueSince    *time.Time      `json:"overdue_since,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outstanding is what is still owed on a charge.
func (t Transaction) Outstanding() decimal.Decimal {
	out := t.Amount.Sub(t.PaidAmount).Sub(t.RefundedAmount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// EventType enumerates outbound notifications.
type EventType string

const (
	EventAuthorized       EventType = "authorized"
	EventSettled          EventType = "settled"
	EventOverdue          EventType = "overdue"
	EventLowBalance       EventType = "low_balance"
	EventAccountSuspended EventType = "account_suspended"
	EventReviewRequired   EventType = "review_required"
)

// Event is published after the mutation that produced it has committed.
type Event struct {
	AccountID uuid.UUID         `json:"account_id"`
	Type      EventType         `json:"type"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	OwnerID  string
	Variant  Variant
	Status   AccountStatus
	Currency string
	Limit    int
	Offset   int
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Type   TxType
	Status TxStatus
	Limit  int
}
