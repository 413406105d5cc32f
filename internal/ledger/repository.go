package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/parcelhub/ledger/internal/platform/db"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	InsertAccount(ctx context.Context, acc Account) error
	UpdateAccount(ctx context.Context, acc Account, expectedVersion int64) error
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
	FindChild(ctx context.Context, parentID uuid.UUID, typ TxType) (Transaction, error)
	InsertTransaction(ctx context.Context, txn *Transaction) error
	UpdateTransaction(ctx context.Context, txn Transaction) error
	ListOpenItems(ctx context.Context, accountID uuid.UUID) ([]Transaction, error)
	Journal(ctx context.Context, accountID uuid.UUID) ([]Transaction, error)
	SumAuthorized(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error)
}

const (
	accountsOwnerKey      = "accounts_owner_currency_variant_key"
	transactionsIdempoKey = "ledger_transactions_idempotency_key_key"
)

const accountColumns = `id::text, owner_id, variant, currency, status, status_reason, version,
	credit_limit::text, used_credit::text, overdraft_limit::text, payment_term_days,
	interest_rate::text, overdraft_fee::text, accrued_charges::text,
	balance::text, reserved_balance::text, daily_limit::text, monthly_limit::text,
	low_balance_threshold::text, created_by, created_at, updated_at`

const transactionColumns = `id::text, seq, account_id::text, parent_id::text, COALESCE(external_ref, ''),
	COALESCE(idempotency_key, ''), type, status, direction, amount::text, currency, due_date,
	balance_before::text, balance_after::text, settled_amount::text, refunded_amount::text,
	paid_amount::text, accrued_interest::text, accrued_fees::text, last_interest_at, overdue_since, metadata,
	created_at, updated_at`

const openItemsPredicate = `((type = 'authorization' AND status = 'authorized')
	OR (type = 'charge' AND status IN ('settled', 'overdue') AND amount > paid_amount + refunded_amount))`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists accounts and the journal in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	q    queries
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: queries{db: pool}}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, queries{db: tx})
	})
	return mapPgError(err)
}

func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return r.q.GetAccount(ctx, id)
}

func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return r.q.GetTransaction(ctx, id)
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error) {
	return r.q.FindByIdempotencyKey(ctx, key)
}

func (r *Repository) ListOpenItems(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	return r.q.ListOpenItems(ctx, accountID)
}

// FindAuthorizationByExternalRef returns the most recent authorization carrying ref.
func (r *Repository) FindAuthorizationByExternalRef(ctx context.Context, ref string) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
		WHERE external_ref = $1 AND type = 'authorization' ORDER BY seq DESC LIMIT 1`, ref)
	return scanTransaction(row)
}

func (r *Repository) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if filter.Variant != "" {
		add("variant = $%d", string(filter.Variant))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Currency != "" {
		add("currency = $%d", filter.Currency)
	}
	sql := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (r *Repository) ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]Transaction, error) {
	args := []any{accountID.String()}
	sql := `SELECT ` + transactionColumns + ` FROM ledger_transactions WHERE account_id = $1`
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		sql += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))
	return collectTransactions(r.pool.Query(ctx, sql, args...))
}

// AccountsWithOpenItems lists accounts holding open authorizations or unpaid charges.
func (r *Repository) AccountsWithOpenItems(ctx context.Context, limit int) ([]uuid.UUID, error) {
	sql := `SELECT DISTINCT account_id::text FROM ledger_transactions WHERE ` + openItemsPredicate + ` ORDER BY 1`
	var args []any
	if limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) TransactionCounts(ctx context.Context) ([]TxCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT type, status, currency, COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM ledger_transactions GROUP BY type, status, currency`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TxCount
	for rows.Next() {
		var (
			c      TxCount
			amount string
		)
		if err := rows.Scan(&c.Type, &c.Status, &c.Currency, &c.Count, &amount); err != nil {
			return nil, err
		}
		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// queries implements TxRepository over either the pool or a transaction.
type queries struct {
	db querier
}

func (q queries) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	row := q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	return scanAccount(row)
}

func (q queries) InsertAccount(ctx context.Context, acc Account) error {
	_, err := q.db.Exec(ctx, `INSERT INTO accounts (id, owner_id, variant, currency, status, status_reason, version,
		credit_limit, used_credit, overdraft_limit, payment_term_days, interest_rate, overdraft_fee, accrued_charges,
		balance, reserved_balance, daily_limit, monthly_limit, low_balance_threshold, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11, $12::numeric, $13::numeric, $14::numeric,
		$15::numeric, $16::numeric, $17::numeric, $18::numeric, $19::numeric, $20, $21, $22)`,
		acc.ID.String(), acc.OwnerID, string(acc.Variant), acc.Currency, string(acc.Status), acc.StatusReason, acc.Version,
		acc.CreditLimit.String(), acc.UsedCredit.String(), acc.OverdraftLimit.String(), acc.PaymentTermDays,
		acc.InterestRate.String(), acc.OverdraftFee.String(), acc.AccruedCharges.String(),
		acc.Balance.String(), acc.ReservedBalance.String(), acc.DailyLimit.String(), acc.MonthlyLimit.String(),
		acc.LowBalanceThreshold.String(), acc.CreatedBy, acc.CreatedAt, acc.UpdatedAt)
	return mapPgError(err)
}

// UpdateAccount writes acc only when the stored version still equals expectedVersion.
func (q queries) UpdateAccount(ctx context.Context, acc Account, expectedVersion int64) error {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET status = $3, status_reason = $4, version = $5,
		credit_limit = $6::numeric, used_credit = $7::numeric, overdraft_limit = $8::numeric, payment_term_days = $9,
		interest_rate = $10::numeric, overdraft_fee = $11::numeric, accrued_charges = $12::numeric,
		balance = $13::numeric, reserved_balance = $14::numeric, daily_limit = $15::numeric,
		monthly_limit = $16::numeric, low_balance_threshold = $17::numeric, updated_at = $18
		WHERE id = $1 AND version = $2`,
		acc.ID.String(), expectedVersion, string(acc.Status), acc.StatusReason, acc.Version,
		acc.CreditLimit.String(), acc.UsedCredit.String(), acc.OverdraftLimit.String(), acc.PaymentTermDays,
		acc.InterestRate.String(), acc.OverdraftFee.String(), acc.AccruedCharges.String(),
		acc.Balance.String(), acc.ReservedBalance.String(), acc.DailyLimit.String(),
		acc.MonthlyLimit.String(), acc.LowBalanceThreshold.String(), acc.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (q queries) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1`, id.String())
	return scanTransaction(row)
}

func (q queries) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE idempotency_key = $1`, key)
	return scanTransaction(row)
}

func (q queries) FindChild(ctx context.Context, parentID uuid.UUID, typ TxType) (Transaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
		WHERE parent_id = $1 AND type = $2 ORDER BY seq LIMIT 1`, parentID.String(), string(typ))
	return scanTransaction(row)
}

func (q queries) InsertTransaction(ctx context.Context, txn *Transaction) error {
	meta, err := json.Marshal(txn.Metadata)
	if err != nil {
		return err
	}
	row := q.db.QueryRow(ctx, `INSERT INTO ledger_transactions (id, account_id, parent_id, external_ref, idempotency_key,
		type, status, direction, amount, currency, due_date, balance_before, balance_after, settled_amount,
		refunded_amount, paid_amount, accrued_interest, accrued_fees, last_interest_at, overdue_since, metadata,
		created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9::numeric, $10, $11, $12::numeric, $13::numeric,
		$14::numeric, $15::numeric, $16::numeric, $17::numeric, $18::numeric, $19, $20, $21, $22, $23)
		RETURNING seq`,
		txn.ID.String(), txn.AccountID.String(), uuidArg(txn.ParentID), txn.ExternalRef, txn.IdempotencyKey,
		string(txn.Type), string(txn.Status), string(txn.Direction), txn.Amount.String(), txn.Currency, txn.DueDate,
		txn.BalanceBefore.String(), txn.BalanceAfter.String(), txn.SettledAmount.String(),
		txn.RefundedAmount.String(), txn.PaidAmount.String(), txn.AccruedInterest.String(),
		txn.AccruedFees.String(), txn.LastInterestAt, txn.OverdueSince, meta, txn.CreatedAt, txn.UpdatedAt)
	return mapPgError(row.Scan(&txn.Seq))
}

// UpdateTransaction writes the mutable fields of a record: status and the
// bookkeeping annotations.
func (q queries) UpdateTransaction(ctx context.Context, txn Transaction) error {
	meta, err := json.Marshal(txn.Metadata)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, `UPDATE ledger_transactions SET status = $2, settled_amount = $3::numeric,
		refunded_amount = $4::numeric, paid_amount = $5::numeric, accrued_interest = $6::numeric,
		accrued_fees = $7::numeric, last_interest_at = $8, overdue_since = $9, metadata = $10, updated_at = $11
		WHERE id = $1`,
		txn.ID.String(), string(txn.Status), txn.SettledAmount.String(), txn.RefundedAmount.String(),
		txn.PaidAmount.String(), txn.AccruedInterest.String(), txn.AccruedFees.String(), txn.LastInterestAt,
		txn.OverdueSince, meta, txn.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (q queries) ListOpenItems(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	return collectTransactions(q.db.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
		WHERE account_id = $1 AND `+openItemsPredicate+` ORDER BY seq`, accountID.String()))
}

func (q queries) Journal(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	return collectTransactions(q.db.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
		WHERE account_id = $1 ORDER BY seq`, accountID.String()))
}

// SumAuthorized totals non-voided authorizations since the given instant,
// counting settled ones at their settled amount.
func (q queries) SumAuthorized(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var raw string
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN status IN ('settled', 'refunded') THEN settled_amount ELSE amount END), 0)::text
		FROM ledger_transactions
		WHERE account_id = $1 AND type = 'authorization' AND status NOT IN ('failed', 'cancelled') AND created_at >= $2`,
		accountID.String(), since).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if db.Retryable(err) {
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case accountsOwnerKey:
			return ErrAccountExists
		case transactionsIdempoKey:
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("%w: %s", ErrVersionConflict, constraint)
	}
	return err
}

func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func collectTransactions(rows pgx.Rows, err error) ([]Transaction, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

type decimalField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acc                                          Account
		id                                           string
		credit, used, overdraft, rate, fee, accrued  string
		balance, reserved, daily, monthly, threshold string
	)
	err := row.Scan(&id, &acc.OwnerID, &acc.Variant, &acc.Currency, &acc.Status, &acc.StatusReason, &acc.Version,
		&credit, &used, &overdraft, &acc.PaymentTermDays, &rate, &fee, &accrued,
		&balance, &reserved, &daily, &monthly, &threshold, &acc.CreatedBy, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	if acc.ID, err = uuid.Parse(id); err != nil {
		return Account{}, err
	}
	err = parseDecimals(
		decimalField{credit, &acc.CreditLimit}, decimalField{used, &acc.UsedCredit},
		decimalField{overdraft, &acc.OverdraftLimit}, decimalField{rate, &acc.InterestRate},
		decimalField{fee, &acc.OverdraftFee}, decimalField{accrued, &acc.AccruedCharges},
		decimalField{balance, &acc.Balance}, decimalField{reserved, &acc.ReservedBalance},
		decimalField{daily, &acc.DailyLimit}, decimalField{monthly, &acc.MonthlyLimit},
		decimalField{threshold, &acc.LowBalanceThreshold},
	)
	return acc, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		txn                               Transaction
		id, accountID                     string
		parentID                          *string
		amount, before, after             string
		settled, refunded, paid, interest string
		fees                              string
		meta                              []byte
	)
	err := row.Scan(&id, &txn.Seq, &accountID, &parentID, &txn.ExternalRef, &txn.IdempotencyKey,
		&txn.Type, &txn.Status, &txn.Direction, &amount, &txn.Currency, &txn.DueDate,
		&before, &after, &settled, &refunded, &paid, &interest, &fees,
		&txn.LastInterestAt, &txn.OverdueSince, &meta, &txn.CreatedAt, &txn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	if txn.ID, err = uuid.Parse(id); err != nil {
		return Transaction{}, err
	}
	if txn.AccountID, err = uuid.Parse(accountID); err != nil {
		return Transaction{}, err
	}
	if parentID != nil {
		pid, err := uuid.Parse(*parentID)
		if err != nil {
			return Transaction{}, err
		}
		txn.ParentID = &pid
	}
	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &txn.Metadata); err != nil {
			return Transaction{}, err
		}
	}
	err = parseDecimals(
		decimalField{amount, &txn.Amount}, decimalField{before, &txn.BalanceBefore},
		decimalField{after, &txn.BalanceAfter}, decimalField{settled, &txn.SettledAmount},
		decimalField{refunded, &txn.RefundedAmount}, decimalField{paid, &txn.PaidAmount},
		decimalField{interest, &txn.AccruedInterest}, decimalField{fees, &txn.AccruedFees},
	)
	return txn, err
}
