package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultPaymentTermDays = 30

// CreateAccountInput describes a new credit line or wallet.
type CreateAccountInput struct {
	OwnerID  string
	Variant  Variant
	Currency string
	ActorID  string

	CreditLimit     decimal.Decimal
	OverdraftLimit  decimal.Decimal
	PaymentTermDays int
	InterestRate    decimal.Decimal
	OverdraftFee    decimal.Decimal

	DailyLimit          decimal.Decimal
	MonthlyLimit        decimal.Decimal
	LowBalanceThreshold decimal.Decimal
}

// LimitsInput changes account limits. Nil fields stay untouched.
type LimitsInput struct {
	AccountID uuid.UUID
	ActorID   string

	CreditLimit     *decimal.Decimal
	OverdraftLimit  *decimal.Decimal
	PaymentTermDays *int
	InterestRate    *decimal.Decimal
	OverdraftFee    *decimal.Decimal

	DailyLimit          *decimal.Decimal
	MonthlyLimit        *decimal.Decimal
	LowBalanceThreshold *decimal.Decimal
}

// StatusInput carries an administrative status change.
type StatusInput struct {
	AccountID uuid.UUID
	ActorID   string
	Reason    string
}

// CreateAccount opens an account. Credit lines start pending approval,
// wallets start active.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (AccountView, error) {
	acc, err := s.createAccount(ctx, input)
	if err != nil {
		return AccountView{}, s.finish("create_account", err, slog.String("owner_id", input.OwnerID))
	}
	s.finish("create_account", nil)
	return acc.View(), nil
}

func (s *Service) createAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	if input.ActorID == "" {
		return Account{}, ErrActorRequired
	}
	owner := strings.TrimSpace(input.OwnerID)
	if owner == "" {
		return Account{}, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	if !input.Variant.Valid() {
		return Account{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidInput, input.Variant)
	}
	cur, err := s.cfg.Currencies.ValidateCurrency(input.Currency)
	if err != nil {
		return Account{}, err
	}
	now := s.now()
	acc := Account{
		ID:        uuid.New(),
		OwnerID:   owner,
		Variant:   input.Variant,
		Currency:  cur,
		Status:    initialStatus(input.Variant),
		Version:   1,
		CreatedBy: input.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	limits := LimitsInput{
		CreditLimit:         &input.CreditLimit,
		OverdraftLimit:      &input.OverdraftLimit,
		PaymentTermDays:     &input.PaymentTermDays,
		InterestRate:        &input.InterestRate,
		OverdraftFee:        &input.OverdraftFee,
		DailyLimit:          &input.DailyLimit,
		MonthlyLimit:        &input.MonthlyLimit,
		LowBalanceThreshold: &input.LowBalanceThreshold,
	}
	if input.Variant == VariantCredit && input.PaymentTermDays == 0 {
		term := defaultPaymentTermDays
		limits.PaymentTermDays = &term
	}
	if err := applyLimits(&acc, limits); err != nil {
		return Account{}, err
	}
	ctx = context.WithoutCancel(ctx)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertAccount(ctx, acc)
	})
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ledger.account.create", acc.ID.String(), map[string]any{
		"owner_id": acc.OwnerID,
		"variant":  string(acc.Variant),
		"currency": acc.Currency,
	})
	s.bumpStats(ctx)
	return acc, nil
}

// applyLimits validates and copies the non-nil limit fields onto acc.
func applyLimits(acc *Account, in LimitsInput) error {
	money := func(v *decimal.Decimal, dst *decimal.Decimal) error {
		if v == nil {
			return nil
		}
		if err := validatePrecision(*v, acc.Currency, true); err != nil {
			return err
		}
		*dst = *v
		return nil
	}
	if acc.Variant == VariantCredit {
		if err := money(in.CreditLimit, &acc.CreditLimit); err != nil {
			return err
		}
		if err := money(in.OverdraftLimit, &acc.OverdraftLimit); err != nil {
			return err
		}
		if err := money(in.OverdraftFee, &acc.OverdraftFee); err != nil {
			return err
		}
		if in.PaymentTermDays != nil {
			if *in.PaymentTermDays < 0 {
				return fmt.Errorf("%w: payment term must not be negative", ErrInvalidAmount)
			}
			acc.PaymentTermDays = *in.PaymentTermDays
		}
		if in.InterestRate != nil {
			if in.InterestRate.IsNegative() || in.InterestRate.GreaterThan(decimal.NewFromInt(1)) {
				return fmt.Errorf("%w: interest rate must be within [0, 1]", ErrInvalidAmount)
			}
			acc.InterestRate = *in.InterestRate
		}
		if acc.UsedCredit.GreaterThan(acc.CreditLimit.Add(acc.OverdraftLimit)) {
			return fmt.Errorf("%w: used credit %s above new line", ErrCreditLimitExceeded, acc.UsedCredit)
		}
		return nil
	}
	if err := money(in.DailyLimit, &acc.DailyLimit); err != nil {
		return err
	}
	if err := money(in.MonthlyLimit, &acc.MonthlyLimit); err != nil {
		return err
	}
	return money(in.LowBalanceThreshold, &acc.LowBalanceThreshold)
}

// UpdateLimits changes the limits of an open account.
func (s *Service) UpdateLimits(ctx context.Context, input LimitsInput) (AccountView, error) {
	if input.ActorID == "" {
		return AccountView{}, s.finish("update_limits", ErrActorRequired)
	}
	u, err := s.guard(ctx, input.AccountID, func(ctx context.Context, u *unit) error {
		if u.acc.Status == AccountClosed {
			return fmt.Errorf("%w: account %s is closed", ErrAccountInactive, u.acc.ID)
		}
		return applyLimits(u.acc, input)
	})
	if err != nil {
		return AccountView{}, s.finish("update_limits", err, slog.String("account_id", input.AccountID.String()))
	}
	s.finish("update_limits", nil)
	s.recordAudit(ctx, input.ActorID, "ledger.account.limits", input.AccountID.String(), map[string]any{
		"credit_limit":    u.acc.CreditLimit.String(),
		"overdraft_limit": u.acc.OverdraftLimit.String(),
		"daily_limit":     u.acc.DailyLimit.String(),
		"monthly_limit":   u.acc.MonthlyLimit.String(),
	})
	return u.acc.View(), nil
}

// ActivateAccount approves a credit line waiting for approval.
func (s *Service) ActivateAccount(ctx context.Context, input StatusInput) (AccountView, error) {
	return s.changeStatus(ctx, "activate", input, AccountActive, func(acc *Account) error {
		if acc.Status != AccountPendingApproval {
			return fmt.Errorf("%w: account %s is %s, not pending approval", ErrInvalidTransition, acc.ID, acc.Status)
		}
		return nil
	})
}

// SuspendAccount blocks new authorizations. A reason is mandatory.
func (s *Service) SuspendAccount(ctx context.Context, input StatusInput) (AccountView, error) {
	if input.Reason == "" {
		return AccountView{}, s.finish("suspend", ErrReasonRequired)
	}
	return s.changeStatus(ctx, "suspend", input, AccountSuspended, nil)
}

// FreezeAccount blocks a wallet without suspending the customer.
func (s *Service) FreezeAccount(ctx context.Context, input StatusInput) (AccountView, error) {
	return s.changeStatus(ctx, "freeze", input, AccountFrozen, nil)
}

// ReactivateAccount returns a suspended or frozen account to active.
func (s *Service) ReactivateAccount(ctx context.Context, input StatusInput) (AccountView, error) {
	return s.changeStatus(ctx, "reactivate", input, AccountActive, func(acc *Account) error {
		if acc.Status == AccountPendingApproval {
			return fmt.Errorf("%w: account %s must be activated, not reactivated", ErrInvalidTransition, acc.ID)
		}
		return nil
	})
}

// CloseAccount closes an account that carries no value.
func (s *Service) CloseAccount(ctx context.Context, input StatusInput) (AccountView, error) {
	return s.changeStatus(ctx, "close", input, AccountClosed, func(acc *Account) error {
		if acc.hasValue() {
			return fmt.Errorf("%w: account %s", ErrOutstandingBalance, acc.ID)
		}
		return nil
	})
}

func (s *Service) changeStatus(ctx context.Context, op string, input StatusInput, to AccountStatus, check func(*Account) error) (AccountView, error) {
	if input.ActorID == "" {
		return AccountView{}, s.finish(op, ErrActorRequired)
	}
	var from AccountStatus
	u, err := s.guard(ctx, input.AccountID, func(ctx context.Context, u *unit) error {
		from = u.acc.Status
		if check != nil {
			if err := check(u.acc); err != nil {
				return err
			}
		}
		if err := transitionAccount(u.acc, to); err != nil {
			return err
		}
		u.acc.StatusReason = input.Reason
		if to == AccountSuspended {
			u.emit(EventAccountSuspended, u.acc.Position(), map[string]string{"reason": input.Reason})
		}
		return nil
	})
	if err != nil {
		return AccountView{}, s.finish(op, err, slog.String("account_id", input.AccountID.String()))
	}
	s.finish(op, nil)
	s.publish(ctx, u.events)
	s.recordAudit(ctx, input.ActorID, "ledger.account."+op, input.AccountID.String(), map[string]any{
		"from":   string(from),
		"to":     string(to),
		"reason": input.Reason,
	})
	return u.acc.View(), nil
}

// GetAccount returns the account with its derived figures.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (AccountView, error) {
	acc, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return AccountView{}, err
	}
	return acc.View(), nil
}

// ListAccounts lists accounts matching filter.
func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter) ([]AccountView, error) {
	accounts, err := s.repo.ListAccounts(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, acc.View())
	}
	return views, nil
}

// GetTransaction loads a journal record.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions lists an account's journal, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]Transaction, error) {
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, accountID, filter)
}
