package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentInput records money received for an account: a repayment on a credit
// line or a top-up of a wallet.
type PaymentInput struct {
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	ExternalRef    string
	IdempotencyKey string
	ActorID        string
}

// AdjustInput is an administrative correction of an account position.
type AdjustInput struct {
	AccountID uuid.UUID
	Direction Direction
	Amount    decimal.Decimal
	Reason    string
	ActorID   string
}

// RecordPayment books a payment. Credit repayments clear accrued interest and
// fees first, then principal across charges oldest due date first.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (Transaction, error) {
	txn, err := s.recordPayment(ctx, input)
	return txn, s.finish("payment", err, slog.String("account_id", input.AccountID.String()))
}

func (s *Service) recordPayment(ctx context.Context, input PaymentInput) (Transaction, error) {
	if existing, ok, err := s.lookupIdempotent(ctx, input.IdempotencyKey); err != nil || ok {
		return existing, err
	}
	var result Transaction
	_, err := s.guard(ctx, input.AccountID, func(ctx context.Context, u *unit) error {
		if input.IdempotencyKey != "" {
			existing, err := u.tx.FindByIdempotencyKey(ctx, input.IdempotencyKey)
			if err == nil {
				result = existing
				u.skipWrite = true
				return nil
			}
			if !errors.Is(err, ErrTransactionNotFound) {
				return err
			}
		}
		if u.acc.Status == AccountClosed || u.acc.Status == AccountPendingApproval {
			return fmt.Errorf("%w: account %s is %s", ErrAccountInactive, u.acc.ID, u.acc.Status)
		}
		if err := validatePrecision(input.Amount, u.acc.Currency, false); err != nil {
			return err
		}
		rec := &Transaction{
			ExternalRef:    input.ExternalRef,
			IdempotencyKey: input.IdempotencyKey,
			Type:           TxPayment,
			Status:         StatusPending,
			Direction:      DirectionCredit,
			Amount:         input.Amount,
		}
		if input.ActorID != "" {
			rec.Metadata = map[string]string{"actor": input.ActorID}
		}
		if err := transition(rec, StatusSettled); err != nil {
			return err
		}
		if u.acc.Variant == VariantWallet {
			if err := u.post(ctx, rec, func() {
				u.acc.Balance = u.acc.Balance.Add(input.Amount)
			}); err != nil {
				return err
			}
			result = *rec
			return nil
		}

		fromCharges := decimal.Min(input.Amount, decimal.Max(u.acc.AccruedCharges, decimal.Zero))
		principal := input.Amount.Sub(fromCharges)
		if err := u.post(ctx, rec, func() {
			u.acc.AccruedCharges = u.acc.AccruedCharges.Sub(fromCharges)
			u.acc.UsedCredit = u.acc.UsedCredit.Sub(principal)
		}); err != nil {
			return err
		}
		if err := allocatePayment(ctx, u, fromCharges, principal); err != nil {
			return err
		}
		result = *rec
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	}
	if err != nil {
		return Transaction{}, err
	}
	return result, nil
}

// allocatePayment spreads a credit repayment over open charges by due date.
// The accrued part clears each charge's fees, then its interest; principal is
// applied separately. A charge whose principal reaches zero leaves the overdue
// state.
func allocatePayment(ctx context.Context, u *unit, accrued, principal decimal.Decimal) error {
	items, err := u.tx.ListOpenItems(ctx, u.acc.ID)
	if err != nil {
		return err
	}
	charges := make([]Transaction, 0, len(items))
	for _, item := range items {
		if item.Type == TxCharge {
			charges = append(charges, item)
		}
	}
	sortByDueDate(charges)
	for i := range charges {
		charge := &charges[i]
		changed := false
		if accrued.IsPositive() && charge.AccruedFees.IsPositive() {
			paid := decimal.Min(accrued, charge.AccruedFees)
			charge.AccruedFees = charge.AccruedFees.Sub(paid)
			accrued = accrued.Sub(paid)
			changed = true
		}
		if accrued.IsPositive() && charge.AccruedInterest.IsPositive() {
			paid := decimal.Min(accrued, charge.AccruedInterest)
			charge.AccruedInterest = charge.AccruedInterest.Sub(paid)
			accrued = accrued.Sub(paid)
			changed = true
		}
		if principal.IsPositive() && charge.Outstanding().IsPositive() {
			paid := decimal.Min(principal, charge.Outstanding())
			charge.PaidAmount = charge.PaidAmount.Add(paid)
			principal = principal.Sub(paid)
			changed = true
		}
		if !changed {
			continue
		}
		if charge.Status == StatusOverdue && charge.Outstanding().IsZero() {
			if err := transition(charge, StatusSettled); err != nil {
				return err
			}
		}
		charge.UpdatedAt = u.now
		if err := u.tx.UpdateTransaction(ctx, *charge); err != nil {
			return err
		}
	}
	return nil
}

func sortByDueDate(items []Transaction) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].DueDate, items[j].DueDate
		switch {
		case a == nil && b == nil:
			return items[i].Seq < items[j].Seq
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return items[i].Seq < items[j].Seq
		}
		return a.Before(*b)
	})
}

// AdjustBalance applies an administrative debit or credit. A reason is mandatory.
func (s *Service) AdjustBalance(ctx context.Context, input AdjustInput) (Transaction, error) {
	txn, err := s.adjust(ctx, input)
	return txn, s.finish("adjust", err, slog.String("account_id", input.AccountID.String()))
}

func (s *Service) adjust(ctx context.Context, input AdjustInput) (Transaction, error) {
	if input.ActorID == "" {
		return Transaction{}, ErrActorRequired
	}
	if input.Reason == "" {
		return Transaction{}, ErrReasonRequired
	}
	if input.Direction != DirectionDebit && input.Direction != DirectionCredit {
		return Transaction{}, fmt.Errorf("%w: direction must be debit or credit", ErrInvalidInput)
	}
	var result Transaction
	u, err := s.guard(ctx, input.AccountID, func(ctx context.Context, u *unit) error {
		if u.acc.Status == AccountClosed {
			return fmt.Errorf("%w: account %s is closed", ErrAccountInactive, u.acc.ID)
		}
		if err := validatePrecision(input.Amount, u.acc.Currency, false); err != nil {
			return err
		}
		amount := input.Amount
		rec := &Transaction{
			Type:      TxAdjustment,
			Status:    StatusPending,
			Direction: input.Direction,
			Amount:    amount,
			Metadata:  map[string]string{"kind": "manual", "reason": input.Reason, "actor": input.ActorID},
		}
		if err := transition(rec, StatusSettled); err != nil {
			return err
		}
		before := u.acc.AvailableBalance()
		var apply func()
		switch {
		case u.acc.Variant == VariantCredit && input.Direction == DirectionDebit:
			if amount.GreaterThan(u.acc.AvailableCredit()) {
				return fmt.Errorf("%w: available %s, adjustment %s", ErrCreditLimitExceeded, u.acc.AvailableCredit(), amount)
			}
			apply = func() { u.acc.UsedCredit = u.acc.UsedCredit.Add(amount) }
		case u.acc.Variant == VariantCredit:
			apply = func() { u.acc.UsedCredit = u.acc.UsedCredit.Sub(amount) }
		case input.Direction == DirectionDebit:
			if amount.GreaterThan(u.acc.AvailableBalance()) {
				return fmt.Errorf("%w: available %s, adjustment %s", ErrInsufficientFunds, u.acc.AvailableBalance(), amount)
			}
			apply = func() { u.acc.Balance = u.acc.Balance.Sub(amount) }
		default:
			apply = func() { u.acc.Balance = u.acc.Balance.Add(amount) }
		}
		if err := u.post(ctx, rec, apply); err != nil {
			return err
		}
		u.checkLowBalance(before)
		result = *rec
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.publish(ctx, u.events)
	s.recordAudit(ctx, input.ActorID, "ledger.adjust", input.AccountID.String(), map[string]any{
		"direction":      string(input.Direction),
		"amount":         input.Amount.String(),
		"reason":         input.Reason,
		"transaction_id": result.ID.String(),
	})
	return result, nil
}
