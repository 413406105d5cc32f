package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CancelInput voids an open authorization.
type CancelInput struct {
	TransactionID uuid.UUID
	Reason        string
}

// RefundInput returns part or all of a settled authorization.
type RefundInput struct {
	TransactionID  uuid.UUID
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// CancelAuthorization releases the full hold of an authorization.
func (s *Service) CancelAuthorization(ctx context.Context, input CancelInput) (Transaction, error) {
	txn, err := s.cancel(ctx, input)
	return txn, s.finish("cancel", err, slog.String("transaction_id", input.TransactionID.String()))
}

func (s *Service) cancel(ctx context.Context, input CancelInput) (Transaction, error) {
	auth, err := s.repo.GetTransaction(ctx, input.TransactionID)
	if err != nil {
		return Transaction{}, err
	}
	var result Transaction
	u, err := s.guard(ctx, auth.AccountID, func(ctx context.Context, u *unit) error {
		txn, err := closeAuthorization(ctx, u, input.TransactionID, StatusCancelled, input.Reason)
		if err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.publish(ctx, u.events)
	return result, nil
}

// closeAuthorization moves an open authorization to cancelled or failed and
// releases its hold.
func closeAuthorization(ctx context.Context, u *unit, id uuid.UUID, to TxStatus, reason string) (Transaction, error) {
	auth, err := u.tx.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if err := checkOpenAuthorization(auth); err != nil {
		return Transaction{}, err
	}
	if err := transition(&auth, to); err != nil {
		return Transaction{}, err
	}
	if reason != "" {
		auth.Metadata = withMeta(auth.Metadata, "reason", reason)
	}
	auth.UpdatedAt = u.now
	if err := u.tx.UpdateTransaction(ctx, auth); err != nil {
		return Transaction{}, err
	}
	kind := string(to)
	if reason != "" {
		kind = reason
	}
	if _, err := u.release(ctx, auth, auth.Amount, kind); err != nil {
		return Transaction{}, err
	}
	return auth, nil
}

// Refund returns money against a settled authorization. A charge ID is
// resolved to the authorization it settled.
func (s *Service) Refund(ctx context.Context, input RefundInput) (Transaction, error) {
	txn, err := s.refund(ctx, input)
	return txn, s.finish("refund", err, slog.String("transaction_id", input.TransactionID.String()))
}

func (s *Service) refund(ctx context.Context, input RefundInput) (Transaction, error) {
	target, err := s.repo.GetTransaction(ctx, input.TransactionID)
	if err != nil {
		return Transaction{}, err
	}
	if err := validatePrecision(input.Amount, target.Currency, false); err != nil {
		return Transaction{}, err
	}
	if existing, ok, err := s.lookupIdempotent(ctx, input.IdempotencyKey); err != nil || ok {
		return existing, err
	}

	var result Transaction
	_, err = s.guard(ctx, target.AccountID, func(ctx context.Context, u *unit) error {
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
		if u.acc.Status == AccountClosed {
			return fmt.Errorf("%w: account %s is closed", ErrAccountInactive, u.acc.ID)
		}
		auth, err := u.tx.GetTransaction(ctx, input.TransactionID)
		if err != nil {
			return err
		}
		if auth.Type == TxCharge && auth.ParentID != nil {
			if auth, err = u.tx.GetTransaction(ctx, *auth.ParentID); err != nil {
				return err
			}
		}
		if auth.Type != TxAuthorization {
			return fmt.Errorf("%w: %s is a %s record", ErrInvalidTransition, auth.ID, auth.Type)
		}
		switch auth.Status {
		case StatusSettled, StatusRefunded:
		case StatusCancelled:
			return fmt.Errorf("%w: %s", ErrAlreadyCancelled, auth.ID)
		default:
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, auth.ID, auth.Status)
		}
		remaining := auth.SettledAmount.Sub(auth.RefundedAmount)
		if input.Amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: %s requested, %s refundable", ErrRefundExceedsSettled, input.Amount, remaining)
		}

		parent := auth.ID
		rec := &Transaction{
			ParentID:       &parent,
			ExternalRef:    auth.ExternalRef,
			IdempotencyKey: input.IdempotencyKey,
			Type:           TxRefund,
			Status:         StatusPending,
			Direction:      DirectionCredit,
			Amount:         input.Amount,
		}
		if input.Reason != "" {
			rec.Metadata = map[string]string{"reason": input.Reason}
		}
		if err := transition(rec, StatusSettled); err != nil {
			return err
		}
		err = u.post(ctx, rec, func() {
			if u.acc.Variant == VariantCredit {
				u.acc.UsedCredit = u.acc.UsedCredit.Sub(input.Amount)
				return
			}
			u.acc.Balance = u.acc.Balance.Add(input.Amount)
		})
		if err != nil {
			return err
		}

		auth.RefundedAmount = auth.RefundedAmount.Add(input.Amount)
		if auth.RefundedAmount.Equal(auth.SettledAmount) {
			if err := transition(&auth, StatusRefunded); err != nil {
				return err
			}
		}
		auth.UpdatedAt = u.now
		if err := u.tx.UpdateTransaction(ctx, auth); err != nil {
			return err
		}
		if u.acc.Variant == VariantCredit {
			if err := shrinkCharge(ctx, u, auth.ID, input.Amount); err != nil {
				return err
			}
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

// shrinkCharge books a refund against the charge an authorization produced.
func shrinkCharge(ctx context.Context, u *unit, authID uuid.UUID, amount decimal.Decimal) error {
	charge, err := u.tx.FindChild(ctx, authID, TxCharge)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	charge.RefundedAmount = charge.RefundedAmount.Add(amount)
	if charge.Status == StatusOverdue && charge.Outstanding().IsZero() {
		if err := transition(&charge, StatusSettled); err != nil {
			return err
		}
	}
	charge.UpdatedAt = u.now
	return u.tx.UpdateTransaction(ctx, charge)
}

func withMeta(meta map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[key] = value
	return out
}
