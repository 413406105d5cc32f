package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettleInput finalises an authorization. A nil Amount settles the full hold.
type SettleInput struct {
	TransactionID uuid.UUID
	Amount        *decimal.Decimal
}

// SettleResult carries the settled authorization and the charge it produced.
type SettleResult struct {
	Authorization Transaction  `json:"authorization"`
	Charge        Transaction  `json:"charge"`
	Release       *Transaction `json:"release,omitempty"`
}

// Settle converts an authorization into a charge. Any unsettled remainder is
// released back to the account.
func (s *Service) Settle(ctx context.Context, input SettleInput) (SettleResult, error) {
	res, err := s.settle(ctx, input)
	return res, s.finish("settle", err, slog.String("transaction_id", input.TransactionID.String()))
}

func (s *Service) settle(ctx context.Context, input SettleInput) (SettleResult, error) {
	auth, err := s.repo.GetTransaction(ctx, input.TransactionID)
	if err != nil {
		return SettleResult{}, err
	}
	var result SettleResult
	u, err := s.guard(ctx, auth.AccountID, func(ctx context.Context, u *unit) error {
		res, err := settleUnit(ctx, u, input.TransactionID, input.Amount)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return SettleResult{}, err
	}
	s.publish(ctx, u.events)
	return result, nil
}

func settleUnit(ctx context.Context, u *unit, id uuid.UUID, amount *decimal.Decimal) (SettleResult, error) {
	auth, err := u.tx.GetTransaction(ctx, id)
	if err != nil {
		return SettleResult{}, err
	}
	if err := checkOpenAuthorization(auth); err != nil {
		return SettleResult{}, err
	}
	settleAmount := auth.Amount
	if amount != nil {
		settleAmount = *amount
	}
	if err := validatePrecision(settleAmount, auth.Currency, false); err != nil {
		return SettleResult{}, err
	}
	if settleAmount.GreaterThan(auth.Amount) {
		return SettleResult{}, fmt.Errorf("%w: %s over hold of %s", ErrSettlementExceedsAuthorization, settleAmount, auth.Amount)
	}

	if err := transition(&auth, StatusSettled); err != nil {
		return SettleResult{}, err
	}
	auth.SettledAmount = settleAmount
	auth.UpdatedAt = u.now
	if err := u.tx.UpdateTransaction(ctx, auth); err != nil {
		return SettleResult{}, err
	}

	parent := auth.ID
	charge := &Transaction{
		ParentID:    &parent,
		ExternalRef: auth.ExternalRef,
		Type:        TxCharge,
		Status:      StatusPending,
		Direction:   DirectionNone,
		Amount:      settleAmount,
		DueDate:     auth.DueDate,
	}
	if err := transition(charge, StatusSettled); err != nil {
		return SettleResult{}, err
	}
	before := u.acc.AvailableBalance()
	err = u.post(ctx, charge, func() {
		if u.acc.Variant == VariantWallet {
			u.acc.Balance = u.acc.Balance.Sub(settleAmount)
			u.acc.ReservedBalance = u.acc.ReservedBalance.Sub(settleAmount)
		}
	})
	if err != nil {
		return SettleResult{}, err
	}

	result := SettleResult{Authorization: auth, Charge: *charge}
	if remainder := auth.Amount.Sub(settleAmount); remainder.IsPositive() {
		rel, err := u.release(ctx, auth, remainder, "partial_settlement")
		if err != nil {
			return SettleResult{}, err
		}
		result.Release = rel
	}
	u.emit(EventSettled, settleAmount, map[string]string{
		"transaction_id": auth.ID.String(),
		"charge_id":      charge.ID.String(),
	})
	u.checkLowBalance(before)
	return result, nil
}

// checkOpenAuthorization maps a record that cannot be settled or cancelled to
// the matching error.
func checkOpenAuthorization(txn Transaction) error {
	if txn.Type != TxAuthorization {
		return fmt.Errorf("%w: %s is a %s record", ErrInvalidTransition, txn.ID, txn.Type)
	}
	switch txn.Status {
	case StatusAuthorized:
		return nil
	case StatusSettled, StatusRefunded:
		return fmt.Errorf("%w: %s", ErrAlreadySettled, txn.ID)
	case StatusCancelled:
		return fmt.Errorf("%w: %s", ErrAlreadyCancelled, txn.ID)
	}
	return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, txn.ID, txn.Status)
}
