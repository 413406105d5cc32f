package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// unit is one attempt of a guarded mutation. It is rebuilt on every retry so
// nothing computed by a losing attempt leaks into the next one.
type unit struct {
	tx        TxRepository
	acc       *Account
	now       time.Time
	events    []Event
	skipWrite bool
}

// guard runs fn against a freshly loaded account and writes the account back
// on the condition that its version did not move. Version conflicts are
// retried with jittered backoff; after MaxRetries the caller gets
// ErrConcurrencyConflict. Any other error aborts the unit with nothing written.
func (s *Service) guard(ctx context.Context, accountID uuid.UUID, fn func(context.Context, *unit) error) (*unit, error) {
	ctx = context.WithoutCancel(ctx)
	for attempt := 0; ; attempt++ {
		var done *unit
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			acc, err := tx.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			u := &unit{tx: tx, acc: &acc, now: s.now()}
			expected := acc.Version
			if err := fn(ctx, u); err != nil {
				return err
			}
			if !u.skipWrite {
				acc.Version = expected + 1
				acc.UpdatedAt = u.now
				if err := tx.UpdateAccount(ctx, acc, expected); err != nil {
					return err
				}
			}
			done = u
			return nil
		})
		if err == nil {
			if attempt > 0 {
				s.metrics.retried(attempt)
			}
			if !done.skipWrite {
				s.bumpStats(ctx)
			}
			return done, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		if attempt >= s.cfg.MaxRetries {
			s.metrics.conflict()
			return nil, fmt.Errorf("%w: account %s after %d attempts", ErrConcurrencyConflict, accountID, attempt+1)
		}
		time.Sleep(s.backoff(attempt))
	}
}

func (s *Service) backoff(attempt int) time.Duration {
	base := s.cfg.RetryBaseDelay << min(attempt, 5)
	return base/2 + rand.N(base/2+1)
}

// post appends a journal record for a change applied by apply. The record's
// balanceBefore/After bracket the account position, and the change must be
// exactly the effect implied by the record's direction.
func (u *unit) post(ctx context.Context, txn *Transaction, apply func()) error {
	before := u.acc.Position()
	if apply != nil {
		apply()
	}
	after := u.acc.Position()
	if !after.Sub(before).Equal(Effect(u.acc.Variant, txn.Direction, txn.Amount)) {
		return fmt.Errorf("ledger: %s record on account %s does not match its effect", txn.Type, u.acc.ID)
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.AccountID = u.acc.ID
	txn.Currency = u.acc.Currency
	txn.BalanceBefore = before
	txn.BalanceAfter = after
	txn.CreatedAt = u.now
	txn.UpdatedAt = u.now
	return u.tx.InsertTransaction(ctx, txn)
}

// release returns the held amount of an authorization to the account.
func (u *unit) release(ctx context.Context, auth Transaction, amount decimal.Decimal, reason string) (*Transaction, error) {
	parent := auth.ID
	rec := &Transaction{
		ParentID:    &parent,
		ExternalRef: auth.ExternalRef,
		Type:        TxAdjustment,
		Status:      StatusSettled,
		Direction:   DirectionCredit,
		Amount:      amount,
		Metadata:    map[string]string{"kind": "release", "reason": reason},
	}
	err := u.post(ctx, rec, func() {
		if u.acc.Variant == VariantCredit {
			u.acc.UsedCredit = u.acc.UsedCredit.Sub(amount)
			return
		}
		u.acc.ReservedBalance = u.acc.ReservedBalance.Sub(amount)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (u *unit) emit(typ EventType, amount decimal.Decimal, meta map[string]string) {
	u.events = append(u.events, Event{
		AccountID: u.acc.ID,
		Type:      typ,
		Amount:    amount,
		Currency:  u.acc.Currency,
		Timestamp: u.now,
		Metadata:  meta,
	})
}

// checkLowBalance emits low_balance when a wallet crosses below its threshold.
func (u *unit) checkLowBalance(before decimal.Decimal) {
	if u.acc.Variant != VariantWallet || !u.acc.LowBalanceThreshold.IsPositive() {
		return
	}
	after := u.acc.AvailableBalance()
	if before.GreaterThanOrEqual(u.acc.LowBalanceThreshold) && after.LessThan(u.acc.LowBalanceThreshold) {
		u.emit(EventLowBalance, after, map[string]string{"threshold": u.acc.LowBalanceThreshold.String()})
	}
}

func (u *unit) requireActive() error {
	if u.acc.Status != AccountActive {
		return fmt.Errorf("%w: account %s is %s", ErrAccountInactive, u.acc.ID, u.acc.Status)
	}
	return nil
}
