package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuthorizeInput describes a hold request against an account.
type AuthorizeInput struct {
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	DueInDays      *int
	ExternalRef    string
	Metadata       map[string]string
}

// Authorize places a hold on the account. A repeated idempotency key returns
// the original record unchanged.
func (s *Service) Authorize(ctx context.Context, input AuthorizeInput) (Transaction, error) {
	txn, err := s.authorize(ctx, input)
	return txn, s.finish("authorize", err,
		slog.String("account_id", input.AccountID.String()),
		slog.String("idempotency_key", input.IdempotencyKey))
}

func (s *Service) authorize(ctx context.Context, input AuthorizeInput) (Transaction, error) {
	cur, err := s.cfg.Currencies.ValidateCurrency(input.Currency)
	if err != nil {
		return Transaction{}, err
	}
	if err := s.cfg.Currencies.ValidateAmount(input.Amount, cur); err != nil {
		return Transaction{}, err
	}
	if input.DueInDays != nil && *input.DueInDays < 0 {
		return Transaction{}, fmt.Errorf("%w: due days must not be negative", ErrInvalidAmount)
	}
	if existing, ok, err := s.lookupIdempotent(ctx, input.IdempotencyKey); err != nil || ok {
		return existing, err
	}

	var result Transaction
	u, err := s.guard(ctx, input.AccountID, func(ctx context.Context, u *unit) error {
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
		if err := u.requireActive(); err != nil {
			return err
		}
		if u.acc.Currency != cur {
			return fmt.Errorf("%w: account %s holds %s", ErrInvalidCurrency, u.acc.ID, u.acc.Currency)
		}
		if err := s.checkFunds(ctx, u, input.Amount); err != nil {
			return err
		}

		txn := &Transaction{
			Type:           TxAuthorization,
			Status:         StatusPending,
			Direction:      DirectionDebit,
			Amount:         input.Amount,
			ExternalRef:    input.ExternalRef,
			IdempotencyKey: input.IdempotencyKey,
			Metadata:       input.Metadata,
		}
		if u.acc.Variant == VariantCredit {
			days := u.acc.PaymentTermDays
			if input.DueInDays != nil {
				days = *input.DueInDays
			}
			due := u.now.AddDate(0, 0, days)
			txn.DueDate = &due
		}
		if err := transition(txn, StatusAuthorized); err != nil {
			return err
		}
		before := u.acc.AvailableBalance()
		err := u.post(ctx, txn, func() {
			if u.acc.Variant == VariantCredit {
				u.acc.UsedCredit = u.acc.UsedCredit.Add(input.Amount)
				return
			}
			u.acc.ReservedBalance = u.acc.ReservedBalance.Add(input.Amount)
		})
		if err != nil {
			return err
		}
		u.emit(EventAuthorized, input.Amount, map[string]string{"transaction_id": txn.ID.String()})
		u.checkLowBalance(before)
		result = *txn
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Lost the race against a concurrent request carrying the same key.
		return s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	}
	if err != nil {
		return Transaction{}, err
	}
	s.publish(ctx, u.events)
	return result, nil
}

func (s *Service) checkFunds(ctx context.Context, u *unit, amount decimal.Decimal) error {
	if u.acc.Variant == VariantCredit {
		if amount.GreaterThan(u.acc.AvailableCredit()) {
			return fmt.Errorf("%w: available %s, requested %s", ErrCreditLimitExceeded, u.acc.AvailableCredit(), amount)
		}
		return nil
	}
	if amount.GreaterThan(u.acc.AvailableBalance()) {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientFunds, u.acc.AvailableBalance(), amount)
	}
	if u.acc.DailyLimit.IsPositive() {
		spent, err := u.tx.SumAuthorized(ctx, u.acc.ID, startOfDay(u.now))
		if err != nil {
			return err
		}
		if spent.Add(amount).GreaterThan(u.acc.DailyLimit) {
			return fmt.Errorf("%w: daily limit %s", ErrSpendingLimitExceeded, u.acc.DailyLimit)
		}
	}
	if u.acc.MonthlyLimit.IsPositive() {
		spent, err := u.tx.SumAuthorized(ctx, u.acc.ID, startOfMonth(u.now))
		if err != nil {
			return err
		}
		if spent.Add(amount).GreaterThan(u.acc.MonthlyLimit) {
			return fmt.Errorf("%w: monthly limit %s", ErrSpendingLimitExceeded, u.acc.MonthlyLimit)
		}
	}
	return nil
}

// lookupIdempotent returns the record already stored under key, if any.
func (s *Service) lookupIdempotent(ctx context.Context, key string) (Transaction, bool, error) {
	if key == "" {
		return Transaction{}, false, nil
	}
	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err == nil {
		return existing, true, nil
	}
	if errors.Is(err, ErrTransactionNotFound) {
		return Transaction{}, false, nil
	}
	return Transaction{}, false, err
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
