package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/parcelhub/ledger/internal/shared"
)

const signalModule = "ledger_signal"

// SignalStatus is the outcome reported by the payment collaborator.
type SignalStatus string

const (
	SignalSucceeded SignalStatus = "succeeded"
	SignalFailed    SignalStatus = "failed"
)

// SettlementSignal reports that funds for an external reference settled or failed.
type SettlementSignal struct {
	ExternalReference string
	Amount            decimal.Decimal
	Currency          string
	Status            SignalStatus
}

// SignalOutcome describes what a signal did.
type SignalOutcome string

const (
	OutcomeSettled   SignalOutcome = "settled"
	OutcomeFailed    SignalOutcome = "failed"
	OutcomeDuplicate SignalOutcome = "duplicate"
	OutcomeNoop      SignalOutcome = "noop"
)

// SignalResult is returned by HandleSettlementSignal.
type SignalResult struct {
	Outcome       SignalOutcome `json:"outcome"`
	Authorization Transaction   `json:"authorization"`
}

// HandleSettlementSignal applies an inbound settlement signal to the pending
// authorization with the same external reference. Duplicate deliveries are
// absorbed; a signal for an authorization already in the matching terminal
// state is a no-op.
func (s *Service) HandleSettlementSignal(ctx context.Context, sig SettlementSignal) (SignalResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SignalTimeout)
	defer cancel()
	res, err := s.handleSignal(ctx, sig)
	return res, s.finish("settlement_signal", err, slog.String("external_ref", sig.ExternalReference))
}

func (s *Service) handleSignal(ctx context.Context, sig SettlementSignal) (SignalResult, error) {
	ref := strings.TrimSpace(sig.ExternalReference)
	if ref == "" {
		return SignalResult{}, fmt.Errorf("%w: external reference required", ErrInvalidInput)
	}
	if sig.Status != SignalSucceeded && sig.Status != SignalFailed {
		return SignalResult{}, fmt.Errorf("%w: unknown signal status %q", ErrInvalidInput, sig.Status)
	}
	cur, err := NormalizeCurrency(sig.Currency)
	if err != nil {
		return SignalResult{}, err
	}

	auth, err := s.repo.FindAuthorizationByExternalRef(ctx, ref)
	if err != nil {
		return SignalResult{}, err
	}

	key := "signal:" + auth.ID.String() + ":" + string(sig.Status)
	if s.signals != nil {
		if err := s.signals.CheckAndInsert(ctx, key, signalModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return SignalResult{Outcome: OutcomeDuplicate, Authorization: auth}, nil
			}
			return SignalResult{}, err
		}
	}
	res, err := s.applySignal(ctx, auth, cur, sig)
	if err != nil && s.signals != nil {
		if delErr := s.signals.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("ledger: release signal key", slog.String("key", key), slog.Any("error", delErr))
		}
	}
	return res, err
}

func (s *Service) applySignal(ctx context.Context, auth Transaction, cur string, sig SettlementSignal) (SignalResult, error) {
	if auth.Currency != cur {
		return SignalResult{}, fmt.Errorf("%w: currency %s, authorization holds %s", ErrSignalMismatch, cur, auth.Currency)
	}
	if !auth.Amount.Equal(sig.Amount) {
		return SignalResult{}, fmt.Errorf("%w: amount %s, authorization holds %s", ErrSignalMismatch, sig.Amount, auth.Amount)
	}
	if done, ok := signalAlreadyApplied(auth, sig.Status); ok {
		return SignalResult{Outcome: done, Authorization: auth}, nil
	}

	var result SignalResult
	u, err := s.guard(ctx, auth.AccountID, func(ctx context.Context, u *unit) error {
		current, err := u.tx.GetTransaction(ctx, auth.ID)
		if err != nil {
			return err
		}
		if _, ok := signalAlreadyApplied(current, sig.Status); ok {
			result = SignalResult{Outcome: OutcomeNoop, Authorization: current}
			u.skipWrite = true
			return nil
		}
		if sig.Status == SignalSucceeded {
			res, err := settleUnit(ctx, u, auth.ID, nil)
			if err != nil {
				return err
			}
			result = SignalResult{Outcome: OutcomeSettled, Authorization: res.Authorization}
			return nil
		}
		failed, err := closeAuthorization(ctx, u, auth.ID, StatusFailed, "signal_failed")
		if err != nil {
			return err
		}
		result = SignalResult{Outcome: OutcomeFailed, Authorization: failed}
		return nil
	})
	if err != nil {
		return SignalResult{}, err
	}
	s.publish(ctx, u.events)
	return result, nil
}

func signalAlreadyApplied(auth Transaction, status SignalStatus) (SignalOutcome, bool) {
	switch {
	case status == SignalSucceeded && (auth.Status == StatusSettled || auth.Status == StatusRefunded):
		return OutcomeNoop, true
	case status == SignalFailed && auth.Status == StatusFailed:
		return OutcomeNoop, true
	}
	return "", false
}
