package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReplayBreak is a record whose stored balances disagree with the fold.
type ReplayBreak struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Seq           int64           `json:"seq"`
	Expected      decimal.Decimal `json:"expected_before"`
	Stored        decimal.Decimal `json:"stored_before"`
	ExpectedAfter decimal.Decimal `json:"expected_after"`
	StoredAfter   decimal.Decimal `json:"stored_after"`
}

// ReplayReport is the outcome of folding an account's journal.
type ReplayReport struct {
	AccountID      uuid.UUID       `json:"account_id"`
	Variant        Variant         `json:"variant"`
	Records        int             `json:"records"`
	Position       decimal.Decimal `json:"position"`
	StoredPosition decimal.Decimal `json:"stored_position"`
	OpenHolds      decimal.Decimal `json:"open_holds"`
	StoredHolds    decimal.Decimal `json:"stored_holds"`
	Breaks         []ReplayBreak   `json:"breaks,omitempty"`
	Match          bool            `json:"match"`
}

// ReplayJournal folds records in seq order and compares the result with acc.
// For wallets the open holds must also equal the reserved balance.
func ReplayJournal(acc Account, records []Transaction) ReplayReport {
	report := ReplayReport{
		AccountID:      acc.ID,
		Variant:        acc.Variant,
		Records:        len(records),
		Position:       decimal.Zero,
		StoredPosition: acc.Position(),
		OpenHolds:      decimal.Zero,
	}
	for _, rec := range records {
		after := report.Position.Add(Effect(acc.Variant, rec.Direction, rec.Amount))
		if !rec.BalanceBefore.Equal(report.Position) || !rec.BalanceAfter.Equal(after) {
			report.Breaks = append(report.Breaks, ReplayBreak{
				TransactionID: rec.ID,
				Seq:           rec.Seq,
				Expected:      report.Position,
				Stored:        rec.BalanceBefore,
				ExpectedAfter: after,
				StoredAfter:   rec.BalanceAfter,
			})
		}
		report.Position = after
		if rec.Type == TxAuthorization && rec.Status == StatusAuthorized {
			report.OpenHolds = report.OpenHolds.Add(rec.Amount)
		}
	}
	report.StoredHolds = report.OpenHolds
	if acc.Variant == VariantWallet {
		report.StoredHolds = acc.ReservedBalance
	}
	report.Match = len(report.Breaks) == 0 &&
		report.Position.Equal(report.StoredPosition) &&
		report.OpenHolds.Equal(report.StoredHolds)
	return report
}

// Replay rebuilds an account's position from its journal. When the journal
// does not reproduce the stored account the report is returned together with
// ErrReplayMismatch.
func (s *Service) Replay(ctx context.Context, accountID uuid.UUID) (ReplayReport, error) {
	var (
		acc     Account
		records []Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if acc, err = tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		records, err = tx.Journal(ctx, accountID)
		return err
	})
	if err != nil {
		return ReplayReport{}, err
	}
	report := ReplayJournal(acc, records)
	if !report.Match {
		err := fmt.Errorf("%w: account %s position %s, journal %s", ErrReplayMismatch, acc.ID, report.StoredPosition, report.Position)
		s.logger.Error("ledger: replay mismatch",
			slog.String("account_id", acc.ID.String()),
			slog.Int("breaks", len(report.Breaks)))
		return report, err
	}
	return report, nil
}
