package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxCount aggregates journal records by type, status and currency.
type TxCount struct {
	Type     TxType          `json:"type"`
	Status   TxStatus        `json:"status"`
	Currency string          `json:"currency"`
	Count    int64           `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
}

// AccountStatistics summarises one account's journal.
type AccountStatistics struct {
	Account            AccountView     `json:"account"`
	Records            int             `json:"records"`
	OpenHolds          decimal.Decimal `json:"open_holds"`
	OpenHoldCount      int             `json:"open_hold_count"`
	Authorized         decimal.Decimal `json:"authorized"`
	Settled            decimal.Decimal `json:"settled"`
	Refunded           decimal.Decimal `json:"refunded"`
	Payments           decimal.Decimal `json:"payments"`
	Interest           decimal.Decimal `json:"interest"`
	Fees               decimal.Decimal `json:"fees"`
	OverdueCharges     int             `json:"overdue_charges"`
	OverdueOutstanding decimal.Decimal `json:"overdue_outstanding"`
	ByType             map[TxType]int  `json:"by_type"`
}

// VariantTotals aggregates accounts of one variant and currency.
type VariantTotals struct {
	Variant        Variant               `json:"variant"`
	Currency       string                `json:"currency"`
	Accounts       int                   `json:"accounts"`
	ByStatus       map[AccountStatus]int `json:"by_status"`
	CreditLimit    decimal.Decimal       `json:"credit_limit"`
	UsedCredit     decimal.Decimal       `json:"used_credit"`
	AccruedCharges decimal.Decimal       `json:"accrued_charges"`
	Balance        decimal.Decimal       `json:"balance"`
	Reserved       decimal.Decimal       `json:"reserved"`
}

// LedgerStatistics is the ledger-wide summary.
type LedgerStatistics struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	Totals       []VariantTotals `json:"totals"`
	Transactions []TxCount       `json:"transactions"`
}

// AccountStatistics summarises an account and its journal.
func (s *Service) AccountStatistics(ctx context.Context, accountID uuid.UUID) (AccountStatistics, error) {
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
		return AccountStatistics{}, err
	}
	return SummariseJournal(acc, records), nil
}

// SummariseJournal computes AccountStatistics from an account's records.
func SummariseJournal(acc Account, records []Transaction) AccountStatistics {
	stats := AccountStatistics{
		Account:            acc.View(),
		Records:            len(records),
		OpenHolds:          decimal.Zero,
		Authorized:         decimal.Zero,
		Settled:            decimal.Zero,
		Refunded:           decimal.Zero,
		Payments:           decimal.Zero,
		Interest:           decimal.Zero,
		Fees:               decimal.Zero,
		OverdueOutstanding: decimal.Zero,
		ByType:             make(map[TxType]int),
	}
	for _, rec := range records {
		stats.ByType[rec.Type]++
		switch rec.Type {
		case TxAuthorization:
			stats.Authorized = stats.Authorized.Add(rec.Amount)
			stats.Settled = stats.Settled.Add(rec.SettledAmount)
			if rec.Status == StatusAuthorized {
				stats.OpenHolds = stats.OpenHolds.Add(rec.Amount)
				stats.OpenHoldCount++
			}
		case TxRefund:
			stats.Refunded = stats.Refunded.Add(rec.Amount)
		case TxPayment:
			stats.Payments = stats.Payments.Add(rec.Amount)
		case TxInterest:
			stats.Interest = stats.Interest.Add(rec.Amount)
		case TxFee:
			stats.Fees = stats.Fees.Add(rec.Amount)
		case TxCharge:
			if rec.Status == StatusOverdue {
				stats.OverdueCharges++
				stats.OverdueOutstanding = stats.OverdueOutstanding.Add(rec.Outstanding())
			}
		}
	}
	return stats
}

// LedgerStatistics returns ledger-wide totals, served from the statistics
// cache when one is configured. Every committed account change invalidates
// the cache.
func (s *Service) LedgerStatistics(ctx context.Context) (LedgerStatistics, error) {
	key, err := s.cache.BuildKey(ctx, "ledger", "stats")
	if err != nil {
		return LedgerStatistics{}, err
	}
	var out LedgerStatistics
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return s.computeLedgerStatistics(ctx)
	})
	return out, err
}

func (s *Service) computeLedgerStatistics(ctx context.Context) (LedgerStatistics, error) {
	accounts, err := s.repo.ListAccounts(ctx, AccountFilter{})
	if err != nil {
		return LedgerStatistics{}, err
	}
	counts, err := s.repo.TransactionCounts(ctx)
	if err != nil {
		return LedgerStatistics{}, err
	}
	sort.Slice(counts, func(i, j int) bool {
		a, b := counts[i], counts[j]
		if a.Currency != b.Currency {
			return a.Currency < b.Currency
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Status < b.Status
	})
	return LedgerStatistics{
		GeneratedAt:  s.now(),
		Totals:       ComputeTotals(accounts),
		Transactions: counts,
	}, nil
}

// ComputeTotals groups accounts by variant and currency.
func ComputeTotals(accounts []Account) []VariantTotals {
	type groupKey struct {
		variant  Variant
		currency string
	}
	groups := make(map[groupKey]*VariantTotals)
	for _, acc := range accounts {
		k := groupKey{acc.Variant, acc.Currency}
		t, ok := groups[k]
		if !ok {
			t = &VariantTotals{
				Variant:        acc.Variant,
				Currency:       acc.Currency,
				ByStatus:       make(map[AccountStatus]int),
				CreditLimit:    decimal.Zero,
				UsedCredit:     decimal.Zero,
				AccruedCharges: decimal.Zero,
				Balance:        decimal.Zero,
				Reserved:       decimal.Zero,
			}
			groups[k] = t
		}
		t.Accounts++
		t.ByStatus[acc.Status]++
		t.CreditLimit = t.CreditLimit.Add(acc.CreditLimit)
		t.UsedCredit = t.UsedCredit.Add(acc.UsedCredit)
		t.AccruedCharges = t.AccruedCharges.Add(acc.AccruedCharges)
		t.Balance = t.Balance.Add(acc.Balance)
		t.Reserved = t.Reserved.Add(acc.ReservedBalance)
	}
	out := make([]VariantTotals, 0, len(groups))
	for _, t := range groups {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Variant != out[j].Variant {
			return out[i].Variant < out[j].Variant
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}
