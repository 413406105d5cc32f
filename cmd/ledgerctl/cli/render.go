package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/parcelhub/ledger/internal/ledger"
)

func renderAccount(w io.Writer, v ledger.AccountView) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "id\t%s\n", v.ID)
	_, _ = fmt.Fprintf(tw, "owner\t%s\n", v.OwnerID)
	_, _ = fmt.Fprintf(tw, "variant\t%s\n", v.Variant)
	_, _ = fmt.Fprintf(tw, "status\t%s\n", v.Status)
	if v.StatusReason != "" {
		_, _ = fmt.Fprintf(tw, "reason\t%s\n", v.StatusReason)
	}
	_, _ = fmt.Fprintf(tw, "currency\t%s\n", v.Currency)
	if v.Variant == ledger.VariantCredit {
		_, _ = fmt.Fprintf(tw, "credit limit\t%s\n", v.CreditLimit.StringFixed(2))
		_, _ = fmt.Fprintf(tw, "used credit\t%s\n", v.UsedCredit.StringFixed(2))
		_, _ = fmt.Fprintf(tw, "accrued charges\t%s\n", v.AccruedCharges.StringFixed(2))
		if v.AvailableCredit != nil {
			_, _ = fmt.Fprintf(tw, "available credit\t%s\n", v.AvailableCredit.StringFixed(2))
		}
	} else {
		_, _ = fmt.Fprintf(tw, "balance\t%s\n", v.Balance.StringFixed(2))
		_, _ = fmt.Fprintf(tw, "reserved\t%s\n", v.ReservedBalance.StringFixed(2))
		if v.AvailableBalance != nil {
			_, _ = fmt.Fprintf(tw, "available balance\t%s\n", v.AvailableBalance.StringFixed(2))
		}
	}
	_, _ = fmt.Fprintf(tw, "version\t%d\n", v.Version)
	_ = tw.Flush()
}

func renderTransaction(w io.Writer, t ledger.Transaction) {
	_, _ = fmt.Fprintf(w, "%s %s %s %s %s (%s -> %s)\n",
		t.ID, t.Type, t.Status, t.Amount.StringFixed(2), t.Currency,
		t.BalanceBefore.StringFixed(2), t.BalanceAfter.StringFixed(2))
}

func renderAccountStats(w io.Writer, s ledger.AccountStatistics) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "account\t%s (%s, %s)\n", s.Account.ID, s.Account.Variant, s.Account.Status)
	_, _ = fmt.Fprintf(tw, "records\t%d\n", s.Records)
	_, _ = fmt.Fprintf(tw, "open holds\t%s (%d)\n", s.OpenHolds.StringFixed(2), s.OpenHoldCount)
	_, _ = fmt.Fprintf(tw, "authorized\t%s\n", s.Authorized.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "settled\t%s\n", s.Settled.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "refunded\t%s\n", s.Refunded.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "payments\t%s\n", s.Payments.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "interest\t%s\n", s.Interest.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "fees\t%s\n", s.Fees.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "overdue\t%d charges, %s outstanding\n", s.OverdueCharges, s.OverdueOutstanding.StringFixed(2))
	_ = tw.Flush()
}

func renderLedgerStats(w io.Writer, s ledger.LedgerStatistics) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VARIANT\tCURRENCY\tACCOUNTS\tUSED CREDIT\tBALANCE\tRESERVED")
	for _, t := range s.Totals {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", t.Variant, t.Currency, t.Accounts,
			t.UsedCredit.StringFixed(2), t.Balance.StringFixed(2), t.Reserved.StringFixed(2))
	}
	_ = tw.Flush()
}

func renderReplay(w io.Writer, r ledger.ReplayReport) {
	state := "MATCH"
	if !r.Match {
		state = "MISMATCH"
	}
	_, _ = fmt.Fprintf(w, "%s %s: %d records, position %s (stored %s)\n",
		state, r.AccountID, r.Records, r.Position.StringFixed(2), r.StoredPosition.StringFixed(2))
	for _, b := range r.Breaks {
		_, _ = fmt.Fprintf(w, "  seq %d %s: expected %s stored %s\n", b.Seq, b.TransactionID, b.Expected.StringFixed(2), b.Stored.StringFixed(2))
	}
}

func renderOverdue(w io.Writer, r ledger.OverdueReport) {
	mode := "applied"
	if r.DryRun {
		mode = "dry run"
	}
	_, _ = fmt.Fprintf(w, "overdue run (%s) at %s\n", mode, r.RunAt.Format("2006-01-02 15:04:05Z07:00"))
	_, _ = fmt.Fprintf(w, "  accounts: %d scanned, %d processed, %d failed\n", r.AccountsScanned, r.AccountsProcessed, r.AccountsFailed)
	_, _ = fmt.Fprintf(w, "  holds expired: %d, charges overdue: %d\n", r.HoldsExpired, r.ChargesOverdue)
	_, _ = fmt.Fprintf(w, "  interest: %s (%d records), fees: %s (%d records)\n",
		r.InterestTotal.StringFixed(2), r.InterestRecords, r.FeeTotal.StringFixed(2), r.FeeRecords)
	if r.ReviewSignals > 0 {
		_, _ = fmt.Fprintf(w, "  review signals: %d\n", r.ReviewSignals)
	}
	for _, f := range r.Failures {
		_, _ = fmt.Fprintf(w, "  failed %s: %s\n", f.AccountID, f.Error)
	}
}
