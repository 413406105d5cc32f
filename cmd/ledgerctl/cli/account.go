package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/parcelhub/ledger/internal/ledger"
)

func (a *App) account(ctx context.Context, args []string) error {
	if err := a.requireLedger(); err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: account subcommand required", errUsage)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		return a.accountCreate(ctx, rest)
	case "activate", "suspend", "freeze", "reactivate", "close":
		return a.accountStatus(ctx, sub, rest)
	case "limits":
		return a.accountLimits(ctx, rest)
	case "adjust":
		return a.accountAdjust(ctx, rest)
	case "pay":
		return a.accountPay(ctx, rest)
	case "status":
		return a.accountShow(ctx, rest)
	case "list":
		return a.accountList(ctx, rest)
	case "stats":
		return a.accountStats(ctx, rest)
	case "replay":
		return a.accountReplay(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown account subcommand %q", errUsage, sub)
	}
}

func (a *App) accountCreate(ctx context.Context, args []string) error {
	fs := newFlagSet("account create", a.Stderr)
	owner := fs.String("owner", "", "owner identifier")
	variant := fs.String("variant", "", "credit or wallet")
	currency := fs.String("currency", "", "ISO currency code")
	termDays := fs.Int("term-days", 0, "payment term in days")
	var creditLimit, overdraftLimit, interest, fee, daily, monthly, lowBalance amountFlag
	fs.Var(&creditLimit, "credit-limit", "credit limit")
	fs.Var(&overdraftLimit, "overdraft-limit", "overdraft limit")
	fs.Var(&interest, "interest-rate", "annual interest rate")
	fs.Var(&fee, "overdraft-fee", "overdue fee")
	fs.Var(&daily, "daily-limit", "daily spending limit")
	fs.Var(&monthly, "monthly-limit", "monthly spending limit")
	fs.Var(&lowBalance, "low-balance", "low balance threshold")
	if err := fs.Parse(args); err != nil {
		return usageErr(err)
	}
	if *owner == "" || *variant == "" || *currency == "" {
		return fmt.Errorf("%w: --owner, --variant and --currency are required", errUsage)
	}
	view, err := a.Ledger.CreateAccount(ctx, ledger.CreateAccountInput{
		OwnerID:             *owner,
		Variant:             ledger.Variant(*variant),
		Currency:            *currency,
		ActorID:             a.Actor,
		CreditLimit:         creditLimit.value,
		OverdraftLimit:      overdraftLimit.value,
		PaymentTermDays:     *termDays,
		InterestRate:        interest.value,
		OverdraftFee:        fee.value,
		DailyLimit:          daily.value,
		MonthlyLimit:        monthly.value,
		LowBalanceThreshold: lowBalance.value,
	})
	if err != nil {
		return err
	}
	return a.print(view, func(w io.Writer) { renderAccount(w, view) })
}

func (a *App) accountStatus(ctx context.Context, action string, args []string) error {
	rawID, rest := splitID(args)
	fs := newFlagSet("account "+action, a.Stderr)
	reason := fs.String("reason", "", "reason recorded with the change")
	if err := fs.Parse(rest); err != nil {
		return usageErr(err)
	}
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	in := ledger.StatusInput{AccountID: id, ActorID: a.Actor, Reason: *reason}
	var view ledger.AccountView
	switch action {
	case "activate":
		view, err = a.Ledger.ActivateAccount(ctx, in)
	case "suspend":
		view, err = a.Ledger.SuspendAccount(ctx, in)
	case "freeze":
		view, err = a.Ledger.FreezeAccount(ctx, in)
	case "reactivate":
		view, err = a.Ledger.ReactivateAccount(ctx, in)
	case "close":
		view, err = a.Ledger.CloseAccount(ctx, in)
	}
	if err != nil {
		return err
	}
	return a.print(view, func(w io.Writer) { renderAccount(w, view) })
}

func (a *App) accountLimits(ctx context.Context, args []string) error {
	rawID, rest := splitID(args)
	fs := newFlagSet("account limits", a.Stderr)
	termDays := fs.Int("term-days", -1, "payment term in days")
	var creditLimit, overdraftLimit, interest, fee, daily, monthly, lowBalance amountFlag
	fs.Var(&creditLimit, "credit-limit", "credit limit")
	fs.Var(&overdraftLimit, "overdraft-limit", "overdraft limit")
	fs.Var(&interest, "interest-rate", "annual interest rate")
	fs.Var(&fee, "overdraft-fee", "overdue fee")
	fs.Var(&daily, "daily-limit", "daily spending limit")
	fs.Var(&monthly, "monthly-limit", "monthly spending limit")
	fs.Var(&lowBalance, "low-balance", "low balance threshold")
	if err := fs.Parse(rest); err != nil {
		return usageErr(err)
	}
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	in := ledger.LimitsInput{
		AccountID:           id,
		ActorID:             a.Actor,
		CreditLimit:         creditLimit.ptr(),
		OverdraftLimit:      overdraftLimit.ptr(),
		InterestRate:        interest.ptr(),
		OverdraftFee:        fee.ptr(),
		DailyLimit:          daily.ptr(),
		MonthlyLimit:        monthly.ptr(),
		LowBalanceThreshold: lowBalance.ptr(),
	}
	if *termDays >= 0 {
		in.PaymentTermDays = termDays
	}
	view, err := a.Ledger.UpdateLimits(ctx, in)
	if err != nil {
		return err
	}
	return a.print(view, func(w io.Writer) { renderAccount(w, view) })
}

func (a *App) accountAdjust(ctx context.Context, args []string) error {
	rawID, rest := splitID(args)
	fs := newFlagSet("account adjust", a.Stderr)
	direction := fs.String("direction", "", "debit or credit")
	reason := fs.String("reason", "", "reason for the adjustment")
	var amount amountFlag
	fs.Var(&amount, "amount", "adjustment amount")
	if err := fs.Parse(rest); err != nil {
		return usageErr(err)
	}
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	if !amount.set {
		return fmt.Errorf("%w: --amount is required", errUsage)
	}
	txn, err := a.Ledger.AdjustBalance(ctx, ledger.AdjustInput{
		AccountID: id,
		Direction: ledger.Direction(*direction),
		Amount:    amount.value,
		Reason:    *reason,
		ActorID:   a.Actor,
	})
	if err != nil {
		return err
	}
	return a.print(txn, func(w io.Writer) { renderTransaction(w, txn) })
}

func (a *App) accountPay(ctx context.Context, args []string) error {
	rawID, rest := splitID(args)
	fs := newFlagSet("account pay", a.Stderr)
	ref := fs.String("ref", "", "external payment reference")
	key := fs.String("key", "", "idempotency key")
	var amount amountFlag
	fs.Var(&amount, "amount", "payment amount")
	if err := fs.Parse(rest); err != nil {
		return usageErr(err)
	}
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	if !amount.set {
		return fmt.Errorf("%w: --amount is required", errUsage)
	}
	txn, err := a.Ledger.RecordPayment(ctx, ledger.PaymentInput{
		AccountID:      id,
		Amount:         amount.value,
		ExternalRef:    *ref,
		IdempotencyKey: *key,
		ActorID:        a.Actor,
	})
	if err != nil {
		return err
	}
	return a.print(txn, func(w io.Writer) { renderTransaction(w, txn) })
}

func (a *App) accountShow(ctx context.Context, args []string) error {
	rawID, _ := splitID(args)
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	view, err := a.Ledger.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	return a.print(view, func(w io.Writer) { renderAccount(w, view) })
}

func (a *App) accountList(ctx context.Context, args []string) error {
	fs := newFlagSet("account list", a.Stderr)
	var filter ledger.AccountFilter
	fs.StringVar(&filter.OwnerID, "owner", "", "owner identifier")
	variant := fs.String("variant", "", "credit or wallet")
	status := fs.String("status", "", "account status")
	fs.StringVar(&filter.Currency, "currency", "", "currency code")
	fs.IntVar(&filter.Limit, "limit", 50, "maximum rows")
	fs.IntVar(&filter.Offset, "offset", 0, "rows to skip")
	if err := fs.Parse(args); err != nil {
		return usageErr(err)
	}
	filter.Variant = ledger.Variant(*variant)
	filter.Status = ledger.AccountStatus(*status)
	views, err := a.Ledger.ListAccounts(ctx, filter)
	if err != nil {
		return err
	}
	return a.print(views, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tOWNER\tVARIANT\tSTATUS\tCURRENCY\tPOSITION")
		for _, v := range views {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.OwnerID, v.Variant, v.Status, v.Currency, v.Position().StringFixed(2))
		}
		_ = tw.Flush()
	})
}

func (a *App) accountStats(ctx context.Context, args []string) error {
	rawID, _ := splitID(args)
	if rawID == "" {
		stats, err := a.Ledger.LedgerStatistics(ctx)
		if err != nil {
			return err
		}
		return a.print(stats, func(w io.Writer) { renderLedgerStats(w, stats) })
	}
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	stats, err := a.Ledger.AccountStatistics(ctx, id)
	if err != nil {
		return err
	}
	return a.print(stats, func(w io.Writer) { renderAccountStats(w, stats) })
}

func (a *App) accountReplay(ctx context.Context, args []string) error {
	rawID, _ := splitID(args)
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	report, err := a.Ledger.Replay(ctx, id)
	if err != nil && !errors.Is(err, ledger.ErrReplayMismatch) {
		return err
	}
	if printErr := a.print(report, func(w io.Writer) { renderReplay(w, report) }); printErr != nil {
		return printErr
	}
	return err
}

func usageErr(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %v", errUsage, err)
}
