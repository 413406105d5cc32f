// Package cli implements the ledgerctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/parcelhub/ledger/internal/ledger"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitUsage    = 2
	ExitMismatch = 10
)

// LedgerOps is the ledger surface the CLI drives.
type LedgerOps interface {
	CreateAccount(ctx context.Context, input ledger.CreateAccountInput) (ledger.AccountView, error)
	GetAccount(ctx context.Context, id uuid.UUID) (ledger.AccountView, error)
	ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.AccountView, error)
	UpdateLimits(ctx context.Context, input ledger.LimitsInput) (ledger.AccountView, error)
	ActivateAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	SuspendAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	FreezeAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	ReactivateAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	CloseAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	AdjustBalance(ctx context.Context, input ledger.AdjustInput) (ledger.Transaction, error)
	RecordPayment(ctx context.Context, input ledger.PaymentInput) (ledger.Transaction, error)
	AccountStatistics(ctx context.Context, accountID uuid.UUID) (ledger.AccountStatistics, error)
	LedgerStatistics(ctx context.Context) (ledger.LedgerStatistics, error)
	Replay(ctx context.Context, accountID uuid.UUID) (ledger.ReplayReport, error)
	ProcessOverdue(ctx context.Context, opts ledger.OverdueOptions) (ledger.OverdueReport, error)
}

// Migrator applies schema migrations and returns the files it ran.
type Migrator func(ctx context.Context) ([]string, error)

// App dispatches ledgerctl commands.
type App struct {
	Ledger     LedgerOps
	Jobs       JobsOps
	Migrate    Migrator
	Actor      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// errUsage marks a command line the user must fix.
var errUsage = errors.New("usage")

// Run executes args, e.g. ["account", "create", "--owner", "c-1", ...], and
// returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if a.Actor == "" {
		a.Actor = "ledgerctl"
	}
	if len(args) == 0 {
		a.usage()
		return ExitUsage
	}
	var err error
	switch args[0] {
	case "account":
		err = a.account(ctx, args[1:])
	case "overdue":
		err = a.overdue(ctx, args[1:])
	case "jobs":
		err = a.jobs(ctx, args[1:])
	case "migrate":
		err = a.migrate(ctx)
	case "help", "-h", "--help":
		a.usage()
		return ExitOK
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return a.exitCode(args[0], err)
}

func (a *App) exitCode(cmd string, err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, flag.ErrHelp):
		return ExitOK
	case errors.Is(err, errUsage):
		_, _ = fmt.Fprintf(a.Stderr, "%s: %v\n", cmd, err)
		a.usage()
		return ExitUsage
	case errors.Is(err, ledger.ErrReplayMismatch):
		_, _ = fmt.Fprintf(a.Stderr, "%s: %v\n", cmd, err)
		return ExitMismatch
	default:
		_, _ = fmt.Fprintf(a.Stderr, "%s: %v\n", cmd, err)
		return ExitError
	}
}

func (a *App) usage() {
	_, _ = fmt.Fprint(a.Stderr, `usage: ledgerctl [--json] [--actor NAME] <command>

commands:
  account create --owner ID --variant credit|wallet --currency CUR [limits]
  account activate|suspend|freeze|reactivate|close ID [--reason TEXT]
  account limits ID [--credit-limit N] [--overdraft-limit N] [--term-days N] ...
  account adjust ID --direction debit|credit --amount N --reason TEXT
  account pay ID --amount N [--ref REF] [--key KEY]
  account status ID
  account list [--owner ID] [--variant V] [--status S] [--currency CUR] [--limit N]
  account stats [ID]
  account replay ID
  overdue run [--dry-run] [--limit N]
  jobs trigger overdue [--dry-run] [--limit N]
  jobs inspect
  migrate
`)
}

// print writes v as JSON when --json is set, otherwise via the text renderer.
func (a *App) print(v any, text func(io.Writer)) error {
	if a.JSONOutput {
		enc := json.NewEncoder(a.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.Stdout)
	return nil
}

func (a *App) requireLedger() error {
	if a.Ledger == nil {
		return errors.New("ledger not configured")
	}
	return nil
}

// splitID takes a leading positional ID so flags may follow it.
func splitID(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func parseID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: account ID required", errUsage)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid ID %q", errUsage, raw)
	}
	return id, nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (a *App) migrate(ctx context.Context) error {
	if a.Migrate == nil {
		return errors.New("migrations not configured")
	}
	applied, err := a.Migrate(ctx)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"applied": applied}, func(w io.Writer) {
		if len(applied) == 0 {
			_, _ = fmt.Fprintln(w, "schema up to date")
			return
		}
		for _, name := range applied {
			_, _ = fmt.Fprintf(w, "applied %s\n", name)
		}
	})
}
