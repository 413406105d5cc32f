package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/parcelhub/ledger/internal/ledger"
)

func (a *App) overdue(ctx context.Context, args []string) error {
	if err := a.requireLedger(); err != nil {
		return err
	}
	if len(args) == 0 || args[0] != "run" {
		return fmt.Errorf("%w: expected 'overdue run'", errUsage)
	}
	fs := newFlagSet("overdue run", a.Stderr)
	dryRun := fs.Bool("dry-run", false, "compute without writing")
	limit := fs.Int("limit", 0, "maximum accounts to scan")
	if err := fs.Parse(args[1:]); err != nil {
		return usageErr(err)
	}
	report, err := a.Ledger.ProcessOverdue(ctx, ledger.OverdueOptions{DryRun: *dryRun, Limit: *limit})
	if err != nil {
		return err
	}
	return a.print(report, func(w io.Writer) { renderOverdue(w, report) })
}
