package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/ledger/internal/ledger"
	"github.com/parcelhub/ledger/internal/ledger/memory"
	"github.com/parcelhub/ledger/jobs"
	_ "github.com/parcelhub/ledger/testing"
)

type cliHarness struct {
	t      *testing.T
	app    *App
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newCLI(t *testing.T) *cliHarness {
	t.Helper()
	svc := ledger.NewService(memory.New(), ledger.Config{RetryBaseDelay: 100 * time.Microsecond})
	h := &cliHarness{t: t, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	h.app = &App{Ledger: svc, Actor: "cli-test", Stdout: h.stdout, Stderr: h.stderr}
	return h
}

func (h *cliHarness) run(args ...string) int {
	h.t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	return h.app.Run(context.Background(), args)
}

func runJSON[T any](h *cliHarness, args ...string) T {
	h.t.Helper()
	h.app.JSONOutput = true
	defer func() { h.app.JSONOutput = false }()
	code := h.run(args...)
	require.Equal(h.t, ExitOK, code, h.stderr.String())
	var out T
	require.NoError(h.t, json.Unmarshal(h.stdout.Bytes(), &out), h.stdout.String())
	return out
}

func TestWalletLifecycleCommands(t *testing.T) {
	h := newCLI(t)
	acc := runJSON[ledger.AccountView](h, "account", "create", "--owner", "courier-7", "--variant", "wallet", "--currency", "PLN")
	require.Equal(t, ledger.AccountActive, acc.Status)
	id := acc.ID.String()

	pay := runJSON[ledger.Transaction](h, "account", "pay", id, "--amount", "100", "--ref", "topup-1")
	require.Equal(t, ledger.TxPayment, pay.Type)

	adj := runJSON[ledger.Transaction](h, "account", "adjust", id, "--direction", "debit", "--amount", "10", "--reason", "fee correction")
	require.Equal(t, ledger.TxAdjustment, adj.Type)

	view := runJSON[ledger.AccountView](h, "account", "status", id)
	require.Equal(t, "90", view.Balance.String())

	require.Equal(t, ExitError, h.run("account", "suspend", id))
	require.Contains(t, h.stderr.String(), "reason")

	view = runJSON[ledger.AccountView](h, "account", "suspend", id, "--reason", "document check")
	require.Equal(t, ledger.AccountSuspended, view.Status)
	view = runJSON[ledger.AccountView](h, "account", "reactivate", id)
	require.Equal(t, ledger.AccountActive, view.Status)

	report := runJSON[ledger.ReplayReport](h, "account", "replay", id)
	require.True(t, report.Match)
	require.Equal(t, 2, report.Records)

	list := runJSON[[]ledger.AccountView](h, "account", "list", "--owner", "courier-7")
	require.Len(t, list, 1)

	require.Equal(t, ExitOK, h.run("account", "stats"))
	require.Contains(t, h.stdout.String(), "wallet")
	require.Equal(t, ExitOK, h.run("account", "stats", id))
	require.Contains(t, h.stdout.String(), "payments")
}

func TestCreditLimitsAndOverdueCommands(t *testing.T) {
	h := newCLI(t)
	acc := runJSON[ledger.AccountView](h, "account", "create", "--owner", "courier-9", "--variant", "credit", "--currency", "PLN", "--credit-limit", "500")
	require.Equal(t, ledger.AccountPendingApproval, acc.Status)
	id := acc.ID.String()

	view := runJSON[ledger.AccountView](h, "account", "activate", id)
	require.Equal(t, ledger.AccountActive, view.Status)

	view = runJSON[ledger.AccountView](h, "account", "limits", id, "--credit-limit", "750", "--term-days", "14")
	require.Equal(t, "750", view.CreditLimit.String())
	require.Equal(t, 14, view.PaymentTermDays)

	report := runJSON[ledger.OverdueReport](h, "overdue", "run", "--dry-run")
	require.True(t, report.DryRun)
	require.Zero(t, report.AccountsScanned)

	require.Equal(t, ExitOK, h.run("overdue", "run"))
	require.Contains(t, h.stdout.String(), "0 scanned")

	view = runJSON[ledger.AccountView](h, "account", "close", id)
	require.Equal(t, ledger.AccountClosed, view.Status)
}

func TestUsageErrors(t *testing.T) {
	h := newCLI(t)
	require.Equal(t, ExitUsage, h.run())
	require.Equal(t, ExitUsage, h.run("ledger"))
	require.Contains(t, h.stderr.String(), "unknown command")
	require.Equal(t, ExitUsage, h.run("account", "pay", "--amount", "5"))
	require.Equal(t, ExitUsage, h.run("account", "status", "not-a-uuid"))
	require.Equal(t, ExitUsage, h.run("account", "create", "--owner", "x"))
	require.Equal(t, ExitUsage, h.run("account", "adjust", "--bogus"))
	require.Equal(t, ExitUsage, h.run("overdue"))
	require.Equal(t, ExitOK, h.run("help"))
}

func TestMissingAccountReportsError(t *testing.T) {
	h := newCLI(t)
	require.Equal(t, ExitError, h.run("account", "status", "0b0f9a8e-5a53-4b83-9d1a-2f4e1d2c3b4a"))
	require.Contains(t, h.stderr.String(), "not found")
}

type stubJobs struct {
	payload jobs.OverduePayload
	err     error
}

func (s *stubJobs) TriggerOverdue(_ context.Context, payload jobs.OverduePayload) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.payload = payload
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueCritical, Type: jobs.TaskOverdueProcess}, nil
}

func (s *stubJobs) Inspect(context.Context) ([]jobs.QueueStats, error) {
	return []jobs.QueueStats{{Queue: jobs.QueueCritical, Pending: 2}, {Queue: jobs.QueueDefault}}, nil
}

func TestJobsCommands(t *testing.T) {
	h := newCLI(t)
	require.Equal(t, ExitError, h.run("jobs", "inspect"))

	stub := &stubJobs{}
	h.app.Jobs = stub
	res := runJSON[triggerResult](h, "jobs", "trigger", "overdue", "--dry-run", "--limit", "25")
	require.Equal(t, "task-1", res.TaskID)
	require.True(t, stub.payload.DryRun)
	require.Equal(t, 25, stub.payload.Limit)

	require.Equal(t, ExitOK, h.run("jobs", "inspect"))
	require.Contains(t, h.stdout.String(), jobs.QueueCritical)

	stub.err = errors.New("redis down")
	require.Equal(t, ExitError, h.run("jobs", "trigger", "overdue"))
	require.Contains(t, h.stderr.String(), "redis down")
}

func TestMigrateCommand(t *testing.T) {
	h := newCLI(t)
	require.Equal(t, ExitError, h.run("migrate"))

	h.app.Migrate = func(context.Context) ([]string, error) { return []string{"0001_ledger.sql"}, nil }
	require.Equal(t, ExitOK, h.run("migrate"))
	require.Contains(t, h.stdout.String(), "applied 0001_ledger.sql")
}
