package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/ledger/internal/ledger"
	"github.com/parcelhub/ledger/internal/ledger/memory"
	"github.com/parcelhub/ledger/internal/shared"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt ledger.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) ofType(typ ledger.EventType) []ledger.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ledger.Event
	for _, evt := range p.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type harness struct {
	svc   *ledger.Service
	store *memory.Store
	clock *testClock
	pub   *recordingPublisher
	audit *recordingAudit
}

func newHarness(t *testing.T, cfg ledger.Config, opts ...ledger.Option) *harness {
	t.Helper()
	h := &harness{
		store: memory.New(),
		clock: &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		pub:   &recordingPublisher{},
		audit: &recordingAudit{},
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 100 * time.Microsecond
	}
	opts = append([]ledger.Option{ledger.WithPublisher(h.pub), ledger.WithAudit(h.audit)}, opts...)
	h.svc = ledger.NewService(h.store, cfg, opts...)
	h.svc.WithNow(h.clock.Now)
	return h
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func (h *harness) openCredit(t *testing.T, limit string, mutate func(*ledger.CreateAccountInput)) ledger.AccountView {
	t.Helper()
	in := ledger.CreateAccountInput{
		OwnerID:     "courier-" + uuid.NewString()[:8],
		Variant:     ledger.VariantCredit,
		Currency:    "PLN",
		ActorID:     "ops",
		CreditLimit: dec(limit),
	}
	if mutate != nil {
		mutate(&in)
	}
	acc, err := h.svc.CreateAccount(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, ledger.AccountPendingApproval, acc.Status)
	acc, err = h.svc.ActivateAccount(context.Background(), ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.NoError(t, err)
	return acc
}

func (h *harness) openWallet(t *testing.T, topUp string, mutate func(*ledger.CreateAccountInput)) ledger.AccountView {
	t.Helper()
	in := ledger.CreateAccountInput{
		OwnerID:  "sender-" + uuid.NewString()[:8],
		Variant:  ledger.VariantWallet,
		Currency: "PLN",
		ActorID:  "ops",
	}
	if mutate != nil {
		mutate(&in)
	}
	acc, err := h.svc.CreateAccount(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, ledger.AccountActive, acc.Status)
	if topUp != "" {
		_, err = h.svc.RecordPayment(context.Background(), ledger.PaymentInput{AccountID: acc.ID, Amount: dec(topUp)})
		require.NoError(t, err)
	}
	acc, err = h.svc.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	return acc
}

func (h *harness) requireReplay(t *testing.T, id uuid.UUID) {
	t.Helper()
	report, err := h.svc.Replay(context.Background(), id)
	require.NoError(t, err)
	require.True(t, report.Match)
	require.Empty(t, report.Breaks)
}

func TestCreditAuthorizeAndSettle(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openCredit(t, "10000", nil)

	auth, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("5000"), Currency: "pln"})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusAuthorized, auth.Status)
	require.Equal(t, ledger.DirectionDebit, auth.Direction)
	require.NotNil(t, auth.DueDate)
	require.Equal(t, h.clock.Now().AddDate(0, 0, 30), *auth.DueDate)
	requireAmount(t, "0", auth.BalanceBefore)
	requireAmount(t, "5000", auth.BalanceAfter)

	view, err := h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "5000", *view.AvailableCredit)
	require.Equal(t, int64(3), view.Version)

	res, err := h.svc.Settle(ctx, ledger.SettleInput{TransactionID: auth.ID})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSettled, res.Authorization.Status)
	requireAmount(t, "5000", res.Authorization.SettledAmount)
	require.Equal(t, ledger.TxCharge, res.Charge.Type)
	require.Equal(t, auth.ID, *res.Charge.ParentID)
	require.Nil(t, res.Release)

	view, err = h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "5000", *view.OutstandingDebt)
	require.Len(t, h.pub.ofType(ledger.EventAuthorized), 1)
	require.Len(t, h.pub.ofType(ledger.EventSettled), 1)
	h.requireReplay(t, acc.ID)
}

func TestCreditLimitExceeded(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	acc := h.openCredit(t, "1000", func(in *ledger.CreateAccountInput) { in.OverdraftLimit = dec("100") })

	_, err := h.svc.Authorize(context.Background(), ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("1100"), Currency: "PLN"})
	require.NoError(t, err)
	_, err = h.svc.Authorize(context.Background(), ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("0.01"), Currency: "PLN"})
	require.ErrorIs(t, err, ledger.ErrCreditLimitExceeded)
}

func TestWalletCancelReleasesHold(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openWallet(t, "100", nil)

	auth, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("100"), Currency: "PLN"})
	require.NoError(t, err)
	require.Nil(t, auth.DueDate)
	view, err := h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "0", *view.AvailableBalance)

	cancelled, err := h.svc.CancelAuthorization(ctx, ledger.CancelInput{TransactionID: auth.ID, Reason: "shipment withdrawn"})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCancelled, cancelled.Status)

	view, err = h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "100", *view.AvailableBalance)
	requireAmount(t, "0", view.ReservedBalance)

	_, err = h.svc.CancelAuthorization(ctx, ledger.CancelInput{TransactionID: auth.ID})
	require.ErrorIs(t, err, ledger.ErrAlreadyCancelled)
	_, err = h.svc.Settle(ctx, ledger.SettleInput{TransactionID: auth.ID})
	require.ErrorIs(t, err, ledger.ErrAlreadyCancelled)
	h.requireReplay(t, acc.ID)
}

func TestWalletConcurrentAuthorizationsOnlyOneFits(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	acc := h.openWallet(t, "50", nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.Authorize(context.Background(), ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("40"), Currency: "PLN"})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	}
	require.Equal(t, 1, succeeded)

	view, err := h.svc.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	requireAmount(t, "10", *view.AvailableBalance)
	h.requireReplay(t, acc.ID)
}

func TestConcurrentAuthorizationsNeverExceedLimit(t *testing.T) {
	h := newHarness(t, ledger.Config{MaxRetries: 50})
	acc := h.openCredit(t, "1000", nil)

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Authorize(context.Background(), ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("100"), Currency: "PLN"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrCreditLimitExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, ok)
	require.Equal(t, 10, rejected)
	view, err := h.svc.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	requireAmount(t, "1000", view.UsedCredit)
	requireAmount(t, "0", *view.AvailableCredit)
	h.requireReplay(t, acc.ID)
}

func TestAuthorizeIdempotency(t *testing.T) {
	h := newHarness(t, ledger.Config{MaxRetries: 20})
	ctx := context.Background()
	acc := h.openCredit(t, "1000", nil)
	in := ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("100"), Currency: "PLN", IdempotencyKey: "ship-42"}

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, err := h.svc.Authorize(ctx, in)
			if err != nil {
				t.Errorf("authorize: %v", err)
				return
			}
			ids[i] = txn.ID
		}()
	}
	wg.Wait()
	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id)
	}

	again, err := h.svc.Authorize(ctx, in)
	require.NoError(t, err)
	require.Equal(t, ids[0], again.ID)

	records, err := h.svc.ListTransactions(ctx, acc.ID, ledger.TransactionFilter{Type: ledger.TxAuthorization})
	require.NoError(t, err)
	require.Len(t, records, 1)
	view, err := h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "100", view.UsedCredit)
}

func TestAuthorizeValidation(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openWallet(t, "100", nil)

	cases := []struct {
		name string
		in   ledger.AuthorizeInput
		want error
	}{
		{"zero", ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("0"), Currency: "PLN"}, ledger.ErrInvalidAmount},
		{"negative", ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("-5"), Currency: "PLN"}, ledger.ErrInvalidAmount},
		{"precision", ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("1.001"), Currency: "PLN"}, ledger.ErrInvalidAmount},
		{"over max", ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("1000000.01"), Currency: "PLN"}, ledger.ErrInvalidAmount},
		{"unknown currency", ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("1"), Currency: "XYZ"}, ledger.ErrInvalidCurrency},
		{"unsupported currency", ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("1"), Currency: "JPY"}, ledger.ErrInvalidCurrency},
		{"account currency", ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("1"), Currency: "EUR"}, ledger.ErrInvalidCurrency},
		{"missing account", ledger.AuthorizeInput{AccountID: uuid.New(), Amount: dec("1"), Currency: "PLN"}, ledger.ErrAccountNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Authorize(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWalletSpendingLimits(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openWallet(t, "500", func(in *ledger.CreateAccountInput) {
		in.DailyLimit = dec("100")
		in.MonthlyLimit = dec("150")
	})

	first, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("80"), Currency: "PLN"})
	require.NoError(t, err)
	_, err = h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("30"), Currency: "PLN"})
	require.ErrorIs(t, err, ledger.ErrSpendingLimitExceeded)

	_, err = h.svc.CancelAuthorization(ctx, ledger.CancelInput{TransactionID: first.ID})
	require.NoError(t, err)
	_, err = h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("30"), Currency: "PLN"})
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	_, err = h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("100"), Currency: "PLN"})
	require.NoError(t, err)
	_, err = h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("30"), Currency: "PLN"})
	require.ErrorIs(t, err, ledger.ErrSpendingLimitExceeded)
}

func TestLowBalanceEvent(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	acc := h.openWallet(t, "100", func(in *ledger.CreateAccountInput) { in.LowBalanceThreshold = dec("20") })

	_, err := h.svc.Authorize(context.Background(), ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("50"), Currency: "PLN"})
	require.NoError(t, err)
	require.Empty(t, h.pub.ofType(ledger.EventLowBalance))

	_, err = h.svc.Authorize(context.Background(), ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("40"), Currency: "PLN"})
	require.NoError(t, err)
	events := h.pub.ofType(ledger.EventLowBalance)
	require.Len(t, events, 1)
	requireAmount(t, "10", events[0].Amount)
}

func TestSettleBounds(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openCredit(t, "10000", nil)
	auth, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("5000"), Currency: "PLN"})
	require.NoError(t, err)

	over := dec("6000")
	_, err = h.svc.Settle(ctx, ledger.SettleInput{TransactionID: auth.ID, Amount: &over})
	require.ErrorIs(t, err, ledger.ErrSettlementExceedsAuthorization)

	partial := dec("3000")
	res, err := h.svc.Settle(ctx, ledger.SettleInput{TransactionID: auth.ID, Amount: &partial})
	require.NoError(t, err)
	require.NotNil(t, res.Release)
	requireAmount(t, "2000", res.Release.Amount)
	require.Equal(t, "release", res.Release.Metadata["kind"])

	view, err := h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "3000", view.UsedCredit)

	_, err = h.svc.Settle(ctx, ledger.SettleInput{TransactionID: auth.ID})
	require.ErrorIs(t, err, ledger.ErrAlreadySettled)
	_, err = h.svc.CancelAuthorization(ctx, ledger.CancelInput{TransactionID: auth.ID})
	require.ErrorIs(t, err, ledger.ErrAlreadySettled)
	_, err = h.svc.Settle(ctx, ledger.SettleInput{TransactionID: res.Charge.ID})
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	_, err = h.svc.Settle(ctx, ledger.SettleInput{TransactionID: uuid.New()})
	require.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	h.requireReplay(t, acc.ID)
}

func TestWalletSettleAndRefund(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openWallet(t, "100", nil)
	auth, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("60"), Currency: "PLN"})
	require.NoError(t, err)
	res, err := h.svc.Settle(ctx, ledger.SettleInput{TransactionID: auth.ID})
	require.NoError(t, err)

	view, err := h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "40", view.Balance)
	requireAmount(t, "0", view.ReservedBalance)

	refund, err := h.svc.Refund(ctx, ledger.RefundInput{TransactionID: res.Charge.ID, Amount: dec("20"), Reason: "damaged"})
	require.NoError(t, err)
	require.Equal(t, ledger.TxRefund, refund.Type)
	require.Equal(t, auth.ID, *refund.ParentID)

	_, err = h.svc.Refund(ctx, ledger.RefundInput{TransactionID: auth.ID, Amount: dec("50")})
	require.ErrorIs(t, err, ledger.ErrRefundExceedsSettled)

	_, err = h.svc.Refund(ctx, ledger.RefundInput{TransactionID: auth.ID, Amount: dec("40")})
	require.NoError(t, err)
	stored, err := h.svc.GetTransaction(ctx, auth.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusRefunded, stored.Status)
	requireAmount(t, "60", stored.RefundedAmount)

	_, err = h.svc.Refund(ctx, ledger.RefundInput{TransactionID: auth.ID, Amount: dec("0.01")})
	require.ErrorIs(t, err, ledger.ErrRefundExceedsSettled)

	view, err = h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "100", view.Balance)
	h.requireReplay(t, acc.ID)
}

func TestRefundIdempotencyAndOpenHold(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openCredit(t, "1000", nil)
	auth, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("200"), Currency: "PLN"})
	require.NoError(t, err)

	_, err = h.svc.Refund(ctx, ledger.RefundInput{TransactionID: auth.ID, Amount: dec("10")})
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = h.svc.Settle(ctx, ledger.SettleInput{TransactionID: auth.ID})
	require.NoError(t, err)
	in := ledger.RefundInput{TransactionID: auth.ID, Amount: dec("50"), IdempotencyKey: "refund-1"}
	first, err := h.svc.Refund(ctx, in)
	require.NoError(t, err)
	second, err := h.svc.Refund(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	view, err := h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "150", view.UsedCredit)
	h.requireReplay(t, acc.ID)
}

func TestCreditPaymentAllocation(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openCredit(t, "5000", nil)
	early, late := 5, 20
	a1, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("300"), Currency: "PLN", DueInDays: &late})
	require.NoError(t, err)
	a2, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("200"), Currency: "PLN", DueInDays: &early})
	require.NoError(t, err)
	r1, err := h.svc.Settle(ctx, ledger.SettleInput{TransactionID: a1.ID})
	require.NoError(t, err)
	r2, err := h.svc.Settle(ctx, ledger.SettleInput{TransactionID: a2.ID})
	require.NoError(t, err)

	_, err = h.svc.RecordPayment(ctx, ledger.PaymentInput{AccountID: acc.ID, Amount: dec("250"), IdempotencyKey: "pay-1"})
	require.NoError(t, err)

	earlyCharge, err := h.svc.GetTransaction(ctx, r2.Charge.ID)
	require.NoError(t, err)
	requireAmount(t, "200", earlyCharge.PaidAmount)
	lateCharge, err := h.svc.GetTransaction(ctx, r1.Charge.ID)
	require.NoError(t, err)
	requireAmount(t, "50", lateCharge.PaidAmount)

	view, err := h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "250", view.UsedCredit)

	_, err = h.svc.RecordPayment(ctx, ledger.PaymentInput{AccountID: acc.ID, Amount: dec("250"), IdempotencyKey: "pay-1"})
	require.NoError(t, err)
	view, err = h.svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	requireAmount(t, "250", view.UsedCredit)
	h.requireReplay(t, acc.ID)
}

func TestAdjustBalance(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openWallet(t, "10", nil)

	_, err := h.svc.AdjustBalance(ctx, ledger.AdjustInput{AccountID: acc.ID, Direction: ledger.DirectionCredit, Amount: dec("5"), ActorID: "ops"})
	require.ErrorIs(t, err, ledger.ErrReasonRequired)
	_, err = h.svc.AdjustBalance(ctx, ledger.AdjustInput{AccountID: acc.ID, Direction: ledger.DirectionCredit, Amount: dec("5"), Reason: "goodwill"})
	require.ErrorIs(t, err, ledger.ErrActorRequired)
	_, err = h.svc.AdjustBalance(ctx, ledger.AdjustInput{AccountID: acc.ID, Direction: ledger.DirectionDebit, Amount: dec("50"), Reason: "chargeback", ActorID: "ops"})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	rec, err := h.svc.AdjustBalance(ctx, ledger.AdjustInput{AccountID: acc.ID, Direction: ledger.DirectionCredit, Amount: dec("5"), Reason: "goodwill", ActorID: "ops"})
	require.NoError(t, err)
	require.Equal(t, ledger.TxAdjustment, rec.Type)
	requireAmount(t, "15", rec.BalanceAfter)

	h.audit.mu.Lock()
	last := h.audit.logs[len(h.audit.logs)-1]
	h.audit.mu.Unlock()
	require.Equal(t, "ledger.adjust", last.Action)
	require.Equal(t, "ops", last.ActorID)
	h.requireReplay(t, acc.ID)
}

func TestAccountLifecycle(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()

	acc, err := h.svc.CreateAccount(ctx, ledger.CreateAccountInput{
		OwnerID: "courier-1", Variant: ledger.VariantCredit, Currency: "PLN", ActorID: "ops", CreditLimit: dec("1000"),
	})
	require.NoError(t, err)
	require.Equal(t, 30, acc.PaymentTermDays)

	_, err = h.svc.CreateAccount(ctx, ledger.CreateAccountInput{
		OwnerID: "courier-1", Variant: ledger.VariantCredit, Currency: "PLN", ActorID: "ops",
	})
	require.ErrorIs(t, err, ledger.ErrAccountExists)

	_, err = h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("10"), Currency: "PLN"})
	require.ErrorIs(t, err, ledger.ErrAccountInactive)

	_, err = h.svc.ActivateAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.NoError(t, err)
	auth, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("10"), Currency: "PLN"})
	require.NoError(t, err)

	_, err = h.svc.SuspendAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.ErrorIs(t, err, ledger.ErrReasonRequired)
	suspended, err := h.svc.SuspendAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops", Reason: "missed payments"})
	require.NoError(t, err)
	require.Equal(t, ledger.AccountSuspended, suspended.Status)
	require.Len(t, h.pub.ofType(ledger.EventAccountSuspended), 1)

	_, err = h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("10"), Currency: "PLN"})
	require.ErrorIs(t, err, ledger.ErrAccountInactive)
	_, err = h.svc.FreezeAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = h.svc.ReactivateAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.NoError(t, err)
	_, err = h.svc.CloseAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.ErrorIs(t, err, ledger.ErrOutstandingBalance)

	_, err = h.svc.CancelAuthorization(ctx, ledger.CancelInput{TransactionID: auth.ID})
	require.NoError(t, err)
	closed, err := h.svc.CloseAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.NoError(t, err)
	require.Equal(t, ledger.AccountClosed, closed.Status)

	_, err = h.svc.ReactivateAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	_, err = h.svc.UpdateLimits(ctx, ledger.LimitsInput{AccountID: acc.ID, ActorID: "ops"})
	require.ErrorIs(t, err, ledger.ErrAccountInactive)
}

func TestWalletFreeze(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openWallet(t, "100", nil)

	_, err := h.svc.FreezeAccount(ctx, ledger.StatusInput{AccountID: acc.ID})
	require.ErrorIs(t, err, ledger.ErrActorRequired)
	_, err = h.svc.FreezeAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops", Reason: "fraud check"})
	require.NoError(t, err)
	_, err = h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("10"), Currency: "PLN"})
	require.ErrorIs(t, err, ledger.ErrAccountInactive)
	_, err = h.svc.RecordPayment(ctx, ledger.PaymentInput{AccountID: acc.ID, Amount: dec("10")})
	require.NoError(t, err)

	_, err = h.svc.ReactivateAccount(ctx, ledger.StatusInput{AccountID: acc.ID, ActorID: "ops"})
	require.NoError(t, err)
	_, err = h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("10"), Currency: "PLN"})
	require.NoError(t, err)
}

func TestUpdateLimits(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	ctx := context.Background()
	acc := h.openCredit(t, "1000", nil)
	_, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("600"), Currency: "PLN"})
	require.NoError(t, err)

	lower := dec("500")
	_, err = h.svc.UpdateLimits(ctx, ledger.LimitsInput{AccountID: acc.ID, ActorID: "ops", CreditLimit: &lower})
	require.ErrorIs(t, err, ledger.ErrCreditLimitExceeded)

	rate := dec("1.5")
	_, err = h.svc.UpdateLimits(ctx, ledger.LimitsInput{AccountID: acc.ID, ActorID: "ops", InterestRate: &rate})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	higher := dec("2000")
	view, err := h.svc.UpdateLimits(ctx, ledger.LimitsInput{AccountID: acc.ID, ActorID: "ops", CreditLimit: &higher})
	require.NoError(t, err)
	requireAmount(t, "1400", *view.AvailableCredit)
}

type conflictingStore struct {
	*memory.Store
}

type conflictingTx struct {
	ledger.TxRepository
}

func (conflictingTx) UpdateAccount(context.Context, ledger.Account, int64) error {
	return ledger.ErrVersionConflict
}

func (s conflictingStore) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		return fn(ctx, conflictingTx{tx})
	})
}

func TestGuardGivesUpAfterRetries(t *testing.T) {
	store := memory.New()
	setup := ledger.NewService(store, ledger.Config{})
	acc, err := setup.CreateAccount(context.Background(), ledger.CreateAccountInput{
		OwnerID: "sender", Variant: ledger.VariantWallet, Currency: "PLN", ActorID: "ops",
	})
	require.NoError(t, err)

	svc := ledger.NewService(conflictingStore{store}, ledger.Config{MaxRetries: 2, RetryBaseDelay: time.Microsecond})
	_, err = svc.RecordPayment(context.Background(), ledger.PaymentInput{AccountID: acc.ID, Amount: dec("10")})
	require.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	require.True(t, ledger.IsRetryable(err))

	records, err := store.ListTransactions(context.Background(), acc.ID, ledger.TransactionFilter{})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestCancelledContextStillCommits(t *testing.T) {
	h := newHarness(t, ledger.Config{})
	acc := h.openWallet(t, "100", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: dec("10"), Currency: "PLN"})
	require.NoError(t, err)
	h.requireReplay(t, acc.ID)
}
