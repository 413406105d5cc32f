package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var planNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func testPolicy() OverduePolicy {
	return DefaultConfig().Policy()
}

func overdueCharge(due time.Time, amount string) Transaction {
	return Transaction{
		ID:        uuid.New(),
		Type:      TxCharge,
		Status:    StatusSettled,
		Direction: DirectionNone,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "PLN",
		DueDate:   &due,
	}
}

func creditSnapshot(items ...Transaction) AccountSnapshot {
	return AccountSnapshot{
		Account: Account{
			ID:           uuid.New(),
			Variant:      VariantCredit,
			Currency:     "PLN",
			Status:       AccountActive,
			InterestRate: decimal.RequireFromString("0.365"),
			OverdraftFee: decimal.RequireFromString("15"),
		},
		Items: items,
	}
}

func TestPlanSkipsChargesNotYetDue(t *testing.T) {
	snap := creditSnapshot(overdueCharge(planNow, "500"), overdueCharge(planNow.Add(time.Hour), "500"))
	results, events := ProcessOverdueBatch([]AccountSnapshot{snap}, planNow, testPolicy())
	require.Len(t, results, 1)
	require.True(t, results[0].Empty())
	require.Empty(t, events)
}

func TestPlanMarksOverdueWithFeeAndInterest(t *testing.T) {
	charge := overdueCharge(planNow.Add(-4*24*time.Hour-time.Hour), "1000")
	results, events := ProcessOverdueBatch([]AccountSnapshot{creditSnapshot(charge)}, planNow, testPolicy())
	res := results[0]
	require.Equal(t, 1, res.ChargesOverdue)
	require.Equal(t, 1, res.FeeRecords)
	require.True(t, res.FeeTotal.Equal(decimal.NewFromInt(15)))
	require.Equal(t, 1, res.InterestRecords)
	require.True(t, res.InterestTotal.Equal(decimal.NewFromInt(4)))
	require.Len(t, res.Actions, 3)
	require.Equal(t, ActionOverdue, res.Actions[0].Kind)
	require.Equal(t, 4, res.Actions[2].Days)
	require.Len(t, events, 1)
	require.Equal(t, EventOverdue, events[0].Type)
}

func TestPlanInterestOncePerPeriod(t *testing.T) {
	charge := overdueCharge(planNow.Add(-10*24*time.Hour), "1000")
	charge.Status = StatusOverdue
	last := planNow.Add(-23 * time.Hour)
	charge.LastInterestAt = &last

	results, _ := ProcessOverdueBatch([]AccountSnapshot{creditSnapshot(charge)}, planNow, testPolicy())
	require.True(t, results[0].Empty())

	last = planNow.Add(-48 * time.Hour)
	results, _ = ProcessOverdueBatch([]AccountSnapshot{creditSnapshot(charge)}, planNow, testPolicy())
	require.Equal(t, 1, results[0].InterestRecords)
	require.Equal(t, 2, results[0].Actions[0].Days)
	require.Zero(t, results[0].FeeRecords)
}

func TestPlanSkipsWalletsAndClosedAccounts(t *testing.T) {
	past := planNow.Add(-30 * 24 * time.Hour)
	wallet := creditSnapshot(overdueCharge(past, "10"))
	wallet.Account.Variant = VariantWallet
	closed := creditSnapshot(overdueCharge(past, "10"))
	closed.Account.Status = AccountClosed

	results, events := ProcessOverdueBatch([]AccountSnapshot{wallet, closed}, planNow, testPolicy())
	require.True(t, results[0].Empty())
	require.True(t, results[1].Empty())
	require.Empty(t, events)
}

func TestPlanExpiresStaleAuthorizations(t *testing.T) {
	stale := Transaction{ID: uuid.New(), Type: TxAuthorization, Status: StatusAuthorized, Amount: decimal.NewFromInt(5), CreatedAt: planNow.Add(-8 * 24 * time.Hour)}
	fresh := Transaction{ID: uuid.New(), Type: TxAuthorization, Status: StatusAuthorized, Amount: decimal.NewFromInt(5), CreatedAt: planNow.Add(-time.Hour)}
	snap := creditSnapshot(stale, fresh)

	results, _ := ProcessOverdueBatch([]AccountSnapshot{snap}, planNow, testPolicy())
	require.Equal(t, 1, results[0].HoldsExpired)
	require.Equal(t, stale.ID, results[0].Actions[0].TransactionID)
}

func TestPlanReviewThresholdCrossing(t *testing.T) {
	policy := testPolicy()
	policy.ReviewThreshold = decimal.NewFromInt(1000)
	charge := overdueCharge(planNow.Add(-2*24*time.Hour), "990")

	results, events := ProcessOverdueBatch([]AccountSnapshot{creditSnapshot(charge)}, planNow, policy)
	require.True(t, results[0].ReviewRequired)
	require.ErrorIs(t, results[0].Err(), ErrReviewRequired)
	require.Equal(t, EventReviewRequired, events[len(events)-1].Type)
}

func TestInterestFor(t *testing.T) {
	principal := decimal.NewFromInt(1000)
	rate := decimal.RequireFromString("0.365")

	simple := InterestFor(principal, decimal.Zero, rate, 3, InterestSimple)
	require.True(t, simple.Equal(decimal.NewFromInt(3)))

	compound := InterestFor(principal, decimal.Zero, rate, 2, InterestCompound)
	require.True(t, RoundAmount(compound, "PLN", RoundHalfUp).Equal(decimal.RequireFromString("2.00")), compound.String())

	withAccrued := InterestFor(principal, decimal.NewFromInt(1000), rate, 1, InterestCompound)
	require.True(t, RoundAmount(withAccrued, "PLN", RoundHalfUp).Equal(decimal.NewFromInt(2)), withAccrued.String())

	require.True(t, InterestFor(principal, decimal.Zero, rate, 0, InterestSimple).IsZero())
}
