package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/parcelhub/ledger/internal/shared"
)

const (
	daysPerYear = 365
	interestDay = 24 * time.Hour
)

var overdueLockKey = shared.LockKey("overdue")

// OverduePolicy parameterises the pure overdue batch.
type OverduePolicy struct {
	AuthorizationExpiry time.Duration
	InterestPeriod      time.Duration
	InterestMode        InterestMode
	Rounding            RoundingMode
	ReviewThreshold     decimal.Decimal
}

// AccountSnapshot is an account together with its open journal items:
// authorizations still holding funds and credit charges not fully paid.
type AccountSnapshot struct {
	Account Account
	Items   []Transaction
}

// ActionKind enumerates what the overdue batch does to a record.
type ActionKind string

const (
	ActionExpire   ActionKind = "expire"
	ActionOverdue  ActionKind = "mark_overdue"
	ActionFee      ActionKind = "fee"
	ActionInterest ActionKind = "interest"
)

// OverdueAction is one planned change for a single record.
type OverdueAction struct {
	Kind          ActionKind      `json:"kind"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Days          int             `json:"days,omitempty"`
	From          *time.Time      `json:"from,omitempty"`
}

// OverdueResult is the plan, and after application the outcome, for one account.
type OverdueResult struct {
	AccountID       uuid.UUID       `json:"account_id"`
	Actions         []OverdueAction `json:"actions"`
	HoldsExpired    int             `json:"holds_expired"`
	ChargesOverdue  int             `json:"charges_overdue"`
	InterestRecords int             `json:"interest_records"`
	InterestTotal   decimal.Decimal `json:"interest_total"`
	FeeRecords      int             `json:"fee_records"`
	FeeTotal        decimal.Decimal `json:"fee_total"`
	ReviewRequired  bool            `json:"review_required"`
}

// Err returns the soft review signal when the run pushed the account over the
// review threshold.
func (r OverdueResult) Err() error {
	if r.ReviewRequired {
		return fmt.Errorf("%w: account %s", ErrReviewRequired, r.AccountID)
	}
	return nil
}

// Empty reports whether the plan changes nothing.
func (r OverdueResult) Empty() bool {
	return len(r.Actions) == 0
}

// ProcessOverdueBatch plans the overdue run for every snapshot as of now. It
// performs no I/O; the returned events are those the plan would publish.
func ProcessOverdueBatch(snapshots []AccountSnapshot, now time.Time, policy OverduePolicy) ([]OverdueResult, []Event) {
	results := make([]OverdueResult, 0, len(snapshots))
	var events []Event
	for _, snap := range snapshots {
		res, evts := planAccount(snap, now, policy)
		results = append(results, res)
		events = append(events, evts...)
	}
	return results, events
}

func planAccount(snap AccountSnapshot, now time.Time, policy OverduePolicy) (OverdueResult, []Event) {
	acc := snap.Account
	res := OverdueResult{AccountID: acc.ID, InterestTotal: decimal.Zero, FeeTotal: decimal.Zero}
	if acc.Status == AccountClosed {
		return res, nil
	}
	items := append([]Transaction(nil), snap.Items...)
	sortByDueDate(items)

	event := func(typ EventType, amount decimal.Decimal, meta map[string]string) Event {
		return Event{AccountID: acc.ID, Type: typ, Amount: amount, Currency: acc.Currency, Timestamp: now, Metadata: meta}
	}
	var events []Event
	exposureBefore := acc.AccruedCharges
	exposureAfter := acc.AccruedCharges

	for _, item := range items {
		switch item.Type {
		case TxAuthorization:
			if item.Status == StatusAuthorized && policy.AuthorizationExpiry > 0 && !item.CreatedAt.Add(policy.AuthorizationExpiry).After(now) {
				res.Actions = append(res.Actions, OverdueAction{Kind: ActionExpire, TransactionID: item.ID, Amount: item.Amount})
				res.HoldsExpired++
			}
		case TxCharge:
			if acc.Variant != VariantCredit {
				continue
			}
			outstanding := item.Outstanding()
			if item.Status == StatusOverdue {
				exposureBefore = exposureBefore.Add(outstanding)
				exposureAfter = exposureAfter.Add(outstanding)
			}
			if item.DueDate == nil || !item.DueDate.Before(now) || !outstanding.IsPositive() {
				continue
			}
			if item.Status != StatusSettled && item.Status != StatusOverdue {
				continue
			}
			if item.Status == StatusSettled {
				res.Actions = append(res.Actions, OverdueAction{Kind: ActionOverdue, TransactionID: item.ID, Amount: outstanding})
				res.ChargesOverdue++
				exposureAfter = exposureAfter.Add(outstanding)
				events = append(events, event(EventOverdue, outstanding, map[string]string{
					"transaction_id": item.ID.String(),
					"due_date":       item.DueDate.Format(time.RFC3339),
				}))
				if acc.OverdraftFee.IsPositive() {
					res.Actions = append(res.Actions, OverdueAction{Kind: ActionFee, TransactionID: item.ID, Amount: acc.OverdraftFee})
					res.FeeRecords++
					res.FeeTotal = res.FeeTotal.Add(acc.OverdraftFee)
					exposureAfter = exposureAfter.Add(acc.OverdraftFee)
				}
			}
			if interest, from, days, ok := accrueInterest(item, acc, now, policy); ok {
				res.Actions = append(res.Actions, OverdueAction{
					Kind: ActionInterest, TransactionID: item.ID, Amount: interest, Days: days, From: &from,
				})
				res.InterestRecords++
				res.InterestTotal = res.InterestTotal.Add(interest)
				exposureAfter = exposureAfter.Add(interest)
			}
		}
	}

	if acc.Variant == VariantCredit && policy.ReviewThreshold.IsPositive() &&
		exposureBefore.LessThan(policy.ReviewThreshold) && !exposureAfter.LessThan(policy.ReviewThreshold) {
		res.ReviewRequired = true
		events = append(events, event(EventReviewRequired, exposureAfter, map[string]string{
			"threshold": policy.ReviewThreshold.String(),
		}))
	}
	return res, events
}

// accrueInterest computes the interest due on an overdue charge for the whole
// days since its due date or the instant interest was last accrued through,
// whichever is later. It accrues at most once per interest period.
func accrueInterest(charge Transaction, acc Account, now time.Time, policy OverduePolicy) (decimal.Decimal, time.Time, int, bool) {
	if !acc.InterestRate.IsPositive() || charge.DueDate == nil {
		return decimal.Zero, time.Time{}, 0, false
	}
	from := *charge.DueDate
	if charge.LastInterestAt != nil {
		if now.Sub(*charge.LastInterestAt) < policy.InterestPeriod {
			return decimal.Zero, time.Time{}, 0, false
		}
		if charge.LastInterestAt.After(from) {
			from = *charge.LastInterestAt
		}
	}
	days := int(now.Sub(from) / interestDay)
	if days < 1 {
		return decimal.Zero, time.Time{}, 0, false
	}
	interest := InterestFor(charge.Outstanding(), charge.AccruedInterest, acc.InterestRate, days, policy.InterestMode)
	interest = RoundAmount(interest, acc.Currency, policy.Rounding)
	if !interest.IsPositive() {
		return decimal.Zero, time.Time{}, 0, false
	}
	return interest, from, days, true
}

// InterestFor returns unrounded interest for days at an annual rate. Simple
// interest applies to the principal only; compound interest compounds daily on
// principal plus interest already accrued.
func InterestFor(principal, accrued, annualRate decimal.Decimal, days int, mode InterestMode) decimal.Decimal {
	if days <= 0 || !principal.IsPositive() {
		return decimal.Zero
	}
	year := decimal.NewFromInt(daysPerYear)
	if mode == InterestCompound {
		base := principal.Add(accrued)
		factor := decimal.NewFromInt(1).Add(annualRate.Div(year)).Pow(decimal.NewFromInt(int64(days)))
		return base.Mul(factor.Sub(decimal.NewFromInt(1)))
	}
	return principal.Mul(annualRate).Mul(decimal.NewFromInt(int64(days))).Div(year)
}

// applyPlan carries out a plan inside a guarded unit.
func applyPlan(ctx context.Context, u *unit, items []Transaction, plan OverdueResult) error {
	byID := make(map[uuid.UUID]*Transaction, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}
	touched := make(map[uuid.UUID]bool)
	for _, action := range plan.Actions {
		item, ok := byID[action.TransactionID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, action.TransactionID)
		}
		switch action.Kind {
		case ActionExpire:
			if _, err := closeAuthorization(ctx, u, item.ID, StatusFailed, "expired"); err != nil {
				return err
			}
		case ActionOverdue:
			if err := transition(item, StatusOverdue); err != nil {
				return err
			}
			since := u.now
			item.OverdueSince = &since
			touched[item.ID] = true
		case ActionFee, ActionInterest:
			parent := item.ID
			typ := TxFee
			if action.Kind == ActionInterest {
				typ = TxInterest
			}
			rec := &Transaction{
				ParentID:  &parent,
				Type:      typ,
				Status:    StatusPending,
				Direction: DirectionDebit,
				Amount:    action.Amount,
			}
			if action.Days > 0 {
				rec.Metadata = map[string]string{"days": fmt.Sprint(action.Days)}
			}
			if err := transition(rec, StatusSettled); err != nil {
				return err
			}
			if err := u.post(ctx, rec, func() {
				u.acc.AccruedCharges = u.acc.AccruedCharges.Add(action.Amount)
			}); err != nil {
				return err
			}
			if action.Kind == ActionFee {
				item.AccruedFees = item.AccruedFees.Add(action.Amount)
			} else {
				through := u.now
				if action.From != nil {
					through = action.From.Add(time.Duration(action.Days) * interestDay)
				}
				item.AccruedInterest = item.AccruedInterest.Add(action.Amount)
				item.LastInterestAt = &through
			}
			touched[item.ID] = true
		}
	}
	for id := range touched {
		item := byID[id]
		item.UpdatedAt = u.now
		if err := u.tx.UpdateTransaction(ctx, *item); err != nil {
			return err
		}
	}
	return nil
}

// OverdueOptions controls a ProcessOverdue run.
type OverdueOptions struct {
	DryRun bool
	Limit  int
}

// OverdueFailure records an account the batch could not process.
type OverdueFailure struct {
	AccountID uuid.UUID `json:"account_id"`
	Error     string    `json:"error"`
}

// OverdueReport summarises a ProcessOverdue run.
type OverdueReport struct {
	RunAt             time.Time        `json:"run_at"`
	DryRun            bool             `json:"dry_run"`
	AccountsScanned   int              `json:"accounts_scanned"`
	AccountsProcessed int              `json:"accounts_processed"`
	AccountsFailed    int              `json:"accounts_failed"`
	HoldsExpired      int              `json:"holds_expired"`
	ChargesOverdue    int              `json:"charges_overdue"`
	InterestRecords   int              `json:"interest_records"`
	InterestTotal     decimal.Decimal  `json:"interest_total"`
	FeeRecords        int              `json:"fee_records"`
	FeeTotal          decimal.Decimal  `json:"fee_total"`
	ReviewSignals     int              `json:"review_signals"`
	Results           []OverdueResult  `json:"results,omitempty"`
	Failures          []OverdueFailure `json:"failures,omitempty"`
}

func (r *OverdueReport) add(res OverdueResult) {
	if res.Empty() && !res.ReviewRequired {
		return
	}
	r.AccountsProcessed++
	r.HoldsExpired += res.HoldsExpired
	r.ChargesOverdue += res.ChargesOverdue
	r.InterestRecords += res.InterestRecords
	r.InterestTotal = r.InterestTotal.Add(res.InterestTotal)
	r.FeeRecords += res.FeeRecords
	r.FeeTotal = r.FeeTotal.Add(res.FeeTotal)
	if res.ReviewRequired {
		r.ReviewSignals++
	}
	r.Results = append(r.Results, res)
}

// Locker guards sections that must not run concurrently across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// ProcessOverdue expires stale holds and marks, charges and reviews overdue
// credit across all accounts with open items. Accounts are processed
// independently; a failure on one is recorded and the batch continues.
func (s *Service) ProcessOverdue(ctx context.Context, opts OverdueOptions) (OverdueReport, error) {
	report := OverdueReport{RunAt: s.now(), DryRun: opts.DryRun, InterestTotal: decimal.Zero, FeeTotal: decimal.Zero}
	if s.locker != nil && !opts.DryRun {
		unlock, ok, err := s.locker.TryLock(ctx, overdueLockKey, s.cfg.OverdueLockTTL)
		if err != nil {
			return report, fmt.Errorf("ledger: acquire overdue lock: %w", err)
		}
		if !ok {
			return report, ErrBatchInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("ledger: release overdue lock", slog.Any("error", err))
			}
		}()
	}

	ids, err := s.repo.AccountsWithOpenItems(ctx, opts.Limit)
	if err != nil {
		return report, err
	}
	report.AccountsScanned = len(ids)
	if opts.DryRun {
		return s.planOverdue(ctx, ids, report)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.OverdueConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			res, err := s.processAccount(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.AccountsFailed++
				report.Failures = append(report.Failures, OverdueFailure{AccountID: id, Error: err.Error()})
				s.logger.Warn("ledger: overdue account failed",
					slog.String("account_id", id.String()),
					slog.Any("error", err))
				return nil
			}
			report.add(res)
			return nil
		})
	}
	_ = g.Wait()
	sortResults(&report)
	s.metrics.overdueRun(report)
	s.logger.Info("ledger: overdue batch finished",
		slog.Int("scanned", report.AccountsScanned),
		slog.Int("processed", report.AccountsProcessed),
		slog.Int("failed", report.AccountsFailed),
		slog.Int("holds_expired", report.HoldsExpired),
		slog.Int("charges_overdue", report.ChargesOverdue),
		slog.String("interest_total", report.InterestTotal.String()),
		slog.String("fee_total", report.FeeTotal.String()))
	return report, nil
}

func (s *Service) planOverdue(ctx context.Context, ids []uuid.UUID, report OverdueReport) (OverdueReport, error) {
	snapshots := make([]AccountSnapshot, 0, len(ids))
	for _, id := range ids {
		acc, err := s.repo.GetAccount(ctx, id)
		if err != nil {
			report.AccountsFailed++
			report.Failures = append(report.Failures, OverdueFailure{AccountID: id, Error: err.Error()})
			continue
		}
		items, err := s.repo.ListOpenItems(ctx, id)
		if err != nil {
			report.AccountsFailed++
			report.Failures = append(report.Failures, OverdueFailure{AccountID: id, Error: err.Error()})
			continue
		}
		snapshots = append(snapshots, AccountSnapshot{Account: acc, Items: items})
	}
	results, _ := ProcessOverdueBatch(snapshots, report.RunAt, s.cfg.Policy())
	for _, res := range results {
		report.add(res)
	}
	sortResults(&report)
	return report, nil
}

func (s *Service) processAccount(ctx context.Context, id uuid.UUID) (OverdueResult, error) {
	var result OverdueResult
	u, err := s.guard(ctx, id, func(ctx context.Context, u *unit) error {
		items, err := u.tx.ListOpenItems(ctx, id)
		if err != nil {
			return err
		}
		plan, events := planAccount(AccountSnapshot{Account: *u.acc, Items: items}, u.now, s.cfg.Policy())
		result = plan
		u.events = events
		if plan.Empty() {
			u.skipWrite = true
			return nil
		}
		return applyPlan(ctx, u, items, plan)
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return OverdueResult{}, err
		}
		return OverdueResult{}, fmt.Errorf("account %s: %w", id, err)
	}
	if soft := result.Err(); soft != nil {
		s.logger.Info("ledger: account flagged for review", slog.String("account_id", id.String()), slog.Any("signal", soft))
	}
	s.publish(ctx, u.events)
	return result, nil
}

func sortResults(r *OverdueReport) {
	sort.Slice(r.Results, func(i, j int) bool {
		return r.Results[i].AccountID.String() < r.Results[j].AccountID.String()
	})
	sort.Slice(r.Failures, func(i, j int) bool {
		return r.Failures[i].AccountID.String() < r.Failures[j].AccountID.String()
	})
}
