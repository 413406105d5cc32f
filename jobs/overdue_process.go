package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/parcelhub/ledger/internal/jobs"
	"github.com/parcelhub/ledger/internal/ledger"
)

// OverdueRunner is the ledger operation behind the overdue job.
type OverdueRunner interface {
	ProcessOverdue(ctx context.Context, opts ledger.OverdueOptions) (ledger.OverdueReport, error)
}

// OverdueJob runs the overdue batch from the scheduler or a manual trigger.
type OverdueJob struct {
	Runner  OverdueRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOverdueJob initialises the overdue handler.
func NewOverdueJob(runner OverdueRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueJob {
	return &OverdueJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle executes one batch. A run that finds another batch holding the
// lock is skipped without retry.
func (j *OverdueJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("overdue: handler not configured")
	}
	var payload OverduePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := j.logger().With(slog.Bool("dry_run", payload.DryRun), slog.Int("limit", payload.Limit))
	tracker := j.Metrics.Track("overdue_process")

	start := time.Now()
	report, err := j.Runner.ProcessOverdue(ctx, ledger.OverdueOptions{DryRun: payload.DryRun, Limit: payload.Limit})
	if errors.Is(err, ledger.ErrBatchInProgress) {
		logger.Info("overdue batch already running, skipping")
		return tracker.End(nil)
	}
	if err != nil {
		logger.Error("overdue batch failed", slog.Any("error", err))
		return tracker.End(err)
	}

	j.Metrics.AddItems("overdue_process", "scanned", report.AccountsScanned)
	j.Metrics.AddItems("overdue_process", "processed", report.AccountsProcessed)
	j.Metrics.AddItems("overdue_process", "failed", report.AccountsFailed)
	for _, f := range report.Failures {
		logger.Warn("overdue account failed", slog.String("account_id", f.AccountID.String()), slog.String("error", f.Error))
	}
	logger.Info("completed overdue batch",
		slog.Int("scanned", report.AccountsScanned),
		slog.Int("processed", report.AccountsProcessed),
		slog.Int("failed", report.AccountsFailed),
		slog.Int("holds_expired", report.HoldsExpired),
		slog.Int("charges_overdue", report.ChargesOverdue),
		slog.String("interest_total", report.InterestTotal.String()),
		slog.String("fee_total", report.FeeTotal.String()),
		slog.Int("review_signals", report.ReviewSignals),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *OverdueJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
