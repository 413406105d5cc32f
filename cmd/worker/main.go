package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/parcelhub/ledger/internal/app"
	"github.com/parcelhub/ledger/internal/notify"
	"github.com/parcelhub/ledger/internal/observability"
	"github.com/parcelhub/ledger/internal/shared"
	"github.com/parcelhub/ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.UsesMemoryStore() {
		slog.Default().Error("worker requires the postgres store")
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()
	redisOpts := cfg.QueueOptions()

	client := jobs.NewClient(redisOpts)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	runtime, err := app.OpenLedger(ctx, cfg, app.LedgerParams{
		Logger:     logger,
		Publisher:  jobs.NewEventPublisher(client),
		Registerer: metrics.Registerer(),
	})
	if err != nil {
		logger.Error("open ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer runtime.Close()

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.NotifyWebhookURL != "" {
		sink = notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyTimeout)
	} else {
		logger.Warn("NOTIFY_WEBHOOK_URL not set, events are logged only")
	}

	overdueJob := jobs.NewOverdueJob(runtime.Service, logger, metrics.Jobs())
	deliveryJob := jobs.NewEventDeliveryJob(sink, logger, metrics.Jobs())

	cleanupJob := jobs.NewCleanupJob(shared.NewIdempotencyStore(runtime.Pool), logger, metrics.Jobs())

	overdueTask, err := jobs.NewOverdueTask(jobs.OverduePayload{})
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewCleanupTask(cfg.KeyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.OverdueConcurrency * 2,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverdueProcess, Handler: overdueJob.Handle},
			{Type: jobs.TaskEventDeliver, Handler: deliveryJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OverdueCron, Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
