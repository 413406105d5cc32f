package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/parcelhub/ledger/internal/app"
	"github.com/parcelhub/ledger/internal/ledger"
	ledgerhttp "github.com/parcelhub/ledger/internal/ledger/http"
	"github.com/parcelhub/ledger/internal/notify"
	"github.com/parcelhub/ledger/internal/observability"
	"github.com/parcelhub/ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	var (
		publisher  ledger.Publisher
		jobHandler *jobs.Handler
	)
	if cfg.UsesMemoryStore() {
		publisher = notify.NewDirect(notify.NewLogSink(logger))
		jobHandler = jobs.NewHandler(nil, logger)
	} else {
		redisOpts := cfg.QueueOptions()
		client := jobs.NewClient(redisOpts)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		publisher = jobs.NewEventPublisher(client)

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	runtime, err := app.OpenLedger(ctx, cfg, app.LedgerParams{
		Logger:     logger,
		Publisher:  publisher,
		Registerer: metrics.Registerer(),
		Migrate:    !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error("open ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer runtime.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Operators:     app.NewOperatorAuth(cfg.OperatorKeyHash, logger),
		LedgerHandler: ledgerhttp.NewHandler(logger, runtime.Service),
		JobHandler:    jobHandler,
		Metrics:       metrics,
		Ready:         runtime.Ping,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
