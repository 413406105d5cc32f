package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/parcelhub/ledger/cmd/ledgerctl/cli"
	"github.com/parcelhub/ledger/internal/app"
	"github.com/parcelhub/ledger/internal/notify"
	"github.com/parcelhub/ledger/jobs"
	"github.com/parcelhub/ledger/migrations"
)

func main() {
	os.Exit(run())
}

func run() int {
	jsonOutput := flag.Bool("json", false, "print JSON instead of text")
	actor := flag.String("actor", os.Getenv("USER"), "actor recorded on mutations")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return cli.ExitError
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "ledgerctl"))

	command := &cli.App{Actor: *actor, JSONOutput: *jsonOutput, Stdout: os.Stdout, Stderr: os.Stderr}

	var publisher *jobs.EventPublisher
	if !cfg.UsesMemoryStore() {
		redisOpts := cfg.QueueOptions()
		client := jobs.NewClient(redisOpts)
		defer func() { _ = client.Close() }()
		inspector := asynq.NewInspector(redisOpts)
		defer func() { _ = inspector.Close() }()
		publisher = jobs.NewEventPublisher(client)
		command.Jobs = cli.NewJobsCLI(client, inspector)
	}

	params := app.LedgerParams{Logger: logger}
	if publisher != nil {
		params.Publisher = publisher
	} else {
		params.Publisher = notify.NewDirect(notify.NewLogSink(logger))
	}
	runtime, err := app.OpenLedger(ctx, cfg, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		return cli.ExitError
	}
	defer runtime.Close()
	command.Ledger = runtime.Service
	if runtime.Pool != nil {
		command.Migrate = func(ctx context.Context) ([]string, error) {
			return migrations.Apply(ctx, runtime.Pool)
		}
	}

	return command.Run(ctx, flag.Args())
}
