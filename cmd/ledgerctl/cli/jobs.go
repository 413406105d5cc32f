package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"

	"github.com/parcelhub/ledger/jobs"
)

// JobsOps triggers and inspects background jobs.
type JobsOps interface {
	TriggerOverdue(ctx context.Context, payload jobs.OverduePayload) (*asynq.TaskInfo, error)
	Inspect(ctx context.Context) ([]jobs.QueueStats, error)
}

// JobsCLI talks to the asynq queues.
type JobsCLI struct {
	client    *jobs.Client
	inspector jobs.QueueInspector
}

// NewJobsCLI constructs a JobsCLI.
func NewJobsCLI(client *jobs.Client, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// TriggerOverdue enqueues an overdue batch run.
func (j *JobsCLI) TriggerOverdue(ctx context.Context, payload jobs.OverduePayload) (*asynq.TaskInfo, error) {
	if payload.ScheduledFor.IsZero() {
		payload.ScheduledFor = time.Now().UTC()
	}
	return j.client.EnqueueOverdue(ctx, payload)
}

// Inspect reports queue depth for the ledger queues.
func (j *JobsCLI) Inspect(_ context.Context) ([]jobs.QueueStats, error) {
	return jobs.Stats(j.inspector)
}

type triggerResult struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
	Type   string `json:"type"`
}

func (a *App) jobs(ctx context.Context, args []string) error {
	if a.Jobs == nil {
		return errors.New("job queue not configured")
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: jobs subcommand required", errUsage)
	}
	switch args[0] {
	case "trigger":
		return a.jobsTrigger(ctx, args[1:])
	case "inspect":
		stats, err := a.Jobs.Inspect(ctx)
		if err != nil {
			return err
		}
		return a.print(stats, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
			for _, q := range stats {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Archived)
			}
			_ = tw.Flush()
		})
	default:
		return fmt.Errorf("%w: unknown jobs subcommand %q", errUsage, args[0])
	}
}

func (a *App) jobsTrigger(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "overdue" {
		return fmt.Errorf("%w: expected 'jobs trigger overdue'", errUsage)
	}
	fs := newFlagSet("jobs trigger overdue", a.Stderr)
	dryRun := fs.Bool("dry-run", false, "compute without writing")
	limit := fs.Int("limit", 0, "maximum accounts to scan")
	if err := fs.Parse(args[1:]); err != nil {
		return usageErr(err)
	}
	info, err := a.Jobs.TriggerOverdue(ctx, jobs.OverduePayload{DryRun: *dryRun, Limit: *limit})
	if err != nil {
		return err
	}
	res := triggerResult{TaskID: info.ID, Queue: info.Queue, Type: info.Type}
	return a.print(res, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "enqueued %s on %s (%s)\n", res.Type, res.Queue, res.TaskID)
	})
}
