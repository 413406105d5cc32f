package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/parcelhub/ledger/internal/notify"
)

const (
	// QueueCritical carries ledger maintenance that must not starve.
	QueueCritical = "critical"
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskOverdueProcess runs the overdue batch.
	TaskOverdueProcess = "ledger:overdue:process"
	// TaskEventDeliver delivers one ledger event to the notification collaborator.
	TaskEventDeliver = "ledger:event:deliver"
	// TaskIdempotencyCleanup prunes aged settlement-signal dedup keys.
	TaskIdempotencyCleanup = "ledger:idempotency:cleanup"
)

// OverduePayload parameterises an overdue batch run.
type OverduePayload struct {
	DryRun       bool      `json:"dry_run"`
	Limit        int       `json:"limit,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

// NewOverdueTask constructs an Asynq task for the overdue batch.
func NewOverdueTask(payload OverduePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueProcess, body, asynq.Queue(QueueCritical)), nil
}

// NewEventTask wraps an envelope for queued delivery.
func NewEventTask(env notify.Envelope) (*asynq.Task, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEventDeliver, body, asynq.Queue(QueueDefault), asynq.TaskID(env.ID.String())), nil
}

// CleanupPayload parameterises the dedup key cleanup.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewCleanupTask constructs the dedup key cleanup task.
func NewCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
