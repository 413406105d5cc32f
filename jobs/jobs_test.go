package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/parcelhub/ledger/internal/jobs"
	"github.com/parcelhub/ledger/internal/ledger"
	"github.com/parcelhub/ledger/internal/notify"
)

type stubRunner struct {
	opts   ledger.OverdueOptions
	report ledger.OverdueReport
	err    error
}

func (s *stubRunner) ProcessOverdue(_ context.Context, opts ledger.OverdueOptions) (ledger.OverdueReport, error) {
	s.opts = opts
	return s.report, s.err
}

func TestOverdueJobPassesOptions(t *testing.T) {
	runner := &stubRunner{report: ledger.OverdueReport{AccountsScanned: 4, AccountsProcessed: 2}}
	job := NewOverdueJob(runner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewOverdueTask(OverduePayload{DryRun: true, Limit: 50})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, runner.opts.DryRun)
	require.Equal(t, 50, runner.opts.Limit)
}

func TestOverdueJobSkipsWhenBatchRunning(t *testing.T) {
	job := NewOverdueJob(&stubRunner{err: ledger.ErrBatchInProgress}, nil, nil)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskOverdueProcess, nil)))

	boom := errors.New("db down")
	job = NewOverdueJob(&stubRunner{err: boom}, nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskOverdueProcess, nil)), boom)

	err := job.Handle(context.Background(), asynq.NewTask(TaskOverdueProcess, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type sinkFunc func(context.Context, notify.Envelope) error

func (f sinkFunc) Deliver(ctx context.Context, env notify.Envelope) error { return f(ctx, env) }

func TestEventPublisherQueuesDelivery(t *testing.T) {
	enq := &captureEnqueuer{}
	evt := ledger.Event{Type: ledger.EventSettled, Amount: decimal.NewFromInt(40), Currency: "PLN"}
	require.NoError(t, NewEventPublisher(enq).Publish(context.Background(), evt))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskEventDeliver, enq.tasks[0].Type())

	var delivered notify.Envelope
	job := NewEventDeliveryJob(sinkFunc(func(_ context.Context, env notify.Envelope) error {
		delivered = env
		return nil
	}), nil, nil)
	require.NoError(t, job.Handle(context.Background(), enq.tasks[0]))
	require.Equal(t, ledger.EventSettled, delivered.Event.Type)
	require.True(t, decimal.NewFromInt(40).Equal(delivered.Event.Amount))
}

func TestEventDeliveryRetryPolicy(t *testing.T) {
	task, err := NewEventTask(notify.NewEnvelope(ledger.Event{Type: ledger.EventOverdue}))
	require.NoError(t, err)

	rejected := NewEventDeliveryJob(sinkFunc(func(context.Context, notify.Envelope) error {
		return notify.ErrPermanent
	}), nil, nil)
	require.ErrorIs(t, rejected.Handle(context.Background(), task), asynq.SkipRetry)

	transient := errors.New("502")
	flaky := NewEventDeliveryJob(sinkFunc(func(context.Context, notify.Envelope) error {
		return transient
	}), nil, nil)
	err = flaky.Handle(context.Background(), task)
	require.ErrorIs(t, err, transient)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestJobsHealth(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{QueueCritical: {Queue: QueueCritical, Pending: 2, Retry: 1}}, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Queues  []QueueStats `json:"queues"`
		Enabled bool         `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body.Enabled)
	require.Equal(t, []QueueStats{
		{Queue: QueueCritical, Pending: 2, Retry: 1},
		{Queue: QueueDefault},
	}, body.Queues)
}
