// Package notify delivers ledger events to the notification collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhub/ledger/internal/ledger"
)

// ErrPermanent marks a delivery the collaborator rejected for good.
var ErrPermanent = errors.New("notify: permanent delivery failure")

// Envelope is the wire form of an event. ID is stable across retries.
type Envelope struct {
	ID    uuid.UUID    `json:"id"`
	Event ledger.Event `json:"event"`
}

// NewEnvelope stamps evt with a fresh delivery ID.
func NewEnvelope(evt ledger.Event) Envelope {
	return Envelope{ID: uuid.New(), Event: evt}
}

// Sink receives event envelopes.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}

// Webhook posts envelopes as JSON to a collaborator URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook builds a webhook sink with a per-request timeout.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

// Deliver posts env. Client errors other than 408 and 429 are permanent.
func (w *Webhook) Deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.ID.String())
	req.Header.Set("X-Ledger-Event", string(env.Event.Type))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post %s: %w", env.Event.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("notify: collaborator busy: %s", resp.Status)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrPermanent, resp.Status)
	default:
		return fmt.Errorf("notify: collaborator error: %s", resp.Status)
	}
}

// LogSink writes envelopes to the log. Used when no webhook is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Deliver logs env and never fails.
func (s *LogSink) Deliver(_ context.Context, env Envelope) error {
	s.logger.Info("ledger event",
		slog.String("delivery_id", env.ID.String()),
		slog.String("event", string(env.Event.Type)),
		slog.String("account_id", env.Event.AccountID.String()),
		slog.String("amount", env.Event.Amount.String()),
		slog.String("currency", env.Event.Currency))
	return nil
}

// Direct publishes events synchronously into a sink. It satisfies
// ledger.Publisher for deployments without a queue.
type Direct struct {
	sink Sink
}

// NewDirect wraps sink as a publisher.
func NewDirect(sink Sink) *Direct {
	return &Direct{sink: sink}
}

// Publish delivers evt immediately.
func (d *Direct) Publish(ctx context.Context, evt ledger.Event) error {
	return d.sink.Deliver(ctx, NewEnvelope(evt))
}
