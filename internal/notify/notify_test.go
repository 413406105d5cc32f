package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/ledger/internal/ledger"
)

func sampleEvent() ledger.Event {
	return ledger.Event{
		AccountID: uuid.New(),
		Type:      ledger.EventLowBalance,
		Amount:    decimal.RequireFromString("12.50"),
		Currency:  "PLN",
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestWebhookDeliversEnvelope(t *testing.T) {
	var got Envelope
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		require.Equal(t, "low_balance", r.Header.Get("X-Ledger-Event"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	env := NewEnvelope(sampleEvent())
	require.NoError(t, NewWebhook(srv.URL, time.Second).Deliver(context.Background(), env))
	require.Equal(t, env.ID.String(), key)
	require.Equal(t, env.Event.AccountID, got.Event.AccountID)
	require.True(t, env.Event.Amount.Equal(got.Event.Amount))
}

func TestWebhookClassifiesFailures(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()
	hook := NewWebhook(srv.URL, time.Second)
	env := NewEnvelope(sampleEvent())

	err := hook.Deliver(context.Background(), env)
	require.ErrorIs(t, err, ErrPermanent)

	status = http.StatusTooManyRequests
	err = hook.Deliver(context.Background(), env)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPermanent)

	status = http.StatusBadGateway
	err = hook.Deliver(context.Background(), env)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPermanent)
}

func TestWebhookTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, 20*time.Millisecond).Deliver(context.Background(), NewEnvelope(sampleEvent()))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPermanent)
}

func TestDirectPublisherUsesSink(t *testing.T) {
	var buf bytes.Buffer
	pub := NewDirect(NewLogSink(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, pub.Publish(context.Background(), sampleEvent()))
	require.Contains(t, buf.String(), "event=low_balance")
	require.Contains(t, buf.String(), "amount=12.5")
}
