package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/parcelhub/ledger/internal/app"
	"github.com/parcelhub/ledger/internal/ledger"
	ledgerhttp "github.com/parcelhub/ledger/internal/ledger/http"
	"github.com/parcelhub/ledger/internal/observability"
	_ "github.com/parcelhub/ledger/testing"
)

const operatorKey = "e2e-operator-key"

type stack struct {
	t      *testing.T
	router http.Handler
}

func newStack(t *testing.T) *stack {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(operatorKey), bcrypt.MinCost)
	require.NoError(t, err)
	t.Setenv("OPERATOR_KEY_HASH", string(hash))
	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("APP_RATE_LIMIT", "10000")
	cfg, err := app.LoadConfig()
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	runtime, err := app.OpenLedger(context.Background(), cfg, app.LedgerParams{Registerer: metrics.Registerer()})
	require.NoError(t, err)
	t.Cleanup(runtime.Close)

	router := app.NewRouter(app.RouterParams{
		Config:        cfg,
		Operators:     app.NewOperatorAuth(cfg.OperatorKeyHash, nil),
		LedgerHandler: ledgerhttp.NewHandler(nil, runtime.Service),
		Metrics:       metrics,
		Ready:         runtime.Ping,
	})
	return &stack{t: t, router: router}
}

func (s *stack) call(method, path string, body any, authorized bool) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set(app.OperatorKeyHeader, operatorKey)
		req.Header.Set(app.ActorHeader, "dispatcher-1")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestCourierCreditLineEndToEnd(t *testing.T) {
	s := newStack(t)

	rr := s.call(http.MethodGet, "/api/v1/accounts", nil, false)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.call(http.MethodPost, "/api/v1/accounts", map[string]any{
		"owner_id": "courier-17", "variant": "credit", "currency": "PLN", "credit_limit": "2000",
	}, true)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	acc := decode[ledger.AccountView](t, rr)
	require.Equal(t, "dispatcher-1", acc.CreatedBy)

	rr = s.call(http.MethodPost, "/api/v1/accounts/"+acc.ID.String()+"/activate", map[string]any{}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.call(http.MethodPost, "/api/v1/transactions/authorize", map[string]any{
		"account_id": acc.ID.String(), "amount": "250", "currency": "PLN", "external_ref": "shipment-881",
	}, true)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.call(http.MethodPost, "/api/v1/settlement-signals", map[string]any{
		"external_reference": "shipment-881", "amount": "250", "currency": "PLN", "status": "succeeded",
	}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sig := decode[ledger.SignalResult](t, rr)
	require.Equal(t, ledger.OutcomeSettled, sig.Outcome)

	rr = s.call(http.MethodGet, "/api/v1/accounts/"+acc.ID.String(), nil, true)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decode[ledger.AccountView](t, rr)
	require.Equal(t, "250", view.UsedCredit.String())

	rr = s.call(http.MethodPost, "/api/v1/accounts/"+acc.ID.String()+"/payments", map[string]any{
		"amount": "250", "external_ref": "bank-77",
	}, true)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.call(http.MethodGet, "/api/v1/accounts/"+acc.ID.String()+"/replay", nil, true)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, decode[ledger.ReplayReport](t, rr).Match)

	rr = s.call(http.MethodPost, "/api/v1/accounts/"+acc.ID.String()+"/close", map[string]any{"reason": "contract ended"}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, ledger.AccountClosed, decode[ledger.AccountView](t, rr).Status)

	rr = s.call(http.MethodGet, "/readyz", nil, false)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.call(http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, `ledger_http_requests_total{code="401"`)
	require.Contains(t, body, `ledger_operations_total{op="authorize",result="ok"} 1`)
}
