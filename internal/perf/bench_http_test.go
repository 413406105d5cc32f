package perf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/ledger/internal/ledger"
	ledgerhttp "github.com/parcelhub/ledger/internal/ledger/http"
	"github.com/parcelhub/ledger/internal/ledger/memory"
	"github.com/parcelhub/ledger/internal/shared"
)

func newLedgerAPI(tb testing.TB) (http.Handler, *ledger.Service) {
	tb.Helper()
	svc := ledger.NewService(memory.New(), ledger.Config{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), "perf")))
		})
	})
	ledgerhttp.NewHandler(nil, svc).MountRoutes(r)
	return r, svc
}

func openWallet(tb testing.TB, svc *ledger.Service, owner, funds string) ledger.AccountView {
	tb.Helper()
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, ledger.CreateAccountInput{OwnerID: owner, Variant: ledger.VariantWallet, Currency: "PLN", ActorID: "perf"})
	require.NoError(tb, err)
	_, err = svc.RecordPayment(ctx, ledger.PaymentInput{AccountID: acc.ID, Amount: decimal.RequireFromString(funds), ActorID: "perf"})
	require.NoError(tb, err)
	return acc
}

func authorize(tb testing.TB, h http.Handler, accountID string, ref string) time.Duration {
	tb.Helper()
	body, _ := json.Marshal(map[string]any{"account_id": accountID, "amount": "1.25", "currency": "PLN", "external_ref": ref})
	req := httptest.NewRequest(http.MethodPost, "/transactions/authorize", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	start := time.Now()
	h.ServeHTTP(rr, req)
	elapsed := time.Since(start)
	if rr.Code != http.StatusCreated {
		tb.Fatalf("authorize: status %d body %s", rr.Code, rr.Body.String())
	}
	return elapsed
}

func TestAuthorizationLatencyTarget(t *testing.T) {
	h, svc := newLedgerAPI(t)
	acc := openWallet(t, svc, "courier-perf", "10000")

	samples := make([]time.Duration, 0, 200)
	for i := 0; i < 200; i++ {
		samples = append(samples, authorize(t, h, acc.ID.String(), fmt.Sprintf("perf-%d", i)))
	}
	p95 := percentile95(samples)
	if p95 > 50*time.Millisecond {
		t.Fatalf("authorize latency regression: p95=%s", p95)
	}

	report, err := svc.Replay(context.Background(), acc.ID)
	require.NoError(t, err)
	require.True(t, report.Match)
}

func BenchmarkAuthorizeHTTP(b *testing.B) {
	h, svc := newLedgerAPI(b)
	acc := openWallet(b, svc, "courier-bench", "100000000")
	id := acc.ID.String()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		authorize(b, h, id, fmt.Sprintf("bench-%d", i))
	}
}

func BenchmarkAuthorizeSettle(b *testing.B) {
	svc := ledger.NewService(memory.New(), ledger.Config{})
	acc := openWallet(b, svc, "courier-bench", "100000000")
	ctx := context.Background()
	amount := decimal.RequireFromString("3.50")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		auth, err := svc.Authorize(ctx, ledger.AuthorizeInput{AccountID: acc.ID, Amount: amount, Currency: "PLN"})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := svc.Settle(ctx, ledger.SettleInput{TransactionID: auth.ID}); err != nil {
			b.Fatal(err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
