package ledgerhttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/parcelhub/ledger/internal/platform/httpx"
	"github.com/parcelhub/ledger/internal/shared"
)

const (
	heavyRateLimit  = 30
	heavyRateWindow = time.Minute
)

// MountRoutes registers the ledger API.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(heavyRateLimit, heavyRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "")
		}),
	)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.createAccount)
		r.Get("/", h.listAccounts)
		r.With(limiter).Get("/stats", h.ledgerStats)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", h.getAccount)
			r.Get("/stats", h.accountStats)
			r.Post("/activate", h.changeStatus(opActivate))
			r.Post("/suspend", h.changeStatus(opSuspend))
			r.Post("/freeze", h.changeStatus(opFreeze))
			r.Post("/reactivate", h.changeStatus(opReactivate))
			r.Post("/close", h.changeStatus(opClose))
			r.Patch("/limits", h.updateLimits)
			r.Post("/adjustments", h.adjust)
			r.Post("/payments", h.recordPayment)
			r.Get("/transactions", h.listTransactions)
			r.With(limiter).Get("/replay", h.replay)
		})
	})
	r.Route("/transactions", func(r chi.Router) {
		r.Post("/authorize", h.authorize)
		r.Route("/{transactionID}", func(r chi.Router) {
			r.Get("/", h.getTransaction)
			r.Post("/settle", h.settle)
			r.Post("/cancel", h.cancel)
			r.Post("/refund", h.refund)
		})
	})
	r.Post("/settlement-signals", h.settlementSignal)
	r.With(limiter).Post("/overdue/run", h.runOverdue)
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := strings.TrimSpace(shared.ActorFromContext(r.Context())); actor != "" {
		return "actor:" + actor, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
