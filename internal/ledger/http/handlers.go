// Package ledgerhttp exposes the ledger service as a JSON API.
package ledgerhttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/parcelhub/ledger/internal/ledger"
	"github.com/parcelhub/ledger/internal/platform/httpx"
	"github.com/parcelhub/ledger/internal/shared"
)

const idempotencyHeader = "Idempotency-Key"

// Service is the ledger surface the API drives.
type Service interface {
	CreateAccount(ctx context.Context, input ledger.CreateAccountInput) (ledger.AccountView, error)
	GetAccount(ctx context.Context, id uuid.UUID) (ledger.AccountView, error)
	ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.AccountView, error)
	UpdateLimits(ctx context.Context, input ledger.LimitsInput) (ledger.AccountView, error)
	ActivateAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	SuspendAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	FreezeAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	ReactivateAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	CloseAccount(ctx context.Context, input ledger.StatusInput) (ledger.AccountView, error)
	AdjustBalance(ctx context.Context, input ledger.AdjustInput) (ledger.Transaction, error)
	RecordPayment(ctx context.Context, input ledger.PaymentInput) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, filter ledger.TransactionFilter) ([]ledger.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error)
	Authorize(ctx context.Context, input ledger.AuthorizeInput) (ledger.Transaction, error)
	Settle(ctx context.Context, input ledger.SettleInput) (ledger.SettleResult, error)
	CancelAuthorization(ctx context.Context, input ledger.CancelInput) (ledger.Transaction, error)
	Refund(ctx context.Context, input ledger.RefundInput) (ledger.Transaction, error)
	HandleSettlementSignal(ctx context.Context, sig ledger.SettlementSignal) (ledger.SignalResult, error)
	ProcessOverdue(ctx context.Context, opts ledger.OverdueOptions) (ledger.OverdueReport, error)
	AccountStatistics(ctx context.Context, accountID uuid.UUID) (ledger.AccountStatistics, error)
	LedgerStatistics(ctx context.Context) (ledger.LedgerStatistics, error)
	Replay(ctx context.Context, accountID uuid.UUID) (ledger.ReplayReport, error)
}

// Handler serves the ledger API.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v}
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input(shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	view, err := h.service.CreateAccount(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.AccountFilter{
		OwnerID:  q.Get("owner_id"),
		Variant:  ledger.Variant(q.Get("variant")),
		Status:   ledger.AccountStatus(q.Get("status")),
		Currency: strings.ToUpper(q.Get("currency")),
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit"), 100); err != nil {
		h.respondError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset"), 0); err != nil {
		h.respondError(w, r, err)
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts, "count": len(accounts)})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	view, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) accountStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	stats, err := h.service.AccountStatistics(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) ledgerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.LedgerStatistics(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

type statusOp string

const (
	opActivate   statusOp = "activate"
	opSuspend    statusOp = "suspend"
	opFreeze     statusOp = "freeze"
	opReactivate statusOp = "reactivate"
	opClose      statusOp = "close"
)

func (h *Handler) changeStatus(op statusOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r, "accountID")
		if !ok {
			return
		}
		var req statusRequest
		if !h.decodeOptional(w, r, &req) {
			return
		}
		in := ledger.StatusInput{AccountID: id, ActorID: shared.ActorFromContext(r.Context()), Reason: req.Reason}
		var (
			view ledger.AccountView
			err  error
		)
		switch op {
		case opActivate:
			view, err = h.service.ActivateAccount(r.Context(), in)
		case opSuspend:
			view, err = h.service.SuspendAccount(r.Context(), in)
		case opFreeze:
			view, err = h.service.FreezeAccount(r.Context(), in)
		case opReactivate:
			view, err = h.service.ReactivateAccount(r.Context(), in)
		case opClose:
			view, err = h.service.CloseAccount(r.Context(), in)
		}
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, view)
	}
}

func (h *Handler) updateLimits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	var req limitsRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	in.AccountID = id
	in.ActorID = shared.ActorFromContext(r.Context())
	view, err := h.service.UpdateLimits(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	txn, err := h.service.AdjustBalance(r.Context(), ledger.AdjustInput{
		AccountID: id,
		Direction: ledger.Direction(req.Direction),
		Amount:    amount,
		Reason:    req.Reason,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	txn, err := h.service.RecordPayment(r.Context(), ledger.PaymentInput{
		AccountID:      id,
		Amount:         amount,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 100)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	records, err := h.service.ListTransactions(r.Context(), id, ledger.TransactionFilter{
		Type:   ledger.TxType(q.Get("type")),
		Status: ledger.TxStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": records, "count": len(records)})
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	report, err := h.service.Replay(r.Context(), id)
	if err != nil && !errors.Is(err, ledger.ErrReplayMismatch) {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"account_id": "uuid"})
		return
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	txn, err := h.service.Authorize(r.Context(), ledger.AuthorizeInput{
		AccountID:      accountID,
		Amount:         amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		DueInDays:      req.DueInDays,
		ExternalRef:    req.ExternalRef,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "transactionID")
	if !ok {
		return
	}
	txn, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "transactionID")
	if !ok {
		return
	}
	var req settleRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	in := ledger.SettleInput{TransactionID: id}
	if req.Amount != nil {
		amount, err := parseDecimal("amount", *req.Amount)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		in.Amount = &amount
	}
	res, err := h.service.Settle(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "transactionID")
	if !ok {
		return
	}
	var req cancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	txn, err := h.service.CancelAuthorization(r.Context(), ledger.CancelInput{TransactionID: id, Reason: req.Reason})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "transactionID")
	if !ok {
		return
	}
	var req refundRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	txn, err := h.service.Refund(r.Context(), ledger.RefundInput{
		TransactionID:  id,
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) settlementSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.service.HandleSettlementSignal(r.Context(), ledger.SettlementSignal{
		ExternalReference: req.ExternalReference,
		Amount:            amount,
		Currency:          req.Currency,
		Status:            ledger.SignalStatus(req.Status),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) runOverdue(w http.ResponseWriter, r *http.Request) {
	var req overdueRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	report, err := h.service.ProcessOverdue(r.Context(), ledger.OverdueOptions{DryRun: req.DryRun, Limit: req.Limit})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return false
	}
	return h.validate(w, dst)
}

// decodeOptional accepts an empty body for endpoints whose fields are all optional.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return false
	}
	return h.validate(w, dst)
}

func (h *Handler) validate(w http.ResponseWriter, dst any) bool {
	err := h.validator.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	httpx.ValidationProblem(w, fields)
	return false
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{param: "uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.RespondStatus(err, errorMappings...)
	if status >= http.StatusInternalServerError {
		h.logger.Error("ledger api", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorMappings...)
}

func idempotencyKey(r *http.Request, body string) string {
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		return key
	}
	return body
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, httpx.ErrValidation
	}
	return v, nil
}
