package ledgerhttp

import (
	"context"
	"net/http"

	"github.com/parcelhub/ledger/internal/ledger"
	"github.com/parcelhub/ledger/internal/platform/httpx"
)

var errorMappings = []httpx.ErrorMapping{
	{Err: ledger.ErrAccountNotFound, Status: http.StatusNotFound, Title: "Account Not Found"},
	{Err: ledger.ErrTransactionNotFound, Status: http.StatusNotFound, Title: "Transaction Not Found"},

	{Err: ledger.ErrInvalidAmount, Status: http.StatusBadRequest, Title: "Invalid Amount"},
	{Err: ledger.ErrInvalidCurrency, Status: http.StatusBadRequest, Title: "Invalid Currency"},
	{Err: ledger.ErrInvalidInput, Status: http.StatusBadRequest, Title: "Invalid Input"},
	{Err: ledger.ErrReasonRequired, Status: http.StatusBadRequest, Title: "Reason Required"},
	{Err: ledger.ErrActorRequired, Status: http.StatusBadRequest, Title: "Actor Required"},

	{Err: ledger.ErrAccountExists, Status: http.StatusConflict, Title: "Account Exists"},
	{Err: ledger.ErrAlreadySettled, Status: http.StatusConflict, Title: "Already Settled"},
	{Err: ledger.ErrAlreadyCancelled, Status: http.StatusConflict, Title: "Already Cancelled"},
	{Err: ledger.ErrInvalidTransition, Status: http.StatusConflict, Title: "Invalid Status Transition"},
	{Err: ledger.ErrBatchInProgress, Status: http.StatusConflict, Title: "Overdue Batch Running", Retryable: true},
	{Err: ledger.ErrConcurrencyConflict, Status: http.StatusConflict, Title: "Concurrency Conflict", Retryable: true},
	{Err: ledger.ErrVersionConflict, Status: http.StatusConflict, Title: "Concurrency Conflict", Retryable: true},
	{Err: ledger.ErrDuplicateIdempotencyKey, Status: http.StatusConflict, Title: "Duplicate Request", Retryable: true},

	{Err: ledger.ErrAccountInactive, Status: http.StatusUnprocessableEntity, Title: "Account Inactive"},
	{Err: ledger.ErrCreditLimitExceeded, Status: http.StatusUnprocessableEntity, Title: "Credit Limit Exceeded"},
	{Err: ledger.ErrInsufficientFunds, Status: http.StatusUnprocessableEntity, Title: "Insufficient Funds"},
	{Err: ledger.ErrSpendingLimitExceeded, Status: http.StatusUnprocessableEntity, Title: "Spending Limit Exceeded"},
	{Err: ledger.ErrSettlementExceedsAuthorization, Status: http.StatusUnprocessableEntity, Title: "Settlement Exceeds Authorization"},
	{Err: ledger.ErrRefundExceedsSettled, Status: http.StatusUnprocessableEntity, Title: "Refund Exceeds Settled Amount"},
	{Err: ledger.ErrOutstandingBalance, Status: http.StatusUnprocessableEntity, Title: "Outstanding Balance"},
	{Err: ledger.ErrSignalMismatch, Status: http.StatusUnprocessableEntity, Title: "Settlement Signal Mismatch"},
	{Err: ledger.ErrReviewRequired, Status: http.StatusUnprocessableEntity, Title: "Review Required"},

	{Err: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Title: "Timeout", Retryable: true},
}
