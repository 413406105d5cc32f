package ledgerhttp

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/parcelhub/ledger/internal/ledger"
)

type createAccountRequest struct {
	OwnerID             string `json:"owner_id" validate:"required,max=128"`
	Variant             string `json:"variant" validate:"required,oneof=credit wallet"`
	Currency            string `json:"currency" validate:"required,len=3,alpha"`
	CreditLimit         string `json:"credit_limit" validate:"omitempty,numeric"`
	OverdraftLimit      string `json:"overdraft_limit" validate:"omitempty,numeric"`
	PaymentTermDays     int    `json:"payment_term_days" validate:"omitempty,min=1,max=365"`
	InterestRate        string `json:"interest_rate" validate:"omitempty,numeric"`
	OverdraftFee        string `json:"overdraft_fee" validate:"omitempty,numeric"`
	DailyLimit          string `json:"daily_limit" validate:"omitempty,numeric"`
	MonthlyLimit        string `json:"monthly_limit" validate:"omitempty,numeric"`
	LowBalanceThreshold string `json:"low_balance_threshold" validate:"omitempty,numeric"`
}

func (r createAccountRequest) input(actor string) (ledger.CreateAccountInput, error) {
	in := ledger.CreateAccountInput{
		OwnerID:         r.OwnerID,
		Variant:         ledger.Variant(r.Variant),
		Currency:        r.Currency,
		ActorID:         actor,
		PaymentTermDays: r.PaymentTermDays,
	}
	err := parseAll(
		field{"credit_limit", r.CreditLimit, &in.CreditLimit},
		field{"overdraft_limit", r.OverdraftLimit, &in.OverdraftLimit},
		field{"interest_rate", r.InterestRate, &in.InterestRate},
		field{"overdraft_fee", r.OverdraftFee, &in.OverdraftFee},
		field{"daily_limit", r.DailyLimit, &in.DailyLimit},
		field{"monthly_limit", r.MonthlyLimit, &in.MonthlyLimit},
		field{"low_balance_threshold", r.LowBalanceThreshold, &in.LowBalanceThreshold},
	)
	return in, err
}

type limitsRequest struct {
	CreditLimit         *string `json:"credit_limit" validate:"omitempty,numeric"`
	OverdraftLimit      *string `json:"overdraft_limit" validate:"omitempty,numeric"`
	PaymentTermDays     *int    `json:"payment_term_days" validate:"omitempty,min=1,max=365"`
	InterestRate        *string `json:"interest_rate" validate:"omitempty,numeric"`
	OverdraftFee        *string `json:"overdraft_fee" validate:"omitempty,numeric"`
	DailyLimit          *string `json:"daily_limit" validate:"omitempty,numeric"`
	MonthlyLimit        *string `json:"monthly_limit" validate:"omitempty,numeric"`
	LowBalanceThreshold *string `json:"low_balance_threshold" validate:"omitempty,numeric"`
}

func (r limitsRequest) input() (ledger.LimitsInput, error) {
	in := ledger.LimitsInput{PaymentTermDays: r.PaymentTermDays}
	targets := []struct {
		name string
		raw  *string
		dst  **decimal.Decimal
	}{
		{"credit_limit", r.CreditLimit, &in.CreditLimit},
		{"overdraft_limit", r.OverdraftLimit, &in.OverdraftLimit},
		{"interest_rate", r.InterestRate, &in.InterestRate},
		{"overdraft_fee", r.OverdraftFee, &in.OverdraftFee},
		{"daily_limit", r.DailyLimit, &in.DailyLimit},
		{"monthly_limit", r.MonthlyLimit, &in.MonthlyLimit},
		{"low_balance_threshold", r.LowBalanceThreshold, &in.LowBalanceThreshold},
	}
	for _, t := range targets {
		if t.raw == nil {
			continue
		}
		v, err := parseDecimal(t.name, *t.raw)
		if err != nil {
			return ledger.LimitsInput{}, err
		}
		*t.dst = &v
	}
	return in, nil
}

type statusRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=256"`
}

type adjustRequest struct {
	Direction string `json:"direction" validate:"required,oneof=debit credit"`
	Amount    string `json:"amount" validate:"required,numeric"`
	Reason    string `json:"reason" validate:"required,max=256"`
}

type paymentRequest struct {
	Amount         string `json:"amount" validate:"required,numeric"`
	ExternalRef    string `json:"external_ref" validate:"omitempty,max=128"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type authorizeRequest struct {
	AccountID      string            `json:"account_id" validate:"required,uuid"`
	Amount         string            `json:"amount" validate:"required,numeric"`
	Currency       string            `json:"currency" validate:"required,len=3,alpha"`
	IdempotencyKey string            `json:"idempotency_key" validate:"omitempty,max=128"`
	DueInDays      *int              `json:"due_in_days" validate:"omitempty,min=0,max=365"`
	ExternalRef    string            `json:"external_ref" validate:"omitempty,max=128"`
	Metadata       map[string]string `json:"metadata" validate:"omitempty,max=20,dive,keys,max=64,endkeys,max=512"`
}

type settleRequest struct {
	Amount *string `json:"amount" validate:"omitempty,numeric"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=256"`
}

type refundRequest struct {
	Amount         string `json:"amount" validate:"required,numeric"`
	Reason         string `json:"reason" validate:"omitempty,max=256"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type signalRequest struct {
	ExternalReference string `json:"external_reference" validate:"required,max=128"`
	Amount            string `json:"amount" validate:"required,numeric"`
	Currency          string `json:"currency" validate:"required,len=3,alpha"`
	Status            string `json:"status" validate:"required,oneof=succeeded failed"`
}

type overdueRequest struct {
	DryRun bool `json:"dry_run"`
	Limit  int  `json:"limit" validate:"omitempty,min=1,max=10000"`
}

type field struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

func parseAll(fields ...field) error {
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s %q", ledger.ErrInvalidAmount, name, raw)
	}
	return v, nil
}
