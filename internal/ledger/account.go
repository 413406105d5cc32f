package ledger

import (
	"github.com/shopspring/decimal"
)

// AvailableCredit is the remaining credit line including overdraft.
func (a Account) AvailableCredit() decimal.Decimal {
	return a.CreditLimit.Add(a.OverdraftLimit).Sub(a.UsedCredit)
}

// AvailableBalance is the wallet balance not held by open authorizations.
func (a Account) AvailableBalance() decimal.Decimal {
	return a.Balance.Sub(a.ReservedBalance)
}

// OutstandingDebt is principal plus accrued interest and fees.
func (a Account) OutstandingDebt() decimal.Decimal {
	return a.UsedCredit.Add(a.AccruedCharges)
}

// Position is the figure the journal tracks in balanceBefore/balanceAfter.
func (a Account) Position() decimal.Decimal {
	if a.Variant == VariantCredit {
		return a.OutstandingDebt()
	}
	return a.AvailableBalance()
}

// Effect is the signed change a record makes to its account's position.
func Effect(variant Variant, dir Direction, amount decimal.Decimal) decimal.Decimal {
	switch dir {
	case DirectionDebit:
		if variant == VariantCredit {
			return amount
		}
		return amount.Neg()
	case DirectionCredit:
		if variant == VariantCredit {
			return amount.Neg()
		}
		return amount
	}
	return decimal.Zero
}

// AccountView is an account with its derived figures, as returned to callers.
type AccountView struct {
	Account
	AvailableCredit  *decimal.Decimal `json:"available_credit,omitempty"`
	AvailableBalance *decimal.Decimal `json:"available_balance,omitempty"`
	OutstandingDebt  *decimal.Decimal `json:"outstanding_debt,omitempty"`
}

// View attaches derived figures relevant to the variant.
func (a Account) View() AccountView {
	view := AccountView{Account: a}
	if a.Variant == VariantCredit {
		avail := a.AvailableCredit()
		debt := a.OutstandingDebt()
		view.AvailableCredit = &avail
		view.OutstandingDebt = &debt
		return view
	}
	avail := a.AvailableBalance()
	view.AvailableBalance = &avail
	return view
}

func (a Account) hasValue() bool {
	if a.Variant == VariantCredit {
		return !a.UsedCredit.IsZero() || !a.AccruedCharges.IsZero()
	}
	return !a.Balance.IsZero() || !a.ReservedBalance.IsZero()
}
