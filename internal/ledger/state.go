package ledger

import "fmt"

var txTransitions = map[TxStatus][]TxStatus{
	StatusPending:    {StatusAuthorized, StatusSettled, StatusFailed},
	StatusAuthorized: {StatusSettled, StatusCancelled, StatusFailed},
	StatusSettled:    {StatusRefunded, StatusOverdue},
	StatusOverdue:    {StatusSettled},
}

var accountTransitions = map[Variant]map[AccountStatus][]AccountStatus{
	VariantCredit: {
		AccountPendingApproval: {AccountActive},
		AccountActive:          {AccountSuspended, AccountClosed},
		AccountSuspended:       {AccountActive},
	},
	VariantWallet: {
		AccountActive:    {AccountFrozen, AccountSuspended, AccountClosed},
		AccountFrozen:    {AccountActive},
		AccountSuspended: {AccountActive},
	},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to TxStatus) bool {
	for _, next := range txTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionAccount reports whether an account of variant may move between statuses.
func CanTransitionAccount(variant Variant, from, to AccountStatus) bool {
	for _, next := range accountTransitions[variant][from] {
		if next == to {
			return true
		}
	}
	return false
}

func transition(txn *Transaction, to TxStatus) error {
	if !CanTransition(txn.Status, to) {
		return fmt.Errorf("%w: transaction %s %s -> %s", ErrInvalidTransition, txn.ID, txn.Status, to)
	}
	txn.Status = to
	return nil
}

func transitionAccount(acc *Account, to AccountStatus) error {
	if !CanTransitionAccount(acc.Variant, acc.Status, to) {
		return fmt.Errorf("%w: account %s %s -> %s", ErrInvalidTransition, acc.ID, acc.Status, to)
	}
	acc.Status = to
	return nil
}

// initialStatus is where a new account of the variant starts.
func initialStatus(v Variant) AccountStatus {
	if v == VariantCredit {
		return AccountPendingApproval
	}
	return AccountActive
}
