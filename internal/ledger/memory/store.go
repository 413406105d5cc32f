// Package memory provides an in-process ledger store. Writes are staged per
// transaction and applied at commit under a single mutex, with the same
// conditional-version semantics as the PostgreSQL repository.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/parcelhub/ledger/internal/ledger"
)

type ownerKey struct {
	owner    string
	currency string
	variant  ledger.Variant
}

// Store is a thread-safe in-memory implementation of ledger.RepositoryPort.
type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]ledger.Account
	owners   map[ownerKey]uuid.UUID
	txns     map[uuid.UUID]ledger.Transaction
	idem     map[string]uuid.UUID
	seq      int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]ledger.Account),
		owners:   make(map[ownerKey]uuid.UUID),
		txns:     make(map[uuid.UUID]ledger.Transaction),
		idem:     make(map[string]uuid.UUID),
	}
}

// WithTx runs fn against a staging area and commits it atomically.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	tx := &stagedTx{
		store:    s,
		accounts: make(map[uuid.UUID]accountWrite),
		updates:  make(map[uuid.UUID]ledger.Transaction),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *stagedTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range tx.accounts {
		if w.created {
			key := ownerKey{w.acc.OwnerID, w.acc.Currency, w.acc.Variant}
			if _, taken := s.owners[key]; taken {
				return ledger.ErrAccountExists
			}
			continue
		}
		current, ok := s.accounts[id]
		if !ok {
			return ledger.ErrAccountNotFound
		}
		if current.Version != w.expected {
			return ledger.ErrVersionConflict
		}
	}
	for _, txn := range tx.inserts {
		if txn.IdempotencyKey == "" {
			continue
		}
		if _, taken := s.idem[txn.IdempotencyKey]; taken {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}

	for id, w := range tx.accounts {
		s.accounts[id] = w.acc
		if w.created {
			s.owners[ownerKey{w.acc.OwnerID, w.acc.Currency, w.acc.Variant}] = id
		}
	}
	for _, txn := range tx.inserts {
		stored := cloneTxn(*txn)
		if upd, ok := tx.updates[txn.ID]; ok {
			stored = cloneTxn(upd)
		}
		s.txns[txn.ID] = stored
		if txn.IdempotencyKey != "" {
			s.idem[txn.IdempotencyKey] = txn.ID
		}
	}
	for id, upd := range tx.updates {
		if _, inserted := s.txns[id]; inserted {
			s.txns[id] = cloneTxn(upd)
		}
	}
	return nil
}

func (s *Store) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// GetAccount returns the committed account.
func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return acc, nil
}

// ListAccounts returns committed accounts matching filter in creation order.
func (s *Store) ListAccounts(_ context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	s.mu.RLock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		if filter.OwnerID != "" && acc.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Variant != "" && acc.Variant != filter.Variant {
			continue
		}
		if filter.Status != "" && acc.Status != filter.Status {
			continue
		}
		if filter.Currency != "" && acc.Currency != filter.Currency {
			continue
		}
		out = append(out, acc)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetTransaction returns a committed record.
func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.txns[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return cloneTxn(txn), nil
}

// FindByIdempotencyKey returns the committed record stored under key.
func (s *Store) FindByIdempotencyKey(_ context.Context, key string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idem[key]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return cloneTxn(s.txns[id]), nil
}

// FindAuthorizationByExternalRef returns the latest authorization carrying ref.
func (s *Store) FindAuthorizationByExternalRef(_ context.Context, ref string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found ledger.Transaction
		ok    bool
	)
	for _, txn := range s.txns {
		if txn.Type != ledger.TxAuthorization || txn.ExternalRef != ref {
			continue
		}
		if !ok || txn.Seq > found.Seq {
			found, ok = txn, true
		}
	}
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return cloneTxn(found), nil
}

// ListTransactions returns an account's records newest first.
func (s *Store) ListTransactions(_ context.Context, accountID uuid.UUID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	records := s.committed(accountID, func(t ledger.Transaction) bool {
		return (filter.Type == "" || t.Type == filter.Type) && (filter.Status == "" || t.Status == filter.Status)
	})
	sort.Slice(records, func(i, j int) bool { return records[i].Seq > records[j].Seq })
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ListOpenItems returns open authorizations and unpaid charges in seq order.
func (s *Store) ListOpenItems(_ context.Context, accountID uuid.UUID) ([]ledger.Transaction, error) {
	return s.committed(accountID, isOpenItem), nil
}

// AccountsWithOpenItems lists accounts with open items, ordered by ID.
func (s *Store) AccountsWithOpenItems(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	seen := make(map[uuid.UUID]struct{})
	for _, txn := range s.txns {
		if isOpenItem(txn) {
			seen[txn.AccountID] = struct{}{}
		}
	}
	s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// TransactionCounts aggregates records by type, status and currency.
func (s *Store) TransactionCounts(_ context.Context) ([]ledger.TxCount, error) {
	type key struct {
		typ      ledger.TxType
		status   ledger.TxStatus
		currency string
	}
	s.mu.RLock()
	groups := make(map[key]*ledger.TxCount)
	for _, txn := range s.txns {
		k := key{txn.Type, txn.Status, txn.Currency}
		c, ok := groups[k]
		if !ok {
			c = &ledger.TxCount{Type: txn.Type, Status: txn.Status, Currency: txn.Currency, Amount: decimal.Zero}
			groups[k] = c
		}
		c.Count++
		c.Amount = c.Amount.Add(txn.Amount)
	}
	s.mu.RUnlock()
	out := make([]ledger.TxCount, 0, len(groups))
	for _, c := range groups {
		out = append(out, *c)
	}
	return out, nil
}

func (s *Store) committed(accountID uuid.UUID, keep func(ledger.Transaction) bool) []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Transaction
	for _, txn := range s.txns {
		if txn.AccountID == accountID && keep(txn) {
			out = append(out, cloneTxn(txn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func isOpenItem(t ledger.Transaction) bool {
	switch t.Type {
	case ledger.TxAuthorization:
		return t.Status == ledger.StatusAuthorized
	case ledger.TxCharge:
		return (t.Status == ledger.StatusSettled || t.Status == ledger.StatusOverdue) &&
			t.Amount.GreaterThan(t.PaidAmount.Add(t.RefundedAmount))
	}
	return false
}

func cloneTxn(t ledger.Transaction) ledger.Transaction {
	if t.Metadata != nil {
		meta := make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			meta[k] = v
		}
		t.Metadata = meta
	}
	return t
}

type accountWrite struct {
	acc      ledger.Account
	expected int64
	created  bool
}

// stagedTx buffers writes until commit. Reads see the transaction's own
// writes layered over committed state.
type stagedTx struct {
	store    *Store
	accounts map[uuid.UUID]accountWrite
	inserts  []*ledger.Transaction
	updates  map[uuid.UUID]ledger.Transaction
}

func (t *stagedTx) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	if w, ok := t.accounts[id]; ok {
		return w.acc, nil
	}
	return t.store.GetAccount(ctx, id)
}

func (t *stagedTx) InsertAccount(_ context.Context, acc ledger.Account) error {
	t.store.mu.RLock()
	_, taken := t.store.owners[ownerKey{acc.OwnerID, acc.Currency, acc.Variant}]
	t.store.mu.RUnlock()
	if taken {
		return ledger.ErrAccountExists
	}
	t.accounts[acc.ID] = accountWrite{acc: acc, created: true}
	return nil
}

func (t *stagedTx) UpdateAccount(_ context.Context, acc ledger.Account, expectedVersion int64) error {
	if w, ok := t.accounts[acc.ID]; ok && w.created {
		w.acc = acc
		t.accounts[acc.ID] = w
		return nil
	}
	t.accounts[acc.ID] = accountWrite{acc: acc, expected: expectedVersion}
	return nil
}

func (t *stagedTx) GetTransaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	if upd, ok := t.updates[id]; ok {
		return cloneTxn(upd), nil
	}
	for _, txn := range t.inserts {
		if txn.ID == id {
			return cloneTxn(*txn), nil
		}
	}
	return t.store.GetTransaction(ctx, id)
}

func (t *stagedTx) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Transaction, error) {
	for _, txn := range t.inserts {
		if txn.IdempotencyKey == key {
			return t.GetTransaction(ctx, txn.ID)
		}
	}
	return t.store.FindByIdempotencyKey(ctx, key)
}

func (t *stagedTx) FindChild(ctx context.Context, parentID uuid.UUID, typ ledger.TxType) (ledger.Transaction, error) {
	var (
		found ledger.Transaction
		ok    bool
	)
	for _, txn := range t.view(ctx, func(ledger.Transaction) bool { return true }) {
		if txn.ParentID != nil && *txn.ParentID == parentID && txn.Type == typ {
			if !ok || txn.Seq < found.Seq {
				found, ok = txn, true
			}
		}
	}
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return found, nil
}

func (t *stagedTx) InsertTransaction(ctx context.Context, txn *ledger.Transaction) error {
	if txn.IdempotencyKey != "" {
		if _, err := t.FindByIdempotencyKey(ctx, txn.IdempotencyKey); err == nil {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	txn.Seq = t.store.nextSeq()
	staged := cloneTxn(*txn)
	t.inserts = append(t.inserts, &staged)
	return nil
}

func (t *stagedTx) UpdateTransaction(ctx context.Context, txn ledger.Transaction) error {
	if _, err := t.GetTransaction(ctx, txn.ID); err != nil {
		return err
	}
	t.updates[txn.ID] = cloneTxn(txn)
	return nil
}

func (t *stagedTx) ListOpenItems(ctx context.Context, accountID uuid.UUID) ([]ledger.Transaction, error) {
	return t.view(ctx, func(txn ledger.Transaction) bool {
		return txn.AccountID == accountID && isOpenItem(txn)
	}), nil
}

func (t *stagedTx) Journal(ctx context.Context, accountID uuid.UUID) ([]ledger.Transaction, error) {
	return t.view(ctx, func(txn ledger.Transaction) bool { return txn.AccountID == accountID }), nil
}

func (t *stagedTx) SumAuthorized(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, txn := range t.view(ctx, func(txn ledger.Transaction) bool {
		return txn.AccountID == accountID && txn.Type == ledger.TxAuthorization && !txn.CreatedAt.Before(since)
	}) {
		switch txn.Status {
		case ledger.StatusFailed, ledger.StatusCancelled:
		case ledger.StatusSettled, ledger.StatusRefunded:
			total = total.Add(txn.SettledAmount)
		default:
			total = total.Add(txn.Amount)
		}
	}
	return total, nil
}

// view merges committed records with this transaction's staged inserts and
// updates, filtered by keep and ordered by seq.
func (t *stagedTx) view(_ context.Context, keep func(ledger.Transaction) bool) []ledger.Transaction {
	t.store.mu.RLock()
	merged := make(map[uuid.UUID]ledger.Transaction, len(t.store.txns)+len(t.inserts))
	for id, txn := range t.store.txns {
		merged[id] = txn
	}
	t.store.mu.RUnlock()
	for _, txn := range t.inserts {
		merged[txn.ID] = *txn
	}
	for id, upd := range t.updates {
		merged[id] = upd
	}
	var out []ledger.Transaction
	for _, txn := range merged {
		if keep(txn) {
			out = append(out, cloneTxn(txn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
