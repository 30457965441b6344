// Package memory is an in-process store used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store"
	"github.com/google/uuid"
)

// Op names a store operation that can be made to fail.
type Op string

const (
	OpGetBalance        Op = "get_balance"
	OpCreateBalance     Op = "create_balance"
	OpSaveBalance       Op = "save_balance"
	OpAppendTransaction Op = "append_transaction"
	OpCreateRefund      Op = "create_refund"
	OpMarkRefundApplied Op = "mark_refund_applied"
	OpCommit            Op = "commit"
)

type Store struct {
	mu           sync.RWMutex
	balances     map[int64]*models.Balance
	transactions []*models.LoanTransaction
	refunds      map[uuid.UUID]*models.RefundRecord
	customers    map[int64]*models.Customer
	nextBalance  int64
	nextTx       int64
	failures     map[Op]error

	locksMu     sync.Mutex
	userLocks   map[int64]*sync.Mutex
	refundLocks map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		balances:    make(map[int64]*models.Balance),
		refunds:     make(map[uuid.UUID]*models.RefundRecord),
		customers:   make(map[int64]*models.Customer),
		failures:    make(map[Op]error),
		userLocks:   make(map[int64]*sync.Mutex),
		refundLocks: make(map[uuid.UUID]*sync.Mutex),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddCustomer registers a user so lookups by username or email resolve.
func (s *Store) AddCustomer(c models.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.customers[c.ID] = &cp
}

// FailOn makes every subsequent call of op return err until ClearFailures.
func (s *Store) FailOn(op Op, err error) {
	s.mu.Lock()
	s.failures[op] = err
	s.mu.Unlock()
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	s.failures = make(map[Op]error)
	s.mu.Unlock()
}

func (s *Store) fail(op Op) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures[op]
}

func (s *Store) userLock(userID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

func (s *Store) refundLock(id uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.refundLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.refundLocks[id] = l
	}
	return l
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		s:           s,
		balances:    make(map[int64]*models.Balance),
		refunds:     make(map[uuid.UUID]*models.RefundRecord),
		heldUsers:   make(map[int64]*sync.Mutex),
		heldRefunds: make(map[uuid.UUID]*sync.Mutex),
	}
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) GetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	if err := s.fail(OpGetBalance); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *Store) FindCustomer(ctx context.Context, lookup models.CustomerLookup) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lookup.UserID != 0 {
		if c, ok := s.customers[lookup.UserID]; ok {
			cp := *c
			return &cp, nil
		}
		return nil, store.ErrNotFound
	}
	for _, c := range s.customers {
		if (lookup.Username != "" && c.Username == lookup.Username) ||
			(lookup.Email != "" && strings.EqualFold(c.Email, lookup.Email)) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.LoanTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LoanTransaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransactionsByReference(ctx context.Context, reference uuid.UUID) ([]*models.LoanTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LoanTransaction
	for _, t := range s.transactions {
		if t.Reference.Valid && t.Reference.UUID == reference {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*models.LoanTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.ID == id {
			return t.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SearchBalances(ctx context.Context, filter models.BalanceFilter) ([]*models.CustomerBalanceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.balances))
	for id := range s.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*models.CustomerBalanceRow
	skipped := 0
	for _, id := range ids {
		b := s.balances[id]
		if filter.MinBalance != nil && b.TotalBalance < *filter.MinBalance {
			continue
		}
		if filter.MaxBalance != nil && b.TotalBalance > *filter.MaxBalance {
			continue
		}
		if filter.HasLoan != nil && b.HasLoan() != *filter.HasLoan {
			continue
		}
		if skipped < filter.Skip {
			skipped++
			continue
		}
		row := &models.CustomerBalanceRow{Customer: models.Customer{ID: id}, Balance: *b}
		if c, ok := s.customers[id]; ok {
			row.Customer = *c
		}
		out = append(out, row)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListPendingRefunds(ctx context.Context, limit int) ([]*models.RefundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RefundRecord
	for _, r := range s.refunds {
		if r.Status == models.RefundPending {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tx stages writes and publishes them on commit.
type tx struct {
	s            *Store
	balances     map[int64]*models.Balance
	transactions []*models.LoanTransaction
	refunds      map[uuid.UUID]*models.RefundRecord
	heldUsers    map[int64]*sync.Mutex
	heldRefunds  map[uuid.UUID]*sync.Mutex
}

func (t *tx) lockUser(userID int64) {
	if _, ok := t.heldUsers[userID]; ok {
		return
	}
	l := t.s.userLock(userID)
	l.Lock()
	t.heldUsers[userID] = l
}

func (t *tx) lockRefund(id uuid.UUID) {
	if _, ok := t.heldRefunds[id]; ok {
		return
	}
	l := t.s.refundLock(id)
	l.Lock()
	t.heldRefunds[id] = l
}

func (t *tx) release() {
	for _, l := range t.heldUsers {
		l.Unlock()
	}
	for _, l := range t.heldRefunds {
		l.Unlock()
	}
	t.heldUsers = nil
	t.heldRefunds = nil
}

func (t *tx) lookupBalance(userID int64) (*models.Balance, bool) {
	if b, ok := t.balances[userID]; ok {
		return b.Clone(), true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.balances[userID]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

func (t *tx) GetBalanceForUpdate(ctx context.Context, userID int64) (*models.Balance, error) {
	if err := t.s.fail(OpGetBalance); err != nil {
		return nil, err
	}
	t.lockUser(userID)
	b, ok := t.lookupBalance(userID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (t *tx) CreateDefaultBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	if err := t.s.fail(OpCreateBalance); err != nil {
		return nil, err
	}
	t.lockUser(userID)
	if b, ok := t.lookupBalance(userID); ok {
		return b, nil
	}

	t.s.mu.Lock()
	t.s.nextBalance++
	b := models.NewBalance(userID, t.s.now())
	b.ID = t.s.nextBalance
	t.s.mu.Unlock()

	t.balances[userID] = b
	return b.Clone(), nil
}

func (t *tx) SaveBalance(ctx context.Context, b *models.Balance) error {
	if err := t.s.fail(OpSaveBalance); err != nil {
		return err
	}
	if _, ok := t.heldUsers[b.UserID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.lookupBalance(b.UserID); !ok {
		return store.ErrNotFound
	}
	t.balances[b.UserID] = b.Clone()
	return nil
}

func (t *tx) AppendTransaction(ctx context.Context, lt *models.LoanTransaction) error {
	if err := t.s.fail(OpAppendTransaction); err != nil {
		return err
	}
	t.s.mu.Lock()
	t.s.nextTx++
	lt.ID = t.s.nextTx
	if lt.Timestamp.IsZero() {
		lt.Timestamp = t.s.now()
	}
	t.s.mu.Unlock()

	t.transactions = append(t.transactions, lt.Clone())
	return nil
}

func (t *tx) lookupRefund(id uuid.UUID) (*models.RefundRecord, bool) {
	if r, ok := t.refunds[id]; ok {
		return r.Clone(), true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.refunds[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (t *tx) CreateRefund(ctx context.Context, r *models.RefundRecord) (bool, error) {
	if err := t.s.fail(OpCreateRefund); err != nil {
		return false, err
	}
	t.lockRefund(r.ChargeID)
	if _, ok := t.lookupRefund(r.ChargeID); ok {
		return false, nil
	}
	cp := r.Clone()
	if cp.Status == "" {
		cp.Status = models.RefundPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = t.s.now()
	}
	t.refunds[r.ChargeID] = cp
	return true, nil
}

func (t *tx) GetRefundForUpdate(ctx context.Context, chargeID uuid.UUID) (*models.RefundRecord, error) {
	t.lockRefund(chargeID)
	r, ok := t.lookupRefund(chargeID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (t *tx) MarkRefundApplied(ctx context.Context, chargeID uuid.UUID, at time.Time) error {
	if err := t.s.fail(OpMarkRefundApplied); err != nil {
		return err
	}
	t.lockRefund(chargeID)
	r, ok := t.lookupRefund(chargeID)
	if !ok {
		return store.ErrNotFound
	}
	r.Status = models.RefundApplied
	r.AppliedAt = &at
	r.LastError = ""
	t.refunds[chargeID] = r
	return nil
}

func (t *tx) MarkRefundFailed(ctx context.Context, chargeID uuid.UUID, reason string) error {
	t.lockRefund(chargeID)
	r, ok := t.lookupRefund(chargeID)
	if !ok {
		return store.ErrNotFound
	}
	r.Attempts++
	r.LastError = reason
	t.refunds[chargeID] = r
	return nil
}

func (t *tx) commit() error {
	if err := t.s.fail(OpCommit); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id, b := range t.balances {
		t.s.balances[id] = b
	}
	t.s.transactions = append(t.s.transactions, t.transactions...)
	for id, r := range t.refunds {
		t.s.refunds[id] = r
	}
	return nil
}
