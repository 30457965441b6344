package services

import (
	"context"
	"errors"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// CustomerService answers read-only balance questions for customers and staff.
type CustomerService struct {
	store  store.Reader
	policy *LoanPolicy
}

func NewCustomerService(st store.Reader, policy *LoanPolicy) *CustomerService {
	return &CustomerService{store: st, policy: policy}
}

func normaliseLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (s *CustomerService) summarise(c models.Customer, b models.Balance) *models.CustomerBalance {
	remaining := s.policy.RemainingLimit(&b)
	return &models.CustomerBalance{
		UserID:               c.ID,
		Username:             c.Username,
		FullName:             c.FullName,
		Email:                c.Email,
		AvailableBalance:     b.AvailableBalance,
		LoanBalance:          b.LoanBalance,
		TotalBalance:         b.TotalBalance,
		BorrowedAmount:       b.BorrowedAmount,
		UsedBorrowedAmount:   b.UsedBorrowedAmount,
		LastUpdated:          b.LastUpdated,
		CanBorrowMore:        remaining > 0,
		RemainingBorrowLimit: remaining,
	}
}

// Balance returns a user's balance. Users who never transacted get an
// unsaved zero balance.
func (s *CustomerService) Balance(ctx context.Context, userID int64) (*models.Balance, error) {
	b, err := s.store.GetBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.Balance{UserID: userID}, nil
	}
	if err != nil {
		return nil, persistenceError("load balance", err)
	}
	return b, nil
}

func (s *CustomerService) findCustomer(ctx context.Context, lookup models.CustomerLookup) (*models.Customer, error) {
	if lookup.Empty() {
		return nil, validationError("Provide a user id, username or email")
	}
	c, err := s.store.FindCustomer(ctx, lookup)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Customer not found")
	}
	if err != nil {
		return nil, persistenceError("find customer", err)
	}
	return c, nil
}

// CustomerBalance looks a customer up by id, username or email.
func (s *CustomerService) CustomerBalance(ctx context.Context, lookup models.CustomerLookup) (*models.CustomerBalance, error) {
	c, err := s.findCustomer(ctx, lookup)
	if err != nil {
		return nil, err
	}
	b, err := s.Balance(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return s.summarise(*c, *b), nil
}

// CustomerTransactions returns a customer's ledger, newest first.
func (s *CustomerService) CustomerTransactions(ctx context.Context, lookup models.CustomerLookup, limit int) (*models.Customer, []*models.LoanTransaction, error) {
	c, err := s.findCustomer(ctx, lookup)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.Transactions(ctx, c.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return c, txs, nil
}

func (s *CustomerService) Transactions(ctx context.Context, userID int64, limit int) ([]*models.LoanTransaction, error) {
	txs, err := s.store.ListTransactions(ctx, userID, normaliseLimit(limit))
	if err != nil {
		return nil, persistenceError("list transactions", err)
	}
	if txs == nil {
		txs = []*models.LoanTransaction{}
	}
	return txs, nil
}

// Transaction returns one of the user's own ledger entries.
func (s *CustomerService) Transaction(ctx context.Context, userID, id int64) (*models.LoanTransaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && t.UserID != userID) {
		return nil, notFound("Transaction not found")
	}
	if err != nil {
		return nil, persistenceError("load transaction", err)
	}
	return t, nil
}

func (s *CustomerService) ListBalances(ctx context.Context, skip, limit int) ([]*models.CustomerBalance, error) {
	return s.SearchBalances(ctx, models.BalanceFilter{Skip: skip, Limit: limit})
}

// SearchBalances filters on total balance and loan presence.
func (s *CustomerService) SearchBalances(ctx context.Context, filter models.BalanceFilter) ([]*models.CustomerBalance, error) {
	if filter.Skip < 0 {
		return nil, validationError("skip must not be negative")
	}
	if filter.MinBalance != nil && filter.MaxBalance != nil && *filter.MinBalance > *filter.MaxBalance {
		return nil, validationError("min_balance must not exceed max_balance")
	}
	filter.Limit = normaliseLimit(filter.Limit)

	rows, err := s.store.SearchBalances(ctx, filter)
	if err != nil {
		return nil, persistenceError("search balances", err)
	}
	out := make([]*models.CustomerBalance, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.summarise(r.Customer, r.Balance))
	}
	return out, nil
}
