// Package store defines the persistence contracts of the balance ledger.
//
// Every mutation happens inside Store.WithTx. A Tx serialises access per user:
// once GetBalanceForUpdate or CreateDefaultBalance returns, no other Tx can read
// that user's balance for update until this one commits or rolls back.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("store: record not found")

// BalanceStore reads and writes balance rows under a row lock.
type BalanceStore interface {
	GetBalanceForUpdate(ctx context.Context, userID int64) (*models.Balance, error)
	// CreateDefaultBalance inserts a zero balance unless one exists and returns the locked row.
	CreateDefaultBalance(ctx context.Context, userID int64) (*models.Balance, error)
	SaveBalance(ctx context.Context, b *models.Balance) error
}

// LedgerRecorder appends immutable ledger entries. It assigns ID and, when
// zero, Timestamp on the passed entry.
type LedgerRecorder interface {
	AppendTransaction(ctx context.Context, t *models.LoanTransaction) error
}

// RefundOutbox persists refund intents keyed by charge id.
type RefundOutbox interface {
	// CreateRefund reports false when a record for the charge already exists.
	CreateRefund(ctx context.Context, r *models.RefundRecord) (bool, error)
	GetRefundForUpdate(ctx context.Context, chargeID uuid.UUID) (*models.RefundRecord, error)
	MarkRefundApplied(ctx context.Context, chargeID uuid.UUID, at time.Time) error
	MarkRefundFailed(ctx context.Context, chargeID uuid.UUID, reason string) error
}

type Tx interface {
	BalanceStore
	LedgerRecorder
	RefundOutbox
}

// Reader serves lock-free queries outside of transactions.
type Reader interface {
	GetBalance(ctx context.Context, userID int64) (*models.Balance, error)
	FindCustomer(ctx context.Context, lookup models.CustomerLookup) (*models.Customer, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.LoanTransaction, error)
	ListTransactionsByReference(ctx context.Context, reference uuid.UUID) ([]*models.LoanTransaction, error)
	GetTransaction(ctx context.Context, id int64) (*models.LoanTransaction, error)
	SearchBalances(ctx context.Context, filter models.BalanceFilter) ([]*models.CustomerBalanceRow, error)
	ListPendingRefunds(ctx context.Context, limit int) ([]*models.RefundRecord, error)
}

type Store interface {
	Reader
	// WithTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back otherwise, returning fn's error unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
