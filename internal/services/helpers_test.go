package services

import (
	"context"
	"testing"
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store/memory"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*PaymentService, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.SetClock(func() time.Time { return testNow })
	svc := NewPaymentService(st, newTestPolicy(), WithClock(func() time.Time { return testNow }))
	return svc, st
}

func fund(t *testing.T, svc *PaymentService, userID int64, amount models.Cents) {
	t.Helper()
	_, err := svc.LoadCash(context.Background(), userID, amount, "seed")
	require.NoError(t, err)
}

func balanceOf(t *testing.T, st *memory.Store, userID int64) models.Balance {
	t.Helper()
	b, err := st.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return *b
}

func ledgerOf(t *testing.T, st *memory.Store, userID int64) []*models.LoanTransaction {
	t.Helper()
	txs, err := st.ListTransactions(context.Background(), userID, 1000)
	require.NoError(t, err)
	// oldest first reads more naturally in assertions
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs
}

func typesOf(txs []*models.LoanTransaction) []models.TransactionType {
	out := make([]models.TransactionType, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.TransactionType)
	}
	return out
}

// requireConsistent checks the balance invariants that must hold after every operation.
func requireConsistent(t *testing.T, p *LoanPolicy, b models.Balance) {
	t.Helper()
	require.Equal(t, b.AvailableBalance-b.LoanBalance, b.TotalBalance, "total")
	require.GreaterOrEqual(t, b.AvailableBalance, models.Cents(0), "available")
	require.GreaterOrEqual(t, b.LoanBalance, models.Cents(0), "loan")
	require.LessOrEqual(t, b.LoanBalance, p.MaxLoan(), "loan cap")
	require.LessOrEqual(t, b.UsedBorrowedAmount, b.BorrowedAmount, "used within borrowed")
	require.GreaterOrEqual(t, b.UsedBorrowedAmount, models.Cents(0), "used")
	require.Equal(t, p.Debt(b.UsedBorrowedAmount), b.LoanBalance, "debt on used principal")
}
