package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/civicdrive/backend/internal/middleware"
	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerHandler_BalanceForNewUser(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/ledger/balance", 7, "user", nil)
	require.Equal(t, http.StatusOK, w.Code)

	b := decode[models.Balance](t, w)
	assert.Equal(t, int64(7), b.UserID)
	assert.Equal(t, models.Cents(0), b.TotalBalance)
}

func TestLedgerHandler_DepositWithdrawTransfer(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/ledger/deposit", 1, "user", map[string]any{"amount": "10.00", "description": "cash"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.MustCents("10.00"), decode[services.DepositResult](t, w).Credited)

	w = s.do(t, http.MethodPost, "/ledger/withdraw", 1, "user", map[string]any{"amount": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.MustCents("6.00"), decode[services.OperationResult](t, w).Balance.AvailableBalance)

	w = s.do(t, http.MethodPost, "/ledger/transfer", 1, "user", map[string]any{"to_user_id": 2, "amount": 2.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.MustCents("3.50"), decode[services.TransferResult](t, w).FromBalance.AvailableBalance)

	w = s.do(t, http.MethodGet, "/ledger/balance", 2, "user", nil)
	assert.Equal(t, models.MustCents("2.50"), decode[models.Balance](t, w).AvailableBalance)

	w = s.do(t, http.MethodPost, "/ledger/withdraw", 1, "user", map[string]any{"amount": 50})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/ledger/transfer", 1, "user", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorOf(t, w).Details, "to_user_id")
}

func TestLedgerHandler_LoanLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/ledger/repay", 1, "user", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No outstanding loan to repay", errorOf(t, w).Error)

	w = s.do(t, http.MethodPost, "/ledger/borrow", 1, "user", map[string]any{"amount": 5, "purpose": "parking"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/ledger/limit", 1, "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	limit := decode[services.BorrowLimit](t, w)
	assert.Equal(t, models.MustCents("5.00"), limit.BorrowedAmount)
	assert.Equal(t, models.MustCents("5.00"), limit.UnusedBorrowed)
	assert.Equal(t, models.MustCents("11.00"), limit.RemainingLimit)
	assert.True(t, limit.CanBorrowMore)

	w = s.do(t, http.MethodPost, "/ledger/use", 1, "user", map[string]any{"amount": 6})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Only $5.00 available from borrowed funds", errorOf(t, w).Error)

	w = s.do(t, http.MethodPost, "/ledger/use", 1, "user", map[string]any{"amount": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.MustCents("5.00"), decode[services.OperationResult](t, w).Balance.LoanBalance)

	w = s.do(t, http.MethodPost, "/ledger/borrow", 1, "user", map[string]any{"amount": 25})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot borrow more than $20.00 total", errorOf(t, w).Error)
}

func TestLedgerHandler_CheckAffordability(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/ledger/affordability?amount=12.00", 1, "user", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a := decode[services.Affordability](t, w)
	assert.True(t, a.CanAfford)
	assert.Equal(t, models.MustCents("12.00"), a.WouldBorrow)

	w = s.do(t, http.MethodGet, "/ledger/affordability?amount=30", 1, "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[services.Affordability](t, w).CanAfford)

	for _, q := range []string{"", "abc", "1.234"} {
		w = s.do(t, http.MethodGet, "/ledger/affordability?amount="+q, 1, "user", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "amount=%q", q)
	}
}

func TestLedgerHandler_PreviewDeposit(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/ledger/borrow", 7, "user", map[string]any{"amount": 8}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/ledger/use", 7, "user", map[string]any{"amount": 8}).Code)

	w := s.do(t, http.MethodGet, "/ledger/deposit/preview?amount=12.00", 7, "user", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[services.DepositPreview](t, w)
	assert.Equal(t, models.MustCents("10.00"), p.LoanPaid)
	assert.Equal(t, models.MustCents("2.00"), p.InterestPaid)
	assert.Equal(t, models.MustCents("2.00"), p.Credited)
	assert.Equal(t, models.Cents(0), p.NewLoan)

	// nothing was deposited
	w = s.do(t, http.MethodGet, "/ledger/balance", 7, "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.MustCents("10.00"), decode[models.Balance](t, w).LoanBalance)

	for _, q := range []string{"", "abc", "0"} {
		w = s.do(t, http.MethodGet, "/ledger/deposit/preview?amount="+q, 7, "user", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "amount=%q", q)
	}
}

func TestLedgerHandler_Transactions(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/ledger/deposit", 1, "user", map[string]any{"amount": 3}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/ledger/deposit", 2, "user", map[string]any{"amount": 3}).Code)

	w := s.do(t, http.MethodGet, "/ledger/transactions?limit=10", 1, "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decode[[]models.LoanTransaction](t, w)
	require.NotEmpty(t, txs)
	for _, tx := range txs {
		assert.Equal(t, int64(1), tx.UserID)
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/ledger/transactions/%d", txs[0].ID), 1, "user", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// another user's entry is reported as missing
	w = s.do(t, http.MethodGet, fmt.Sprintf("/ledger/transactions/%d", txs[0].ID), 2, "user", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/ledger/transactions?limit=-1", 1, "user", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/ledger/transactions/abc", 1, "user", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerHandler_AdminDeposit(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"user_id": 3, "amount": 20}

	w := s.do(t, http.MethodPost, "/admin/deposit", 3, "user", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/admin/deposit", 50, middleware.RoleRegistry, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(3), decode[services.DepositResult](t, w).Balance.UserID)
}

func TestLedgerHandler_VerifyReceiptWithoutRedis(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/receipts/abc", 50, middleware.RolePolice, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", errorOf(t, w).Error)
}
