package services

import (
	"context"
	"testing"

	"github.com/civicdrive/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerService(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	st.AddCustomer(models.Customer{ID: 1, Username: "ana", Email: "ana@city.gov", FullName: "Ana Diaz"})
	st.AddCustomer(models.Customer{ID: 2, Username: "bo", Email: "bo@city.gov", FullName: "Bo Lee"})
	st.AddCustomer(models.Customer{ID: 3, Username: "cy", Email: "cy@city.gov", FullName: "Cy Park"})

	fund(t, svc, 1, 1200)
	_, err := svc.Charge(ctx, 2, models.PaymentToll, 1500, "Bridge")
	require.NoError(t, err)

	customers := NewCustomerService(st, svc.Policy())

	t.Run("balance of a user without history", func(t *testing.T) {
		b, err := customers.Balance(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, models.Cents(0), b.TotalBalance)
	})

	t.Run("lookup by username", func(t *testing.T) {
		cb, err := customers.CustomerBalance(ctx, models.CustomerLookup{Username: "bo"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), cb.UserID)
		assert.Equal(t, models.Cents(-1875), cb.TotalBalance)
		assert.True(t, cb.CanBorrowMore)
		assert.Equal(t, models.Cents(100), cb.RemainingBorrowLimit)
	})

	t.Run("lookup by email", func(t *testing.T) {
		cb, err := customers.CustomerBalance(ctx, models.CustomerLookup{Email: "ana@city.gov"})
		require.NoError(t, err)
		assert.Equal(t, models.Cents(1200), cb.AvailableBalance)
		assert.Equal(t, models.Cents(1600), cb.RemainingBorrowLimit)
	})

	t.Run("unknown and empty lookups", func(t *testing.T) {
		_, err := customers.CustomerBalance(ctx, models.CustomerLookup{UserID: 42})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = customers.CustomerBalance(ctx, models.CustomerLookup{})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("transactions newest first", func(t *testing.T) {
		c, txs, err := customers.CustomerTransactions(ctx, models.CustomerLookup{UserID: 2}, 1)
		require.NoError(t, err)
		assert.Equal(t, "bo", c.Username)
		require.Len(t, txs, 1)
		assert.Equal(t, models.TxInterest, txs[0].TransactionType)
	})

	t.Run("transaction ownership", func(t *testing.T) {
		txs, err := customers.Transactions(ctx, 2, 10)
		require.NoError(t, err)
		_, err = customers.Transaction(ctx, 1, txs[0].ID)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := customers.Transaction(ctx, 2, txs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, txs[0].ID, got.ID)
	})

	t.Run("search", func(t *testing.T) {
		hasLoan := true
		res, err := customers.SearchBalances(ctx, models.BalanceFilter{HasLoan: &hasLoan})
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "bo", res[0].Username)

		min, max := models.Cents(500), models.Cents(100)
		_, err = customers.SearchBalances(ctx, models.BalanceFilter{MinBalance: &min, MaxBalance: &max})
		assert.ErrorIs(t, err, ErrValidation)

		all, err := customers.ListBalances(ctx, 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
