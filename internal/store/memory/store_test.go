package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit publishes staged writes", func(t *testing.T) {
		s := New()
		err := s.WithTx(ctx, func(tx store.Tx) error {
			b, err := tx.CreateDefaultBalance(ctx, 1)
			require.NoError(t, err)
			b.AvailableBalance = 500
			b.Recompute(time.Now())
			require.NoError(t, tx.SaveBalance(ctx, b))
			return tx.AppendTransaction(ctx, &models.LoanTransaction{UserID: 1, Amount: 500, TransactionType: models.TxDeposit})
		})
		require.NoError(t, err)

		b, err := s.GetBalance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, models.Cents(500), b.AvailableBalance)

		txs, err := s.ListTransactions(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, int64(1), txs[0].ID)
	})

	t.Run("error rolls back", func(t *testing.T) {
		s := New()
		boom := errors.New("boom")
		err := s.WithTx(ctx, func(tx store.Tx) error {
			b, _ := tx.CreateDefaultBalance(ctx, 1)
			b.AvailableBalance = 500
			_ = tx.SaveBalance(ctx, b)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.GetBalance(ctx, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("commit failure discards writes", func(t *testing.T) {
		s := New()
		s.FailOn(OpCommit, errors.New("disk full"))
		err := s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.CreateDefaultBalance(ctx, 1)
			return err
		})
		assert.Error(t, err)
		_, err = s.GetBalance(ctx, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)

		s.ClearFailures()
		assert.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.CreateDefaultBalance(ctx, 1)
			return err
		}))
	})

	t.Run("create default is idempotent", func(t *testing.T) {
		s := New()
		for i := 0; i < 2; i++ {
			require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
				b, err := tx.CreateDefaultBalance(ctx, 3)
				if err != nil {
					return err
				}
				b.AvailableBalance += 100
				return tx.SaveBalance(ctx, b)
			}))
		}
		b, err := s.GetBalance(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, models.Cents(200), b.AvailableBalance)
	})

	t.Run("save without lock fails", func(t *testing.T) {
		s := New()
		err := s.WithTx(ctx, func(tx store.Tx) error {
			return tx.SaveBalance(ctx, &models.Balance{UserID: 9})
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestStore_UserLockSerialises(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithTx(ctx, func(tx store.Tx) error {
				b, err := tx.CreateDefaultBalance(ctx, 1)
				if err != nil {
					return err
				}
				b.AvailableBalance++
				return tx.SaveBalance(ctx, b)
			})
		}()
	}
	wg.Wait()

	b, err := s.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(50), b.AvailableBalance)
}

func TestStore_Refunds(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()

	var created bool
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.CreateRefund(ctx, &models.RefundRecord{ChargeID: id, UserID: 1})
		return err
	}))
	assert.True(t, created)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.CreateRefund(ctx, &models.RefundRecord{ChargeID: id, UserID: 1})
		return err
	}))
	assert.False(t, created)

	pending, err := s.ListPendingRefunds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.MarkRefundFailed(ctx, id, "timeout")
	}))
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.MarkRefundApplied(ctx, id, time.Now())
	}))

	pending, err = s.ListPendingRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetRefundForUpdate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.RefundApplied, r.Status)
		assert.Equal(t, 1, r.Attempts)
		assert.Empty(t, r.LastError)
		return nil
	}))
}

func TestStore_Queries(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddCustomer(models.Customer{ID: 1, Username: "ana", Email: "ana@city.gov"})
	s.AddCustomer(models.Customer{ID: 2, Username: "bo", Email: "bo@city.gov"})

	for id, avail := range map[int64]models.Cents{1: 1000, 2: -300} {
		id, avail := id, avail
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			b, _ := tx.CreateDefaultBalance(ctx, id)
			if avail < 0 {
				b.LoanBalance = -avail
			} else {
				b.AvailableBalance = avail
			}
			b.Recompute(time.Now())
			return tx.SaveBalance(ctx, b)
		}))
	}

	c, err := s.FindCustomer(ctx, models.CustomerLookup{Email: "BO@city.gov"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.ID)

	_, err = s.FindCustomer(ctx, models.CustomerLookup{Username: "nobody"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	hasLoan := true
	rows, err := s.SearchBalances(ctx, models.BalanceFilter{HasLoan: &hasLoan})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bo", rows[0].Customer.Username)

	min := models.Cents(0)
	rows, err = s.SearchBalances(ctx, models.BalanceFilter{MinBalance: &min})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Balance.UserID)

	rows, err = s.SearchBalances(ctx, models.BalanceFilter{Skip: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].Balance.UserID)
}
