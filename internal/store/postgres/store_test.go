package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var balanceCols = []string{"id", "user_id", "available_balance", "loan_balance", "total_balance", "borrowed_amount", "used_borrowed_amount", "last_updated"}

func TestStore_WithTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("lazy create then save", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO user_balances \\(user_id, last_updated\\) VALUES \\(\\$1, \\$2\\) ON CONFLICT \\(user_id\\) DO NOTHING").
			WithArgs(int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("FROM user_balances WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(1, 7, 0, 0, 0, 0, 0, now))
		mock.ExpectExec("UPDATE user_balances SET available_balance = \\$1").
			WithArgs(int64(500), int64(0), int64(500), int64(0), int64(0), sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO loan_transactions").
			WithArgs(int64(7), int64(500), "deposit", "Cash load", sqlmock.AnyArg(), false, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		mock.ExpectCommit()

		var entry models.LoanTransaction
		err := s.WithTx(ctx, func(tx store.Tx) error {
			b, err := tx.CreateDefaultBalance(ctx, 7)
			if err != nil {
				return err
			}
			b.AvailableBalance = 500
			b.Recompute(now)
			if err := tx.SaveBalance(ctx, b); err != nil {
				return err
			}
			entry = models.LoanTransaction{UserID: 7, Amount: 500, TransactionType: models.TxDeposit, Description: "Cash load"}
			return tx.AppendTransaction(ctx, &entry)
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(11), entry.ID)
		assert.False(t, entry.Timestamp.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM user_balances WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows(balanceCols))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.GetBalanceForUpdate(ctx, 8)
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("save of missing row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE user_balances").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(tx store.Tx) error {
			return tx.SaveBalance(ctx, &models.Balance{UserID: 99})
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		err := s.WithTx(ctx, func(tx store.Tx) error { return nil })
		assert.ErrorContains(t, err, "begin transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Refunds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	chargeID := uuid.New()
	receipt := models.ChargeReceipt{ChargeID: chargeID, UserID: 3, Kind: models.PaymentToll, Amount: 500, FromBalance: 500}

	t.Run("duplicate intent is not created twice", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payment_refunds").
			WithArgs(chargeID.String(), int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		var created bool
		err := s.WithTx(ctx, func(tx store.Tx) error {
			var err error
			created, err = tx.CreateRefund(ctx, &models.RefundRecord{ChargeID: chargeID, UserID: 3, Receipt: receipt})
			return err
		})
		assert.NoError(t, err)
		assert.False(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending refunds decode receipts", func(t *testing.T) {
		raw, _ := json.Marshal(receipt)
		mock.ExpectQuery("FROM payment_refunds WHERE status = 'pending'").
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"charge_id", "user_id", "receipt", "status", "attempts", "last_error", "created_at", "applied_at"}).
				AddRow(chargeID.String(), 3, raw, "pending", 2, "timeout", time.Now(), nil))

		refunds, err := s.ListPendingRefunds(ctx, 10)
		require.NoError(t, err)
		require.Len(t, refunds, 1)
		assert.Equal(t, chargeID, refunds[0].ChargeID)
		assert.Equal(t, models.Cents(500), refunds[0].Receipt.Amount)
		assert.Equal(t, "timeout", refunds[0].LastError)
		assert.Nil(t, refunds[0].AppliedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_SearchBalances(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	min := models.Cents(-500)
	hasLoan := true

	mock.ExpectQuery("FROM user_balances b LEFT JOIN users u ON u.id = b.user_id WHERE b.total_balance >= \\$1 AND b.loan_balance > 0 ORDER BY b.user_id OFFSET \\$2 LIMIT \\$3").
		WithArgs(int64(-500), 0, 20).
		WillReturnRows(sqlmock.NewRows(append(balanceCols, "username", "email", "full_name")).
			AddRow(1, 4, 0, 375, -375, 500, 300, time.Now(), "ana", "ana@city.gov", "Ana Diaz"))

	rows, err := s.SearchBalances(context.Background(), models.BalanceFilter{MinBalance: &min, HasLoan: &hasLoan, Limit: 20})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].Customer.ID)
	assert.Equal(t, models.Cents(-375), rows[0].Balance.TotalBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindCustomer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)

	mock.ExpectQuery("FROM users WHERE LOWER\\(email\\) = LOWER\\(\\$1\\)").
		WithArgs("ana@city.gov").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "full_name"}).AddRow(4, "ana", "ana@city.gov", "Ana Diaz"))

	c, err := s.FindCustomer(context.Background(), models.CustomerLookup{Email: "ana@city.gov"})
	require.NoError(t, err)
	assert.Equal(t, "ana", c.Username)

	_, err = s.FindCustomer(context.Background(), models.CustomerLookup{})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range migrations {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	assert.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
