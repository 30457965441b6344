package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/civicdrive/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptService(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	_, err := svc.Charge(ctx, 1, models.PaymentParking, 300, "Lot A")
	require.NoError(t, err)

	txs, err := st.ListTransactions(ctx, 1, 10)
	require.NoError(t, err)
	txID := txs[0].ID

	customers := NewCustomerService(st, svc.Policy())

	t.Run("generate stores the payload", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		receipts := NewReceiptService(customers, db)

		mock.Regexp().ExpectSet(`receipt:.+`, `.*`, receiptTTL).SetVal("OK")

		r, err := receipts.Generate(ctx, 1, txID)
		require.NoError(t, err)
		assert.NotEmpty(t, r.Code)
		assert.NotEmpty(t, r.Image)
		assert.Equal(t, txID, r.Payload.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("generate fails without entropy", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		receipts := NewReceiptService(customers, db)
		receipts.random = iotest.ErrReader(errors.New("entropy source closed"))

		r, err := receipts.Generate(ctx, 1, txID)
		assert.Nil(t, r)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("generate refuses other users' transactions", func(t *testing.T) {
		receipts := NewReceiptService(customers, nil)
		_, err := receipts.Generate(ctx, 2, txID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("verify", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		receipts := NewReceiptService(customers, db)

		payload := ReceiptPayload{TransactionID: txID, UserID: 1, Amount: 300, Type: models.TxParkingPayment}
		data, _ := json.Marshal(payload)
		mock.ExpectGet("receipt:abc").SetVal(string(data))
		mock.ExpectGet("receipt:gone").RedisNil()

		got, err := receipts.Verify(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, models.Cents(300), got.Amount)

		_, err = receipts.Verify(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("verify without redis", func(t *testing.T) {
		receipts := NewReceiptService(customers, nil)
		_, err := receipts.Verify(ctx, "abc")
		assert.ErrorIs(t, err, ErrPersistence)
	})
}
