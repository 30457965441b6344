// Package postgres implements the ledger store on PostgreSQL using row locks.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store"
	"github.com/google/uuid"
)

const balanceColumns = `id, user_id, available_balance, loan_balance, total_balance, borrowed_amount, used_borrowed_amount, last_updated`

const transactionColumns = `id, user_id, amount, transaction_type, description, timestamp, interest_applied, reference`

const refundColumns = `charge_id, user_id, receipt, status, attempts, last_error, created_at, applied_at`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{tx: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.ID, &b.UserID, &b.AvailableBalance, &b.LoanBalance, &b.TotalBalance,
		&b.BorrowedAmount, &b.UsedBorrowedAmount, &b.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanTransaction(row rowScanner) (*models.LoanTransaction, error) {
	var t models.LoanTransaction
	var txType string
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &txType, &t.Description, &t.Timestamp, &t.InterestApplied, &t.Reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.TransactionType = models.TransactionType(txType)
	return &t, nil
}

func scanRefund(row rowScanner) (*models.RefundRecord, error) {
	var (
		r         models.RefundRecord
		receipt   []byte
		status    string
		lastError sql.NullString
		appliedAt sql.NullTime
	)
	err := row.Scan(&r.ChargeID, &r.UserID, &receipt, &status, &r.Attempts, &lastError, &r.CreatedAt, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(receipt, &r.Receipt); err != nil {
		return nil, fmt.Errorf("decode refund receipt: %w", err)
	}
	r.Status = models.RefundStatus(status)
	r.LastError = lastError.String
	if appliedAt.Valid {
		at := appliedAt.Time
		r.AppliedAt = &at
	}
	return &r, nil
}

func (s *Store) GetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+balanceColumns+` FROM user_balances WHERE user_id = $1`, userID)
	return scanBalance(row)
}

func (s *Store) FindCustomer(ctx context.Context, lookup models.CustomerLookup) (*models.Customer, error) {
	var (
		where string
		arg   any
	)
	switch {
	case lookup.UserID != 0:
		where, arg = "id = $1", lookup.UserID
	case lookup.Username != "":
		where, arg = "username = $1", lookup.Username
	case lookup.Email != "":
		where, arg = "LOWER(email) = LOWER($1)", lookup.Email
	default:
		return nil, store.ErrNotFound
	}

	var c models.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, COALESCE(email, ''), COALESCE(full_name, '')
		FROM users
		WHERE `+where+`
		LIMIT 1`, arg).Scan(&c.ID, &c.Username, &c.Email, &c.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.LoanTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM loan_transactions
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) ListTransactionsByReference(ctx context.Context, reference uuid.UUID) ([]*models.LoanTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM loan_transactions
		WHERE reference = $1
		ORDER BY id`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]*models.LoanTransaction, error) {
	var out []*models.LoanTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*models.LoanTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM loan_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *Store) SearchBalances(ctx context.Context, filter models.BalanceFilter) ([]*models.CustomerBalanceRow, error) {
	var (
		conds []string
		args  []any
	)
	if filter.MinBalance != nil {
		args = append(args, int64(*filter.MinBalance))
		conds = append(conds, fmt.Sprintf("b.total_balance >= $%d", len(args)))
	}
	if filter.MaxBalance != nil {
		args = append(args, int64(*filter.MaxBalance))
		conds = append(conds, fmt.Sprintf("b.total_balance <= $%d", len(args)))
	}
	if filter.HasLoan != nil {
		if *filter.HasLoan {
			conds = append(conds, "b.loan_balance > 0")
		} else {
			conds = append(conds, "b.loan_balance = 0")
		}
	}

	query := `
		SELECT b.id, b.user_id, b.available_balance, b.loan_balance, b.total_balance,
			b.borrowed_amount, b.used_borrowed_amount, b.last_updated,
			COALESCE(u.username, ''), COALESCE(u.email, ''), COALESCE(u.full_name, '')
		FROM user_balances b
		LEFT JOIN users u ON u.id = b.user_id`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Skip, filter.Limit)
	query += fmt.Sprintf("\n\t\tORDER BY b.user_id\n\t\tOFFSET $%d LIMIT $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CustomerBalanceRow
	for rows.Next() {
		var r models.CustomerBalanceRow
		b := &r.Balance
		if err := rows.Scan(&b.ID, &b.UserID, &b.AvailableBalance, &b.LoanBalance, &b.TotalBalance,
			&b.BorrowedAmount, &b.UsedBorrowedAmount, &b.LastUpdated,
			&r.Customer.Username, &r.Customer.Email, &r.Customer.FullName); err != nil {
			return nil, err
		}
		r.Customer.ID = b.UserID
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) ListPendingRefunds(ctx context.Context, limit int) ([]*models.RefundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+refundColumns+`
		FROM payment_refunds
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RefundRecord
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type tx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *tx) GetBalanceForUpdate(ctx context.Context, userID int64) (*models.Balance, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM user_balances
		WHERE user_id = $1
		FOR UPDATE`, userID)
	return scanBalance(row)
}

func (t *tx) CreateDefaultBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, last_updated)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, t.now())
	if err != nil {
		return nil, fmt.Errorf("create balance: %w", err)
	}
	return t.GetBalanceForUpdate(ctx, userID)
}

func (t *tx) SaveBalance(ctx context.Context, b *models.Balance) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_balances
		SET available_balance = $1, loan_balance = $2, total_balance = $3,
			borrowed_amount = $4, used_borrowed_amount = $5, last_updated = $6
		WHERE user_id = $7`,
		int64(b.AvailableBalance), int64(b.LoanBalance), int64(b.TotalBalance),
		int64(b.BorrowedAmount), int64(b.UsedBorrowedAmount), b.LastUpdated, b.UserID)
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) AppendTransaction(ctx context.Context, lt *models.LoanTransaction) error {
	if lt.Timestamp.IsZero() {
		lt.Timestamp = t.now()
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO loan_transactions (user_id, amount, transaction_type, description, timestamp, interest_applied, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		lt.UserID, int64(lt.Amount), string(lt.TransactionType), lt.Description, lt.Timestamp, lt.InterestApplied, lt.Reference,
	).Scan(&lt.ID)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (t *tx) CreateRefund(ctx context.Context, r *models.RefundRecord) (bool, error) {
	receipt, err := json.Marshal(r.Receipt)
	if err != nil {
		return false, fmt.Errorf("encode refund receipt: %w", err)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.now()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_refunds (charge_id, user_id, receipt, status, attempts, created_at)
		VALUES ($1, $2, $3, 'pending', 0, $4)
		ON CONFLICT (charge_id) DO NOTHING`,
		r.ChargeID, r.UserID, receipt, createdAt)
	if err != nil {
		return false, fmt.Errorf("record refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *tx) GetRefundForUpdate(ctx context.Context, chargeID uuid.UUID) (*models.RefundRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+refundColumns+`
		FROM payment_refunds
		WHERE charge_id = $1
		FOR UPDATE`, chargeID)
	return scanRefund(row)
}

func (t *tx) MarkRefundApplied(ctx context.Context, chargeID uuid.UUID, at time.Time) error {
	return t.execOne(ctx, `
		UPDATE payment_refunds
		SET status = 'applied', applied_at = $1, last_error = NULL
		WHERE charge_id = $2`, at, chargeID)
}

func (t *tx) MarkRefundFailed(ctx context.Context, chargeID uuid.UUID, reason string) error {
	return t.execOne(ctx, `
		UPDATE payment_refunds
		SET attempts = attempts + 1, last_error = $1
		WHERE charge_id = $2`, reason, chargeID)
}

func (t *tx) execOne(ctx context.Context, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
