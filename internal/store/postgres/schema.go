package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user_balances (
		id                   BIGSERIAL PRIMARY KEY,
		user_id              BIGINT NOT NULL UNIQUE,
		available_balance    BIGINT NOT NULL DEFAULT 0,
		loan_balance         BIGINT NOT NULL DEFAULT 0,
		total_balance        BIGINT NOT NULL DEFAULT 0,
		borrowed_amount      BIGINT NOT NULL DEFAULT 0,
		used_borrowed_amount BIGINT NOT NULL DEFAULT 0,
		last_updated         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT user_balances_loan_non_negative CHECK (loan_balance >= 0),
		CONSTRAINT user_balances_used_within_borrowed CHECK (used_borrowed_amount >= 0 AND used_borrowed_amount <= borrowed_amount),
		CONSTRAINT user_balances_total CHECK (total_balance = available_balance - loan_balance)
	)`,
	`CREATE TABLE IF NOT EXISTS loan_transactions (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL,
		amount           BIGINT NOT NULL CHECK (amount >= 0),
		transaction_type VARCHAR(32) NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		timestamp        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		interest_applied BOOLEAN NOT NULL DEFAULT FALSE,
		reference        UUID
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loan_transactions_user_ts ON loan_transactions (user_id, timestamp DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_loan_transactions_reference ON loan_transactions (reference) WHERE reference IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS payment_refunds (
		charge_id  UUID PRIMARY KEY,
		user_id    BIGINT NOT NULL,
		receipt    JSONB NOT NULL,
		status     VARCHAR(16) NOT NULL DEFAULT 'pending',
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		applied_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_refunds_pending ON payment_refunds (created_at) WHERE status = 'pending'`,
}

// Migrate creates the ledger tables. The users table is owned by the
// account service and is only read here.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
