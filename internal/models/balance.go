package models

import "time"

// Balance is the per-user ledger row. All amounts are in cents.
type Balance struct {
	ID                 int64     `json:"id" db:"id"`
	UserID             int64     `json:"user_id" db:"user_id" example:"42"`
	AvailableBalance   Cents     `json:"available_balance" db:"available_balance" swaggertype:"number" example:"12.50"`
	LoanBalance        Cents     `json:"loan_balance" db:"loan_balance" swaggertype:"number" example:"0.00"`
	TotalBalance       Cents     `json:"total_balance" db:"total_balance" swaggertype:"number" example:"12.50"`
	BorrowedAmount     Cents     `json:"borrowed_amount" db:"borrowed_amount" swaggertype:"number" example:"0.00"`
	UsedBorrowedAmount Cents     `json:"used_borrowed_amount" db:"used_borrowed_amount" swaggertype:"number" example:"0.00"`
	LastUpdated        time.Time `json:"last_updated" db:"last_updated"`
}

// NewBalance returns the zero balance created lazily on first access.
func NewBalance(userID int64, now time.Time) *Balance {
	return &Balance{UserID: userID, LastUpdated: now}
}

// Recompute refreshes the derived total and the update timestamp.
func (b *Balance) Recompute(now time.Time) {
	b.TotalBalance = b.AvailableBalance - b.LoanBalance
	b.LastUpdated = now
}

// UnusedBorrowed is the part of the credit line that has been drawn but not spent.
func (b *Balance) UnusedBorrowed() Cents {
	return b.BorrowedAmount - b.UsedBorrowedAmount
}

func (b *Balance) HasLoan() bool {
	return b.LoanBalance > 0
}

func (b *Balance) Clone() *Balance {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
