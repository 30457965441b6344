package models

import "time"

// Customer is the read-only view of a registered user that the ledger joins against.
type Customer struct {
	ID       int64  `json:"id" example:"1"`
	Username string `json:"username" example:"jdoe"`
	Email    string `json:"email" example:"user@example.com"`
	FullName string `json:"full_name" example:"John Doe"`
}

// CustomerLookup identifies a customer by exactly one of its keys.
type CustomerLookup struct {
	UserID   int64  `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	Username string `json:"username,omitempty" validate:"omitempty,max=100"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}

func (l CustomerLookup) Empty() bool {
	return l.UserID == 0 && l.Username == "" && l.Email == ""
}

// CustomerBalanceRow pairs a customer with its stored balance.
type CustomerBalanceRow struct {
	Customer Customer
	Balance  Balance
}

// CustomerBalance is the staff facing balance summary.
type CustomerBalance struct {
	UserID               int64     `json:"user_id"`
	Username             string    `json:"username"`
	FullName             string    `json:"full_name"`
	Email                string    `json:"email"`
	AvailableBalance     Cents     `json:"available_balance" swaggertype:"number"`
	LoanBalance          Cents     `json:"loan_balance" swaggertype:"number"`
	TotalBalance         Cents     `json:"total_balance" swaggertype:"number"`
	BorrowedAmount       Cents     `json:"borrowed_amount" swaggertype:"number"`
	UsedBorrowedAmount   Cents     `json:"used_borrowed_amount" swaggertype:"number"`
	LastUpdated          time.Time `json:"last_updated"`
	CanBorrowMore        bool      `json:"can_borrow_more"`
	RemainingBorrowLimit Cents     `json:"remaining_borrow_limit" swaggertype:"number"`
}

// BalanceFilter narrows a staff balance search. Nil pointers mean "no constraint".
type BalanceFilter struct {
	MinBalance *Cents
	MaxBalance *Cents
	HasLoan    *bool
	Skip       int
	Limit      int
}
