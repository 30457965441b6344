package models

import (
	"time"

	"github.com/google/uuid"
)

// ChargeReceipt records exactly how a charge was funded so it can be reversed.
type ChargeReceipt struct {
	ChargeID        uuid.UUID   `json:"charge_id" validate:"required" swaggertype:"string"`
	UserID          int64       `json:"user_id" validate:"required,gt=0"`
	Kind            PaymentKind `json:"kind" validate:"required" swaggertype:"string"`
	Purpose         string      `json:"purpose" validate:"max=255"`
	Amount          Cents       `json:"amount" validate:"gt=0" swaggertype:"number"`
	FromBalance     Cents       `json:"from_balance" validate:"gte=0" swaggertype:"number"`
	FromCreditLine  Cents       `json:"from_credit_line" validate:"gte=0" swaggertype:"number"`
	Extended        Cents       `json:"extended" validate:"gte=0" swaggertype:"number"`
	InterestCharged Cents       `json:"interest_charged" validate:"gte=0" swaggertype:"number"`
	UsedLoan        bool        `json:"used_loan"`
	Message         string      `json:"message"`
	CreatedAt       time.Time   `json:"created_at"`
}

// LoanPrincipal is the part of the charge funded by borrowed money.
func (r *ChargeReceipt) LoanPrincipal() Cents {
	return r.FromCreditLine + r.Extended
}

type RefundStatus string

const (
	RefundPending RefundStatus = "pending"
	RefundApplied RefundStatus = "applied"
)

// RefundRecord is the durable intent to reverse a charge.
type RefundRecord struct {
	ChargeID  uuid.UUID     `json:"charge_id" db:"charge_id"`
	UserID    int64         `json:"user_id" db:"user_id"`
	Receipt   ChargeReceipt `json:"receipt" db:"receipt"`
	Status    RefundStatus  `json:"status" db:"status"`
	Attempts  int           `json:"attempts" db:"attempts"`
	LastError string        `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	AppliedAt *time.Time    `json:"applied_at,omitempty" db:"applied_at"`
}

func (r *RefundRecord) Clone() *RefundRecord {
	c := *r
	if r.AppliedAt != nil {
		at := *r.AppliedAt
		c.AppliedAt = &at
	}
	return &c
}
