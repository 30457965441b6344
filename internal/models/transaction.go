package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType labels an entry in the append-only loan ledger.
type TransactionType string

const (
	TxDeposit          TransactionType = "deposit"
	TxWithdrawal       TransactionType = "withdrawal"
	TxBorrow           TransactionType = "borrow"
	TxUse              TransactionType = "use"
	TxRepayment        TransactionType = "repayment"
	TxManualRepayment  TransactionType = "manual_repayment"
	TxInterest         TransactionType = "interest"
	TxPayment          TransactionType = "payment"
	TxTicketPayment    TransactionType = "ticket_payment"
	TxTollPayment      TransactionType = "toll_payment"
	TxParkingPayment   TransactionType = "parking_payment"
	TxTransferIn       TransactionType = "transfer_in"
	TxTransferOut      TransactionType = "transfer_out"
	TxAutoRepayment    TransactionType = "auto_repayment"
	TxDepositProcessed TransactionType = "deposit_processed"
)

// LoanTransaction is an immutable ledger entry. Amount is always positive;
// the direction is implied by TransactionType.
type LoanTransaction struct {
	ID              int64           `json:"id" db:"id"`
	UserID          int64           `json:"user_id" db:"user_id"`
	Amount          Cents           `json:"amount" db:"amount" swaggertype:"number"`
	TransactionType TransactionType `json:"transaction_type" db:"transaction_type" swaggertype:"string"`
	Description     string          `json:"description" db:"description"`
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
	InterestApplied bool            `json:"interest_applied" db:"interest_applied"`
	Reference       uuid.NullUUID   `json:"reference" db:"reference" swaggertype:"string"`
}

func (t *LoanTransaction) Clone() *LoanTransaction {
	c := *t
	return &c
}

// PaymentKind is the municipal service a charge pays for.
type PaymentKind string

const (
	PaymentTicket  PaymentKind = "ticket"
	PaymentToll    PaymentKind = "toll"
	PaymentParking PaymentKind = "parking"
	PaymentGeneric PaymentKind = "generic"
)

func (k PaymentKind) Valid() bool {
	switch k {
	case PaymentTicket, PaymentToll, PaymentParking, PaymentGeneric:
		return true
	}
	return false
}

// TransactionType maps the kind to the ledger entry type of its balance-funded part.
func (k PaymentKind) TransactionType() TransactionType {
	switch k {
	case PaymentTicket:
		return TxTicketPayment
	case PaymentToll:
		return TxTollPayment
	case PaymentParking:
		return TxParkingPayment
	default:
		return TxPayment
	}
}

func (k PaymentKind) Label() string {
	switch k {
	case PaymentTicket:
		return "Ticket"
	case PaymentToll:
		return "Toll"
	case PaymentParking:
		return "Parking"
	default:
		return "Payment"
	}
}
