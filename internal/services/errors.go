package services

import (
	"errors"
	"net/http"

	"github.com/civicdrive/backend/internal/store"
)

// ErrorKind classifies ledger failures for callers.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindLoanCapExceeded   ErrorKind = "loan_cap_exceeded"
	KindNotFound          ErrorKind = "not_found"
	KindPersistence       ErrorKind = "persistence_failure"
)

// LedgerError carries a user facing message and an optional cause.
type LedgerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is matches sentinels by kind so errors.Is(err, ErrInsufficientFunds) works
// for any insufficient funds error regardless of message.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Message == "" && t.Kind == e.Kind
}

var (
	ErrValidation        = &LedgerError{Kind: KindValidation}
	ErrInsufficientFunds = &LedgerError{Kind: KindInsufficientFunds}
	ErrLoanCapExceeded   = &LedgerError{Kind: KindLoanCapExceeded}
	ErrNotFound          = &LedgerError{Kind: KindNotFound}
	ErrPersistence       = &LedgerError{Kind: KindPersistence}
)

func validationError(msg string) error {
	return &LedgerError{Kind: KindValidation, Message: msg}
}

func insufficientFunds(msg string) error {
	return &LedgerError{Kind: KindInsufficientFunds, Message: msg}
}

func loanCapExceeded(msg string) error {
	return &LedgerError{Kind: KindLoanCapExceeded, Message: msg}
}

func notFound(msg string) error {
	return &LedgerError{Kind: KindNotFound, Message: msg}
}

// persistenceError wraps a store failure. Ledger errors pass through untouched
// and store.ErrNotFound becomes a NotFound error.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return &LedgerError{Kind: KindNotFound, Message: op + ": not found", Err: err}
	}
	return &LedgerError{Kind: KindPersistence, Message: "failed to " + op, Err: err}
}

// KindOf returns the kind of err, or KindPersistence for foreign errors.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindPersistence
}

// StatusCode maps a ledger error to its HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInsufficientFunds, KindLoanCapExceeded:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to clients. Persistence
// failures never leak their cause.
func PublicMessage(err error) string {
	var le *LedgerError
	if errors.As(err, &le) && le.Kind != KindPersistence {
		return le.Message
	}
	return "Internal server error"
}
