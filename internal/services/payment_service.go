package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicdrive/backend/internal/audit"
	"github.com/civicdrive/backend/internal/metrics"
	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxDescriptionLength = 255

// PaymentService applies every balance mutation. Each operation runs in a
// single store transaction holding the affected users' row locks, so either
// all of its balance changes and ledger entries persist or none do.
type PaymentService struct {
	store   store.Store
	policy  *LoanPolicy
	audit   *audit.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*PaymentService)

func WithAuditLogger(a *audit.Logger) Option {
	return func(s *PaymentService) { s.audit = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *PaymentService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *PaymentService) { s.now = now }
}

func NewPaymentService(st store.Store, policy *LoanPolicy, opts ...Option) *PaymentService {
	s := &PaymentService{
		store:  st,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PaymentService) Policy() *LoanPolicy { return s.policy }

// ChargeResult is returned by Charge. The receipt is what Refund needs.
type ChargeResult struct {
	Receipt models.ChargeReceipt `json:"receipt"`
	Balance models.Balance       `json:"balance"`
}

type DepositResult struct {
	Transaction  *models.LoanTransaction `json:"transaction"`
	LoanPaid     models.Cents            `json:"loan_paid" swaggertype:"number"`
	InterestPaid models.Cents            `json:"interest_paid" swaggertype:"number"`
	Credited     models.Cents            `json:"credited" swaggertype:"number"`
	Balance      models.Balance          `json:"balance"`
	Message      string                  `json:"message"`
}

type TransferResult struct {
	Outgoing    *models.LoanTransaction `json:"outgoing"`
	Incoming    *models.LoanTransaction `json:"-"`
	FromBalance models.Balance          `json:"balance"`
	ToBalance   models.Balance          `json:"-"`
	Message     string                  `json:"message"`
}

// OperationResult is returned by the single-entry operations.
type OperationResult struct {
	Transaction *models.LoanTransaction `json:"transaction"`
	Principal   models.Cents            `json:"principal,omitempty" swaggertype:"number"`
	Interest    models.Cents            `json:"interest,omitempty" swaggertype:"number"`
	Balance     models.Balance          `json:"balance"`
	Message     string                  `json:"message"`
}

func validateAmount(amount models.Cents) error {
	if amount <= 0 {
		return validationError("Amount must be greater than zero")
	}
	return nil
}

func validateDescription(desc string) error {
	if len(desc) > maxDescriptionLength {
		return validationError(fmt.Sprintf("Description must be at most %d characters", maxDescriptionLength))
	}
	return nil
}

// run executes fn in a transaction and records the outcome.
func (s *PaymentService) run(ctx context.Context, op string, userID int64, amount models.Cents, fn func(tx store.Tx) error) error {
	start := time.Now()
	err := persistenceError(op, s.store.WithTx(ctx, fn))

	outcome := "success"
	if err != nil {
		outcome = "declined"
		if KindOf(err) == KindPersistence {
			outcome = "error"
		}
	}
	s.metrics.ObserveOperation(op, outcome, amount, time.Since(start))

	if err != nil {
		entry := logrus.WithFields(logrus.Fields{
			"operation": op,
			"user_id":   userID,
			"amount":    amount.String(),
		})
		if outcome == "error" {
			entry.WithError(err).Error("[LEDGER] operation failed")
			s.audit.LogError("", userID, op, err)
		} else {
			entry.WithField("reason", err.Error()).Info("[LEDGER] operation declined")
		}
	}
	return err
}

// loadOrCreate locks the user's balance, creating the zero balance on first use.
func (s *PaymentService) loadOrCreate(ctx context.Context, tx store.Tx, userID int64) (*models.Balance, error) {
	b, err := tx.GetBalanceForUpdate(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return tx.CreateDefaultBalance(ctx, userID)
	}
	return b, err
}

type entry struct {
	userID   int64
	amount   models.Cents
	txType   models.TransactionType
	desc     string
	interest bool
	ref      uuid.NullUUID
}

func (s *PaymentService) record(ctx context.Context, tx store.Tx, e entry, now time.Time) (*models.LoanTransaction, error) {
	lt := &models.LoanTransaction{
		UserID:          e.userID,
		Amount:          e.amount,
		TransactionType: e.txType,
		Description:     e.desc,
		Timestamp:       now,
		InterestApplied: e.interest,
		Reference:       e.ref,
	}
	if err := tx.AppendTransaction(ctx, lt); err != nil {
		return nil, err
	}
	return lt, nil
}

// Charge pays for a municipal service. Available balance is used first; any
// shortfall is covered from the unused credit line and then by extending
// the line, with interest recognised on the borrowed part immediately.
// A declined charge leaves the balance untouched.
func (s *PaymentService) Charge(ctx context.Context, userID int64, kind models.PaymentKind, amount models.Cents, purpose string) (*ChargeResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, validationError(fmt.Sprintf("Unsupported payment kind %q", kind))
	}
	if err := validateDescription(purpose); err != nil {
		return nil, err
	}

	chargeID := uuid.New()
	ref := uuid.NullUUID{UUID: chargeID, Valid: true}
	label := kind.Label()
	var result ChargeResult

	err := s.run(ctx, "charge", userID, amount, func(tx store.Tx) error {
		b, err := s.loadOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		receipt := models.ChargeReceipt{
			ChargeID:  chargeID,
			UserID:    userID,
			Kind:      kind,
			Purpose:   purpose,
			Amount:    amount,
			CreatedAt: now,
		}

		if b.AvailableBalance >= amount {
			b.AvailableBalance -= amount
			b.Recompute(now)
			if err := tx.SaveBalance(ctx, b); err != nil {
				return err
			}
			if _, err := s.record(ctx, tx, entry{
				userID: userID, amount: amount, txType: kind.TransactionType(), ref: ref,
				desc: fmt.Sprintf("%s: %s", label, purpose),
			}, now); err != nil {
				return err
			}
			receipt.FromBalance = amount
			receipt.Message = fmt.Sprintf("%s paid from available balance", label)
			result = ChargeResult{Receipt: receipt, Balance: *b}
			return nil
		}

		fromBalance := models.MaxCents(b.AvailableBalance, 0)
		remaining := amount - fromBalance
		reuse := models.MinCents(remaining, b.UnusedBorrowed())
		extend := remaining - reuse
		if extend > 0 && !s.policy.CanBorrowMore(b, extend) {
			short := extend - s.policy.RemainingLimit(b)
			return insufficientFunds(fmt.Sprintf(
				"Insufficient balance and cannot borrow more (max %s loan reached); short by %s",
				s.policy.MaxLoan().Dollars(), short.Dollars()))
		}

		b.AvailableBalance -= fromBalance
		b.BorrowedAmount += extend
		b.UsedBorrowedAmount += remaining
		b.LoanBalance += remaining
		interest := s.policy.ApplyInterest(b)
		b.Recompute(now)
		if err := tx.SaveBalance(ctx, b); err != nil {
			return err
		}

		entries := []entry{
			{amount: fromBalance, txType: kind.TransactionType(), desc: fmt.Sprintf("%s: %s - paid from balance", label, purpose)},
			{amount: extend, txType: models.TxBorrow, desc: fmt.Sprintf("Loan for %s: %s", label, purpose)},
			{amount: reuse, txType: models.TxUse, desc: fmt.Sprintf("Used borrowed funds for %s: %s", label, purpose)},
			{amount: interest, txType: models.TxInterest, interest: true, desc: fmt.Sprintf("Interest on %s borrowed for %s", remaining.Dollars(), label)},
		}
		for _, e := range entries {
			if e.amount <= 0 {
				continue
			}
			e.userID, e.ref = userID, ref
			if _, err := s.record(ctx, tx, e, now); err != nil {
				return err
			}
		}

		receipt.FromBalance = fromBalance
		receipt.FromCreditLine = reuse
		receipt.Extended = extend
		receipt.InterestCharged = interest
		receipt.UsedLoan = true
		receipt.Message = fmt.Sprintf("%s paid using %s from balance and %s borrowed funds",
			label, fromBalance.Dollars(), remaining.Dollars())
		result = ChargeResult{Receipt: receipt, Balance: *b}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Receipt.UsedLoan {
		s.metrics.LoanFallback(kind, result.Receipt.InterestCharged)
	}
	s.audit.LogOperation(chargeID.String(), userID, "CHARGE", amount, map[string]any{
		"kind":      string(kind),
		"used_loan": result.Receipt.UsedLoan,
		"interest":  result.Receipt.InterestCharged.String(),
	})
	return &result, nil
}

// LoadCash deposits money. Outstanding debt is paid off first and only the
// remainder is credited to the available balance.
func (s *PaymentService) LoadCash(ctx context.Context, userID int64, amount models.Cents, description string) (*DepositResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}
	if description == "" {
		description = "Cash load"
	}

	var result DepositResult
	err := s.run(ctx, "load_cash", userID, amount, func(tx store.Tx) error {
		b, err := s.loadOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.now()

		alloc, err := s.policy.AllocateDeposit(b, amount)
		if err != nil {
			return err
		}
		b.UsedBorrowedAmount = alloc.NewUsedBorrowed
		b.LoanBalance = alloc.NewLoan
		b.AvailableBalance = alloc.NewAvailable
		b.Recompute(now)
		if err := tx.SaveBalance(ctx, b); err != nil {
			return err
		}

		loanPaid, credited := alloc.LoanPaid, alloc.Credited
		principal, interestPaid := alloc.PrincipalPaid, alloc.InterestPaid
		if loanPaid > 0 {
			if _, err := s.record(ctx, tx, entry{
				userID: userID, amount: loanPaid, txType: models.TxAutoRepayment,
				desc: fmt.Sprintf("Automatic loan repayment from cash load (%s principal + %s interest)",
					principal.Dollars(), interestPaid.Dollars()),
			}, now); err != nil {
				return err
			}
		}
		if credited > 0 {
			if _, err := s.record(ctx, tx, entry{userID: userID, amount: credited, txType: models.TxDeposit, desc: description}, now); err != nil {
				return err
			}
		}
		summary, err := s.record(ctx, tx, entry{
			userID: userID, amount: amount, txType: models.TxDepositProcessed,
			desc: fmt.Sprintf("Cash load of %s: %s applied to loan, %s credited", amount.Dollars(), loanPaid.Dollars(), credited.Dollars()),
		}, now)
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Loaded %s to available balance", credited.Dollars())
		if loanPaid > 0 {
			msg = fmt.Sprintf("Loaded %s: %s paid toward your loan, %s added to available balance",
				amount.Dollars(), loanPaid.Dollars(), credited.Dollars())
		}
		result = DepositResult{
			Transaction:  summary,
			LoanPaid:     loanPaid,
			InterestPaid: interestPaid,
			Credited:     credited,
			Balance:      *b,
			Message:      msg,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation("", userID, "LOAD_CASH", amount, map[string]any{"loan_paid": result.LoanPaid.String()})
	return &result, nil
}

// Withdraw removes cash from the available balance. Borrowed funds cannot be withdrawn.
func (s *PaymentService) Withdraw(ctx context.Context, userID int64, amount models.Cents, description string) (*OperationResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}
	if description == "" {
		description = "Cash withdrawal"
	}

	var result OperationResult
	err := s.run(ctx, "withdraw", userID, amount, func(tx store.Tx) error {
		b, err := tx.GetBalanceForUpdate(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return insufficientFunds("Insufficient available balance for withdrawal")
		}
		if err != nil {
			return err
		}
		if b.AvailableBalance < amount {
			return insufficientFunds(fmt.Sprintf("Insufficient available balance for withdrawal (available %s)", b.AvailableBalance.Dollars()))
		}
		now := s.now()
		b.AvailableBalance -= amount
		b.Recompute(now)
		if err := tx.SaveBalance(ctx, b); err != nil {
			return err
		}
		lt, err := s.record(ctx, tx, entry{userID: userID, amount: amount, txType: models.TxWithdrawal, desc: description}, now)
		if err != nil {
			return err
		}
		result = OperationResult{Transaction: lt, Balance: *b, Message: fmt.Sprintf("Withdrew %s", amount.Dollars())}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation("", userID, "WITHDRAW", amount, nil)
	return &result, nil
}

// Transfer moves available balance between users. Both rows are locked in
// ascending user id order.
func (s *PaymentService) Transfer(ctx context.Context, fromUserID, toUserID int64, amount models.Cents, description string) (*TransferResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if fromUserID == toUserID {
		return nil, validationError("Cannot transfer to yourself")
	}
	if toUserID <= 0 {
		return nil, validationError("Recipient is required")
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	ref := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	var result TransferResult
	err := s.run(ctx, "transfer", fromUserID, amount, func(tx store.Tx) error {
		lockSender := func() (*models.Balance, error) {
			b, err := tx.GetBalanceForUpdate(ctx, fromUserID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, insufficientFunds("Insufficient balance for transfer")
			}
			return b, err
		}

		var from, to *models.Balance
		var err error
		if fromUserID < toUserID {
			if from, err = lockSender(); err != nil {
				return err
			}
			if to, err = s.loadOrCreate(ctx, tx, toUserID); err != nil {
				return err
			}
		} else {
			if to, err = s.loadOrCreate(ctx, tx, toUserID); err != nil {
				return err
			}
			if from, err = lockSender(); err != nil {
				return err
			}
		}

		if from.AvailableBalance < amount {
			return insufficientFunds(fmt.Sprintf("Insufficient balance for transfer (available %s)", from.AvailableBalance.Dollars()))
		}

		now := s.now()
		from.AvailableBalance -= amount
		from.Recompute(now)
		to.AvailableBalance += amount
		to.Recompute(now)
		if err := tx.SaveBalance(ctx, from); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, to); err != nil {
			return err
		}

		suffix := ""
		if description != "" {
			suffix = ": " + description
		}
		out, err := s.record(ctx, tx, entry{
			userID: fromUserID, amount: amount, txType: models.TxTransferOut, ref: ref,
			desc: fmt.Sprintf("Transfer to user %d%s", toUserID, suffix),
		}, now)
		if err != nil {
			return err
		}
		in, err := s.record(ctx, tx, entry{
			userID: toUserID, amount: amount, txType: models.TxTransferIn, ref: ref,
			desc: fmt.Sprintf("Transfer from user %d%s", fromUserID, suffix),
		}, now)
		if err != nil {
			return err
		}

		result = TransferResult{
			Outgoing:    out,
			Incoming:    in,
			FromBalance: *from,
			ToBalance:   *to,
			Message:     fmt.Sprintf("Transferred %s to user %d", amount.Dollars(), toUserID),
		}
		return nil
	})
	if err != nil {
		s.audit.LogTransfer(ref.UUID.String(), fromUserID, toUserID, amount, "FAILED")
		return nil, err
	}

	s.audit.LogTransfer(ref.UUID.String(), fromUserID, toUserID, amount, "SUCCESS")
	return &result, nil
}
