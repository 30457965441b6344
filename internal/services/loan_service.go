package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store"
)

// BorrowLimit describes a user's credit line.
type BorrowLimit struct {
	MaxLoan            models.Cents `json:"max_loan" swaggertype:"number"`
	CurrentLoan        models.Cents `json:"current_loan" swaggertype:"number"`
	BorrowedAmount     models.Cents `json:"borrowed_amount" swaggertype:"number"`
	UsedBorrowedAmount models.Cents `json:"used_borrowed_amount" swaggertype:"number"`
	UnusedBorrowed     models.Cents `json:"unused_borrowed" swaggertype:"number"`
	RemainingLimit     models.Cents `json:"remaining_limit" swaggertype:"number"`
	CanBorrowMore      bool         `json:"can_borrow_more"`
}

// Affordability answers whether a charge of Amount would succeed right now.
type Affordability struct {
	Amount         models.Cents `json:"amount" swaggertype:"number"`
	CanAfford      bool         `json:"can_afford"`
	Available      models.Cents `json:"available_balance" swaggertype:"number"`
	UnusedBorrowed models.Cents `json:"unused_borrowed" swaggertype:"number"`
	RemainingLimit models.Cents `json:"remaining_limit" swaggertype:"number"`
	WouldBorrow    models.Cents `json:"would_borrow" swaggertype:"number"`
	Message        string       `json:"message"`
}

// Borrow extends the credit line. The funds are not credited to the
// available balance; they become spendable through Use or a Charge.
func (s *PaymentService) Borrow(ctx context.Context, userID int64, amount models.Cents, purpose string) (*OperationResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if err := validateDescription(purpose); err != nil {
		return nil, err
	}
	capErr := loanCapExceeded(fmt.Sprintf("Cannot borrow more than %s total", s.policy.MaxLoan().Dollars()))
	if amount > s.policy.MaxLoan() {
		return nil, capErr
	}

	var result OperationResult
	err := s.run(ctx, "borrow", userID, amount, func(tx store.Tx) error {
		b, err := s.loadOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !s.policy.CanBorrowMore(b, amount) {
			return capErr
		}
		now := s.now()
		b.BorrowedAmount += amount
		b.Recompute(now)
		if err := tx.SaveBalance(ctx, b); err != nil {
			return err
		}
		lt, err := s.record(ctx, tx, entry{userID: userID, amount: amount, txType: models.TxBorrow, desc: "Cash loan for: " + purpose}, now)
		if err != nil {
			return err
		}
		result = OperationResult{
			Transaction: lt,
			Balance:     *b,
			Message:     fmt.Sprintf("Borrowed %s. Interest of %s applies when the funds are used", amount.Dollars(), s.policy.InterestRate()),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation("", userID, "BORROW", amount, nil)
	return &result, nil
}

// Use spends previously borrowed principal and recognises its interest.
func (s *PaymentService) Use(ctx context.Context, userID int64, amount models.Cents, purpose string) (*OperationResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if err := validateDescription(purpose); err != nil {
		return nil, err
	}

	var result OperationResult
	err := s.run(ctx, "use", userID, amount, func(tx store.Tx) error {
		b, err := tx.GetBalanceForUpdate(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return loanCapExceeded(fmt.Sprintf("Only %s available from borrowed funds", models.Cents(0).Dollars()))
		}
		if err != nil {
			return err
		}
		if unused := b.UnusedBorrowed(); amount > unused {
			return loanCapExceeded(fmt.Sprintf("Only %s available from borrowed funds", unused.Dollars()))
		}

		now := s.now()
		b.UsedBorrowedAmount += amount
		b.LoanBalance += amount
		interest := s.policy.ApplyInterest(b)
		b.Recompute(now)
		if err := tx.SaveBalance(ctx, b); err != nil {
			return err
		}
		lt, err := s.record(ctx, tx, entry{userID: userID, amount: amount, txType: models.TxUse, desc: "Used borrowed funds for: " + purpose}, now)
		if err != nil {
			return err
		}
		if interest > 0 {
			if _, err := s.record(ctx, tx, entry{
				userID: userID, amount: interest, txType: models.TxInterest, interest: true,
				desc: fmt.Sprintf("Interest on %s of used borrowed funds", amount.Dollars()),
			}, now); err != nil {
				return err
			}
		}
		result = OperationResult{
			Transaction: lt,
			Interest:    interest,
			Balance:     *b,
			Message:     fmt.Sprintf("Used %s of borrowed funds. Total owed is now %s", amount.Dollars(), b.LoanBalance.Dollars()),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation("", userID, "USE", amount, map[string]any{"interest": result.Interest.String()})
	return &result, nil
}

// Repay pays down debt from the available balance.
func (s *PaymentService) Repay(ctx context.Context, userID int64, amount models.Cents) (*OperationResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var result OperationResult
	err := s.run(ctx, "repay", userID, amount, func(tx store.Tx) error {
		b, err := tx.GetBalanceForUpdate(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return validationError("No outstanding loan to repay")
		}
		if err != nil {
			return err
		}
		if b.LoanBalance <= 0 {
			return validationError("No outstanding loan to repay")
		}
		if amount > b.AvailableBalance {
			return insufficientFunds("Insufficient available balance for repayment")
		}
		if amount > b.LoanBalance {
			return validationError(fmt.Sprintf("Repayment amount exceeds total owed (%s)", b.LoanBalance.Dollars()))
		}

		principal := b.UsedBorrowedAmount
		if amount < b.LoanBalance {
			if principal, _, err = s.policy.SplitRepayment(amount, b.UsedBorrowedAmount); err != nil {
				return err
			}
		}

		loanBefore := b.LoanBalance
		newUsed := b.UsedBorrowedAmount - principal
		retired := loanBefore - s.policy.Debt(newUsed)
		if retired <= 0 {
			step := s.policy.MinRepayment(b.UsedBorrowedAmount)
			return validationError(fmt.Sprintf("Repayment of %s retires no debt; repay at least %s", amount.Dollars(), step.Dollars()))
		}

		now := s.now()
		b.UsedBorrowedAmount = newUsed
		b.LoanBalance = s.policy.Debt(newUsed)
		interest := models.MaxCents(retired-principal, 0)
		b.AvailableBalance -= retired
		b.Recompute(now)
		if err := tx.SaveBalance(ctx, b); err != nil {
			return err
		}
		lt, err := s.record(ctx, tx, entry{
			userID: userID, amount: retired, txType: models.TxManualRepayment,
			desc: fmt.Sprintf("Loan repayment (%s principal + %s interest)", principal.Dollars(), interest.Dollars()),
		}, now)
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Repaid %s. Remaining owed %s", retired.Dollars(), b.LoanBalance.Dollars())
		if b.LoanBalance == 0 {
			msg = fmt.Sprintf("Repaid %s. Loan fully paid off", retired.Dollars())
		}
		result = OperationResult{
			Transaction: lt,
			Principal:   principal,
			Interest:    interest,
			Balance:     *b,
			Message:     msg,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation("", userID, "REPAY", result.Transaction.Amount, map[string]any{
		"principal": result.Principal.String(),
		"interest":  result.Interest.String(),
	})
	return &result, nil
}

// currentBalance returns the stored balance or an unsaved zero balance.
func (s *PaymentService) currentBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	b, err := s.store.GetBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.NewBalance(userID, s.now()), nil
	}
	if err != nil {
		return nil, persistenceError("load balance", err)
	}
	return b, nil
}

func (s *PaymentService) BorrowLimit(ctx context.Context, userID int64) (*BorrowLimit, error) {
	b, err := s.currentBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	remaining := s.policy.RemainingLimit(b)
	return &BorrowLimit{
		MaxLoan:            s.policy.MaxLoan(),
		CurrentLoan:        b.LoanBalance,
		BorrowedAmount:     b.BorrowedAmount,
		UsedBorrowedAmount: b.UsedBorrowedAmount,
		UnusedBorrowed:     b.UnusedBorrowed(),
		RemainingLimit:     remaining,
		CanBorrowMore:      remaining > 0,
	}, nil
}

// CheckAffordability evaluates a charge without mutating anything.
func (s *PaymentService) CheckAffordability(ctx context.Context, userID int64, amount models.Cents) (*Affordability, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	b, err := s.currentBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	a := &Affordability{
		Amount:         amount,
		Available:      b.AvailableBalance,
		UnusedBorrowed: b.UnusedBorrowed(),
		RemainingLimit: s.policy.RemainingLimit(b),
	}
	switch {
	case b.AvailableBalance >= amount:
		a.CanAfford = true
		a.Message = "Can pay from available balance"
	default:
		shortfall := amount - b.AvailableBalance
		extend := models.MaxCents(shortfall-a.UnusedBorrowed, 0)
		if extend <= a.RemainingLimit {
			a.CanAfford = true
			a.WouldBorrow = shortfall
			a.Message = fmt.Sprintf("Can pay with %s of borrowed funds", shortfall.Dollars())
		} else {
			a.Message = fmt.Sprintf("Insufficient funds: short by %s", (extend - a.RemainingLimit).Dollars())
		}
	}
	return a, nil
}

// DepositPreview is what a cash load of Amount would do, computed without
// writing anything.
type DepositPreview struct {
	DepositAllocation
	Message string `json:"message"`
}

// PreviewDeposit runs the cash load allocation against the current balance.
func (s *PaymentService) PreviewDeposit(ctx context.Context, userID int64, amount models.Cents) (*DepositPreview, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	b, err := s.currentBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	alloc, err := s.policy.AllocateDeposit(b, amount)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("%s would be added to available balance", alloc.Credited.Dollars())
	if alloc.LoanPaid > 0 {
		msg = fmt.Sprintf("%s would pay toward your loan, %s would be added to available balance",
			alloc.LoanPaid.Dollars(), alloc.Credited.Dollars())
	}
	return &DepositPreview{DepositAllocation: alloc, Message: msg}, nil
}
