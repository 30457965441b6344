package services

import (
	"fmt"

	"github.com/civicdrive/backend/internal/config"
	"github.com/civicdrive/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LoanPolicy holds the pure credit line rules. Debt on used principal p is
// round(p * multiplier); the cap applies to the debt the drawn line would
// become once fully used.
type LoanPolicy struct {
	cfg config.LoanPolicyConfig
}

func NewLoanPolicy(cfg config.LoanPolicyConfig) *LoanPolicy {
	return &LoanPolicy{cfg: cfg}
}

func (p *LoanPolicy) MaxLoan() models.Cents { return p.cfg.MaxLoan }

func (p *LoanPolicy) Multiplier() decimal.Decimal { return p.cfg.InterestMultiplier }

// Debt is the amount owed on the given used principal.
func (p *LoanPolicy) Debt(principal models.Cents) models.Cents {
	if principal <= 0 {
		return 0
	}
	return principal.Mul(p.cfg.InterestMultiplier)
}

// CanBorrowMore reports whether the credit line may grow by requested
// without its projected debt exceeding the cap.
func (p *LoanPolicy) CanBorrowMore(b *models.Balance, requested models.Cents) bool {
	if requested < 0 {
		return false
	}
	return p.Debt(b.BorrowedAmount+requested) <= p.cfg.MaxLoan
}

// RemainingLimit is the largest extension CanBorrowMore accepts.
func (p *LoanPolicy) RemainingLimit(b *models.Balance) models.Cents {
	x := p.cfg.MaxLoan.Div(p.cfg.InterestMultiplier) - b.BorrowedAmount
	for p.CanBorrowMore(b, x+1) {
		x++
	}
	for x > 0 && !p.CanBorrowMore(b, x) {
		x--
	}
	if x < 0 {
		return 0
	}
	return x
}

// ApplyInterest recognises interest on used principal. It raises the loan
// balance to the debt owed on the used principal and returns the newly
// recognised amount; a second call without new usage returns zero.
func (p *LoanPolicy) ApplyInterest(b *models.Balance) models.Cents {
	if b.LoanBalance <= p.cfg.InterestThreshold {
		return 0
	}
	target := p.Debt(b.UsedBorrowedAmount)
	if target <= b.LoanBalance {
		return 0
	}
	applied := target - b.LoanBalance
	b.LoanBalance = target
	b.TotalBalance = b.AvailableBalance - b.LoanBalance
	return applied
}

// SplitRepayment divides a payment against debt into principal and interest.
// Paying the full debt retires all used principal. The principal is trimmed
// so the debt retired never exceeds amount.
func (p *LoanPolicy) SplitRepayment(amount, used models.Cents) (principal, interest models.Cents, err error) {
	if amount <= 0 {
		return 0, 0, validationError("Repayment amount must be greater than zero")
	}
	owed := p.Debt(used)
	if amount > owed {
		return 0, 0, validationError(fmt.Sprintf("Repayment amount exceeds total owed (%s)", owed.Dollars()))
	}
	if amount == owed {
		return used, amount - used, nil
	}
	principal = models.MinCents(amount.Div(p.cfg.InterestMultiplier), used)
	for principal > 0 && owed-p.Debt(used-principal) > amount {
		principal--
	}
	return principal, amount - principal, nil
}

// MinRepayment is the smallest payment that retires any debt on used:
// the debt carried by its last cent of principal.
func (p *LoanPolicy) MinRepayment(used models.Cents) models.Cents {
	if used <= 0 {
		return 0
	}
	return p.Debt(used) - p.Debt(used-1)
}

// DepositAllocation is how a cash load divides between outstanding debt
// and the available balance.
type DepositAllocation struct {
	Amount          models.Cents `json:"amount" swaggertype:"number"`
	LoanPaid        models.Cents `json:"loan_paid" swaggertype:"number"`
	PrincipalPaid   models.Cents `json:"principal_paid" swaggertype:"number"`
	InterestPaid    models.Cents `json:"interest_paid" swaggertype:"number"`
	Credited        models.Cents `json:"credited" swaggertype:"number"`
	NewAvailable    models.Cents `json:"new_available_balance" swaggertype:"number"`
	NewLoan         models.Cents `json:"new_loan_balance" swaggertype:"number"`
	NewUsedBorrowed models.Cents `json:"new_used_borrowed_amount" swaggertype:"number"`
}

// AllocateDeposit pays debt first and credits the rest. It does not modify b.
// A load below MinRepayment retires nothing and is credited in full.
func (p *LoanPolicy) AllocateDeposit(b *models.Balance, amount models.Cents) (DepositAllocation, error) {
	a := DepositAllocation{
		Amount:          amount,
		NewAvailable:    b.AvailableBalance,
		NewLoan:         b.LoanBalance,
		NewUsedBorrowed: b.UsedBorrowedAmount,
	}
	if amount <= 0 {
		return a, validationError("Amount must be greater than zero")
	}
	if b.LoanBalance > 0 {
		pay := models.MinCents(amount, b.LoanBalance)
		principal := b.UsedBorrowedAmount
		if pay < b.LoanBalance {
			var err error
			if principal, _, err = p.SplitRepayment(pay, b.UsedBorrowedAmount); err != nil {
				return a, err
			}
		}
		a.NewUsedBorrowed = b.UsedBorrowedAmount - principal
		a.NewLoan = p.Debt(a.NewUsedBorrowed)
		a.LoanPaid = b.LoanBalance - a.NewLoan
		a.PrincipalPaid = principal
		a.InterestPaid = models.MaxCents(a.LoanPaid-principal, 0)
	}
	a.Credited = amount - a.LoanPaid
	a.NewAvailable = b.AvailableBalance + a.Credited
	return a, nil
}

// InterestRate formats the multiplier as a percentage, e.g. "25%".
func (p *LoanPolicy) InterestRate() string {
	return p.cfg.InterestMultiplier.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).String() + "%"
}
