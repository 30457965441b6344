package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RefundResult reports where a refund stands. A pending refund has been
// recorded and will be retried by the sweeper.
type RefundResult struct {
	ChargeID uuid.UUID           `json:"charge_id" swaggertype:"string"`
	Status   models.RefundStatus `json:"status" swaggertype:"string"`
	Balance  *models.Balance     `json:"balance,omitempty"`
	Message  string              `json:"message"`
}

func validateReceipt(r *models.ChargeReceipt) error {
	switch {
	case r.ChargeID == uuid.Nil:
		return validationError("Receipt is missing its charge id")
	case r.Amount <= 0:
		return validationError("Receipt amount must be greater than zero")
	case !r.Kind.Valid():
		return validationError(fmt.Sprintf("Unsupported payment kind %q", r.Kind))
	case r.FromBalance < 0 || r.FromCreditLine < 0 || r.Extended < 0:
		return validationError("Receipt amounts must not be negative")
	case r.FromBalance+r.LoanPrincipal() != r.Amount:
		return validationError("Receipt parts do not add up to the charged amount")
	case r.UsedLoan != (r.LoanPrincipal() > 0):
		return validationError("Receipt loan flag does not match its parts")
	}
	return nil
}

// verifyReceipt checks the receipt against the ledger entries the charge wrote.
func (s *PaymentService) verifyReceipt(ctx context.Context, r *models.ChargeReceipt) error {
	entries, err := s.store.ListTransactionsByReference(ctx, r.ChargeID)
	if err != nil {
		return persistenceError("load charge", err)
	}

	var paid, extended, reused models.Cents
	for _, e := range entries {
		if e.UserID != r.UserID {
			return validationError("Receipt does not match the recorded charge")
		}
		switch e.TransactionType {
		case r.Kind.TransactionType():
			paid += e.Amount
		case models.TxBorrow:
			extended += e.Amount
		case models.TxUse:
			reused += e.Amount
		}
	}
	if paid+extended+reused == 0 {
		return notFound("Charge not found")
	}
	if paid != r.FromBalance || extended != r.Extended || reused != r.FromCreditLine {
		return validationError("Receipt does not match the recorded charge")
	}
	return nil
}

// Refund reverses a charge exactly as its receipt describes. The intent is
// recorded first so a failed reversal is retried by RetryPendingRefunds;
// such failures are logged and reported as a pending result, not an error.
// Refunding the same charge twice applies it once.
func (s *PaymentService) Refund(ctx context.Context, receipt models.ChargeReceipt) (*RefundResult, error) {
	if err := validateReceipt(&receipt); err != nil {
		return nil, err
	}
	if err := s.verifyReceipt(ctx, &receipt); err != nil {
		return nil, err
	}

	var existing *models.RefundRecord
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		created, err := tx.CreateRefund(ctx, &models.RefundRecord{
			ChargeID:  receipt.ChargeID,
			UserID:    receipt.UserID,
			Receipt:   receipt,
			Status:    models.RefundPending,
			CreatedAt: s.now(),
		})
		if err != nil || created {
			return err
		}
		existing, err = tx.GetRefundForUpdate(ctx, receipt.ChargeID)
		return err
	})
	if err != nil {
		return nil, persistenceError("record refund", err)
	}
	if existing != nil && existing.Status == models.RefundApplied {
		return &RefundResult{ChargeID: receipt.ChargeID, Status: models.RefundApplied, Message: "Refund already applied"}, nil
	}

	b, err := s.applyRefund(ctx, receipt.ChargeID)
	if err != nil {
		return &RefundResult{
			ChargeID: receipt.ChargeID,
			Status:   models.RefundPending,
			Message:  "Refund recorded and will be retried",
		}, nil
	}
	return &RefundResult{
		ChargeID: receipt.ChargeID,
		Status:   models.RefundApplied,
		Balance:  b,
		Message:  fmt.Sprintf("Refunded %s", receipt.Amount.Dollars()),
	}, nil
}

// applyRefund reverses a recorded refund intent. Failures are written back
// to the intent.
func (s *PaymentService) applyRefund(ctx context.Context, chargeID uuid.UUID) (*models.Balance, error) {
	var (
		result  *models.Balance
		userID  int64
		amount  models.Cents
		skipped bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		rec, err := tx.GetRefundForUpdate(ctx, chargeID)
		if err != nil {
			return err
		}
		if rec.Status == models.RefundApplied {
			skipped = true
			return nil
		}
		r := rec.Receipt
		userID, amount = rec.UserID, r.Amount

		b, err := tx.GetBalanceForUpdate(ctx, rec.UserID)
		if err != nil {
			return err
		}
		now := s.now()
		ref := uuid.NullUUID{UUID: chargeID, Valid: true}
		label := r.Kind.Label()

		credit := r.FromBalance
		if principal := r.LoanPrincipal(); principal > 0 {
			reversible := models.MinCents(principal, b.UsedBorrowedAmount)
			loanBefore := b.LoanBalance
			b.UsedBorrowedAmount -= reversible
			b.BorrowedAmount = models.MaxCents(b.BorrowedAmount-r.Extended, b.UsedBorrowedAmount)
			b.LoanBalance = s.policy.Debt(b.UsedBorrowedAmount)
			// principal already repaid is returned at the amount that retired it
			credit += s.policy.Debt(principal - reversible)

			if reversed := loanBefore - b.LoanBalance; reversed > 0 {
				if _, err := s.record(ctx, tx, entry{
					userID: rec.UserID, amount: reversed, txType: models.TxRepayment, ref: ref,
					desc: fmt.Sprintf("Refund of %s charge: loan reversed", label),
				}, now); err != nil {
					return err
				}
			}
		}
		b.AvailableBalance += credit
		b.Recompute(now)
		if err := tx.SaveBalance(ctx, b); err != nil {
			return err
		}
		if credit > 0 {
			if _, err := s.record(ctx, tx, entry{
				userID: rec.UserID, amount: credit, txType: models.TxDeposit, ref: ref,
				desc: fmt.Sprintf("Refund of %s charge: %s", label, r.Purpose),
			}, now); err != nil {
				return err
			}
		}
		if err := tx.MarkRefundApplied(ctx, chargeID, now); err != nil {
			return err
		}
		result = b
		return nil
	})

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"charge_id": chargeID.String(),
			"user_id":   userID,
		}).WithError(err).Warn("[REFUND] reversal failed, left pending")
		s.metrics.Refund("failed")
		s.audit.LogError(chargeID.String(), userID, "REFUND", err)

		if markErr := s.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.MarkRefundFailed(ctx, chargeID, err.Error())
		}); markErr != nil {
			logrus.WithField("charge_id", chargeID.String()).WithError(markErr).Error("[REFUND] could not record failure")
		}
		return nil, err
	}
	if skipped {
		return nil, nil
	}

	s.metrics.Refund("applied")
	s.audit.LogOperation(chargeID.String(), userID, "REFUND", amount, nil)
	return result, nil
}

// RetryPendingRefunds applies up to limit pending refunds and returns how
// many were applied. Refunds that failed maxAttempts times are left for
// manual review.
func (s *PaymentService) RetryPendingRefunds(ctx context.Context, limit, maxAttempts int) (int, error) {
	pending, err := s.store.ListPendingRefunds(ctx, limit)
	if err != nil {
		return 0, persistenceError("list pending refunds", err)
	}
	s.metrics.PendingRefunds(len(pending))

	applied := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			logrus.WithFields(logrus.Fields{
				"charge_id": rec.ChargeID.String(),
				"attempts":  rec.Attempts,
			}).Warn("[REFUND] giving up on automatic retry")
			continue
		}
		if b, err := s.applyRefund(ctx, rec.ChargeID); err == nil && b != nil {
			applied++
		} else if err != nil && errors.Is(err, context.Canceled) {
			return applied, err
		}
	}
	return applied, nil
}
