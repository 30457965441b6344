package handlers

import (
	"net/http"

	"github.com/civicdrive/backend/internal/middleware"
	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

// PaymentHandler charges municipal services and reverses charges.
type PaymentHandler struct {
	payments  *services.PaymentService
	validator *services.ValidationHelper
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		validator: services.NewValidationHelper(),
	}
}

type chargeRequest struct {
	// UserID charges another customer. Staff only.
	UserID  int64        `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	Amount  models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"number" example:"15.00"`
	Purpose string       `json:"purpose" validate:"max=255"`
}

// Charge pays a ticket, toll or parking fee, borrowing if needed
// @Summary Charge a municipal service
// @Description Pay from the available balance, falling back to the credit line up to the loan cap.
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param kind path string true "ticket, toll, parking or generic"
// @Param Idempotency-Key header string false "Replay protection key"
// @Param request body chargeRequest true "Charge request"
// @Success 200 {object} object{success=bool,data=services.ChargeResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /payments/{kind} [post]
func (h *PaymentHandler) Charge(w http.ResponseWriter, r *http.Request) {
	callerID, ok := currentUser(w, r)
	if !ok {
		return
	}
	kind := models.PaymentKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		services.SendErrorResponse(w, "Unknown payment kind", http.StatusNotFound, nil)
		return
	}

	var req chargeRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	userID := callerID
	if req.UserID != 0 && req.UserID != callerID {
		if !middleware.IsStaff(r.Context()) {
			services.SendErrorResponse(w, "Insufficient permissions", http.StatusForbidden, nil)
			return
		}
		userID = req.UserID
	}

	result, err := h.payments.Charge(r.Context(), userID, kind, req.Amount, req.Purpose)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Refund reverses a charge from its receipt
// @Summary Refund a charge
// @Description Reverse a charge exactly as its receipt describes. A pending refund is retried in the background.
// @Tags Staff
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.ChargeReceipt true "Receipt returned by the charge"
// @Success 200 {object} object{success=bool,data=services.RefundResult}
// @Success 202 {object} object{success=bool,data=services.RefundResult}
// @Failure 400 {object} services.ErrorResponse
// @Router /payments/refund [post]
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var receipt models.ChargeReceipt
	if !decodeBody(w, r, h.validator, &receipt) {
		return
	}

	result, err := h.payments.Refund(r.Context(), receipt)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	status := http.StatusOK
	if result.Status == models.RefundPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}
