package handlers

import (
	"net/http"
	"strconv"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

// LedgerHandler serves a user's own balance, credit line and transfers.
type LedgerHandler struct {
	payments  *services.PaymentService
	customers *services.CustomerService
	receipts  *services.ReceiptService
	validator *services.ValidationHelper
}

func NewLedgerHandler(payments *services.PaymentService, customers *services.CustomerService, receipts *services.ReceiptService) *LedgerHandler {
	return &LedgerHandler{
		payments:  payments,
		customers: customers,
		receipts:  receipts,
		validator: services.NewValidationHelper(),
	}
}

type amountRequest struct {
	Amount      models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"number" example:"12.50"`
	Description string       `json:"description" validate:"max=255"`
}

type loanRequest struct {
	Amount  models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"number" example:"5.00"`
	Purpose string       `json:"purpose" validate:"max=255"`
}

type repayRequest struct {
	Amount models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"number" example:"6.25"`
}

type transferRequest struct {
	ToUserID    int64        `json:"to_user_id" validate:"required,gt=0"`
	Amount      models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"number" example:"3.00"`
	Description string       `json:"description" validate:"max=255"`
}

type adminDepositRequest struct {
	UserID      int64        `json:"user_id" validate:"required,gt=0"`
	Amount      models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"number" example:"20.00"`
	Description string       `json:"description" validate:"max=255"`
}

// GetBalance returns the caller's balance
// @Summary Get balance
// @Description Get the caller's available, loan and total balance
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,data=models.Balance}
// @Failure 401 {object} services.ErrorResponse
// @Router /ledger/balance [get]
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	balance, err := h.customers.Balance(r.Context(), userID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// GetTransactions lists the caller's ledger entries
// @Summary List transactions
// @Description List the caller's ledger entries, newest first
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries (default 100, max 500)"
// @Success 200 {object} object{success=bool,data=[]models.LoanTransaction}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/transactions [get]
func (h *LedgerHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		services.SendErrorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest, nil)
		return
	}

	txs, err := h.customers.Transactions(r.Context(), userID, limit)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetTransaction returns one of the caller's ledger entries
// @Summary Get transaction
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction ID"
// @Success 200 {object} object{success=bool,data=models.LoanTransaction}
// @Failure 404 {object} services.ErrorResponse
// @Router /ledger/transactions/{id} [get]
func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	t, err := h.customers.Transaction(r.Context(), userID, id)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetReceipt issues a QR proof of payment for a transaction
// @Summary Get receipt
// @Description Generate a QR receipt that enforcement staff can verify
// @Tags Receipts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction ID"
// @Success 200 {object} object{success=bool,data=services.Receipt}
// @Failure 404 {object} services.ErrorResponse
// @Router /ledger/transactions/{id}/receipt [get]
func (h *LedgerHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	receipt, err := h.receipts.Generate(r.Context(), userID, id)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// VerifyReceipt checks a scanned receipt code
// @Summary Verify receipt
// @Tags Receipts
// @Produce json
// @Security BearerAuth
// @Param code path string true "Receipt code"
// @Success 200 {object} object{success=bool,data=services.ReceiptPayload}
// @Failure 404 {object} services.ErrorResponse
// @Router /receipts/{code} [get]
func (h *LedgerHandler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	payload, err := h.receipts.Verify(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// GetBorrowLimit returns the caller's credit line
// @Summary Get borrow limit
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,data=services.BorrowLimit}
// @Router /ledger/limit [get]
func (h *LedgerHandler) GetBorrowLimit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, err := h.payments.BorrowLimit(r.Context(), userID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

// CheckAffordability reports whether a charge would succeed
// @Summary Check affordability
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param amount query string true "Amount in dollars, e.g. 12.50"
// @Success 200 {object} object{success=bool,data=services.Affordability}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/affordability [get]
func (h *LedgerHandler) CheckAffordability(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	amount, err := models.ParseCents(r.URL.Query().Get("amount"))
	if err != nil {
		services.SendErrorResponse(w, "amount must be a dollar amount with at most two decimals", http.StatusBadRequest, nil)
		return
	}

	result, err := h.payments.CheckAffordability(r.Context(), userID, amount)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PreviewDeposit shows how a cash load would be split without performing it
// @Summary Preview cash load
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param amount query string true "Amount in dollars, e.g. 12.50"
// @Success 200 {object} object{success=bool,data=services.DepositPreview}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/deposit/preview [get]
func (h *LedgerHandler) PreviewDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	amount, err := models.ParseCents(r.URL.Query().Get("amount"))
	if err != nil {
		services.SendErrorResponse(w, "amount must be a dollar amount with at most two decimals", http.StatusBadRequest, nil)
		return
	}

	preview, err := h.payments.PreviewDeposit(r.Context(), userID, amount)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// Deposit loads cash, paying any outstanding loan first
// @Summary Load cash
// @Description Deposit funds. Outstanding debt is repaid before the remainder is credited.
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Replay protection key"
// @Param request body amountRequest true "Deposit request"
// @Success 200 {object} object{success=bool,data=services.DepositResult}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/deposit [post]
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	result, err := h.payments.LoadCash(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AdminDeposit loads cash on behalf of a customer
// @Summary Load cash for a customer
// @Tags Staff
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body adminDepositRequest true "Deposit request"
// @Success 200 {object} object{success=bool,data=services.DepositResult}
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/deposit [post]
func (h *LedgerHandler) AdminDeposit(w http.ResponseWriter, r *http.Request) {
	var req adminDepositRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	result, err := h.payments.LoadCash(r.Context(), req.UserID, req.Amount, req.Description)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Withdraw debits the available balance
// @Summary Withdraw
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body amountRequest true "Withdrawal request"
// @Success 200 {object} object{success=bool,data=services.OperationResult}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/withdraw [post]
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	result, err := h.payments.Withdraw(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Transfer moves available balance to another user
// @Summary Transfer
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body transferRequest true "Transfer request"
// @Success 200 {object} object{success=bool,data=services.TransferResult}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/transfer [post]
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	result, err := h.payments.Transfer(r.Context(), userID, req.ToUserID, req.Amount, req.Description)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Borrow extends the caller's credit line
// @Summary Borrow
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body loanRequest true "Borrow request"
// @Success 200 {object} object{success=bool,data=services.OperationResult}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/borrow [post]
func (h *LedgerHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req loanRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	result, err := h.payments.Borrow(r.Context(), userID, req.Amount, req.Purpose)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Use draws on previously borrowed funds
// @Summary Use borrowed funds
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body loanRequest true "Use request"
// @Success 200 {object} object{success=bool,data=services.OperationResult}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/use [post]
func (h *LedgerHandler) Use(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req loanRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	result, err := h.payments.Use(r.Context(), userID, req.Amount, req.Purpose)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Repay pays down the loan from the available balance
// @Summary Repay loan
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body repayRequest true "Repay request"
// @Success 200 {object} object{success=bool,data=services.OperationResult}
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/repay [post]
func (h *LedgerHandler) Repay(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req repayRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	result, err := h.payments.Repay(r.Context(), userID, req.Amount)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
