package handlers

import (
	"net/http"
	"strconv"

	"github.com/civicdrive/backend/internal/models"
	"github.com/civicdrive/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

// CustomerHandler serves the staff lookups used by registry, police and parking clerks.
type CustomerHandler struct {
	customers *services.CustomerService
	validator *services.ValidationHelper
}

func NewCustomerHandler(customers *services.CustomerService) *CustomerHandler {
	return &CustomerHandler{
		customers: customers,
		validator: services.NewValidationHelper(),
	}
}

func (h *CustomerHandler) lookup(w http.ResponseWriter, r *http.Request) (models.CustomerLookup, bool) {
	q := r.URL.Query()
	var lookup models.CustomerLookup
	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			services.SendErrorResponse(w, "user_id must be an integer", http.StatusBadRequest, nil)
			return lookup, false
		}
		lookup.UserID = id
	}
	lookup.Username = q.Get("username")
	lookup.Email = q.Get("email")

	if err := h.validator.ValidateStruct(&lookup); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return lookup, false
	}
	return lookup, true
}

// GetCustomerBalance looks up a customer's balance
// @Summary Customer balance
// @Description Look up a balance by user_id, username or email
// @Tags Staff
// @Produce json
// @Security BearerAuth
// @Param user_id query int false "User ID"
// @Param username query string false "Username"
// @Param email query string false "Email"
// @Success 200 {object} object{success=bool,data=models.CustomerBalance}
// @Failure 404 {object} services.ErrorResponse
// @Router /customers/balance [get]
func (h *CustomerHandler) GetCustomerBalance(w http.ResponseWriter, r *http.Request) {
	lookup, ok := h.lookup(w, r)
	if !ok {
		return
	}

	balance, err := h.customers.CustomerBalance(r.Context(), lookup)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// GetCustomerBalanceByID looks up a customer's balance by path id
// @Summary Customer balance by ID
// @Tags Staff
// @Produce json
// @Security BearerAuth
// @Param userID path int true "User ID"
// @Success 200 {object} object{success=bool,data=models.CustomerBalance}
// @Failure 404 {object} services.ErrorResponse
// @Router /customers/{userID}/balance [get]
func (h *CustomerHandler) GetCustomerBalanceByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	balance, err := h.customers.CustomerBalance(r.Context(), models.CustomerLookup{UserID: id})
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// GetCustomerTransactions lists a customer's ledger
// @Summary Customer transactions
// @Tags Staff
// @Produce json
// @Security BearerAuth
// @Param user_id query int false "User ID"
// @Param username query string false "Username"
// @Param email query string false "Email"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} object{success=bool,data=object{customer=models.Customer,transactions=[]models.LoanTransaction}}
// @Failure 404 {object} services.ErrorResponse
// @Router /customers/transactions [get]
func (h *CustomerHandler) GetCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	lookup, ok := h.lookup(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		services.SendErrorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest, nil)
		return
	}

	customer, txs, err := h.customers.CustomerTransactions(r.Context(), lookup, limit)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer":     customer,
		"transactions": txs,
	})
}

// SearchBalances lists customer balances with optional filters
// @Summary Search balances
// @Tags Staff
// @Produce json
// @Security BearerAuth
// @Param min_balance query string false "Minimum total balance in dollars"
// @Param max_balance query string false "Maximum total balance in dollars"
// @Param has_loan query bool false "Only customers with (or without) a loan"
// @Param skip query int false "Rows to skip"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} object{success=bool,data=[]models.CustomerBalance}
// @Failure 400 {object} services.ErrorResponse
// @Router /customers/balances [get]
func (h *CustomerHandler) SearchBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.BalanceFilter

	for name, dst := range map[string]**models.Cents{
		"min_balance": &filter.MinBalance,
		"max_balance": &filter.MaxBalance,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		c, err := models.ParseCents(raw)
		if err != nil {
			services.SendErrorResponse(w, name+" must be a dollar amount", http.StatusBadRequest, nil)
			return
		}
		*dst = &c
	}

	if raw := q.Get("has_loan"); raw != "" {
		hasLoan, err := strconv.ParseBool(raw)
		if err != nil {
			services.SendErrorResponse(w, "has_loan must be true or false", http.StatusBadRequest, nil)
			return
		}
		filter.HasLoan = &hasLoan
	}

	var ok bool
	if filter.Skip, ok = queryInt(r, "skip"); !ok {
		services.SendErrorResponse(w, "skip must be a non-negative integer", http.StatusBadRequest, nil)
		return
	}
	if filter.Limit, ok = queryInt(r, "limit"); !ok {
		services.SendErrorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest, nil)
		return
	}

	balances, err := h.customers.SearchBalances(r.Context(), filter)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}
