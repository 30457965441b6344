package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/civicdrive/backend/internal/config"
	"github.com/civicdrive/backend/internal/middleware"
	"github.com/civicdrive/backend/internal/services"
	"github.com/civicdrive/backend/internal/store/memory"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type testServer struct {
	router   http.Handler
	store    *memory.Store
	payments *services.PaymentService
}

// withTestIdentity stands in for the JWT middleware: X-Test-User and X-Test-Role.
func withTestIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-Test-User"), 10, 64)
		if err == nil {
			r = r.WithContext(middleware.WithIdentity(r.Context(), id, r.Header.Get("X-Test-Role")))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	st.SetClock(func() time.Time { return testNow })
	policy := services.NewLoanPolicy(config.DefaultLoanPolicyConfig())
	payments := services.NewPaymentService(st, policy, services.WithClock(func() time.Time { return testNow }))
	customers := services.NewCustomerService(st, policy)
	receipts := services.NewReceiptService(customers, nil)

	ledger := NewLedgerHandler(payments, customers, receipts)
	payment := NewPaymentHandler(payments)
	customer := NewCustomerHandler(customers)

	r := chi.NewRouter()
	r.Use(withTestIdentity)
	r.Get("/ledger/balance", ledger.GetBalance)
	r.Get("/ledger/transactions", ledger.GetTransactions)
	r.Get("/ledger/transactions/{id}", ledger.GetTransaction)
	r.Get("/ledger/transactions/{id}/receipt", ledger.GetReceipt)
	r.Get("/ledger/limit", ledger.GetBorrowLimit)
	r.Get("/ledger/affordability", ledger.CheckAffordability)
	r.Get("/ledger/deposit/preview", ledger.PreviewDeposit)
	r.Post("/ledger/deposit", ledger.Deposit)
	r.Post("/ledger/withdraw", ledger.Withdraw)
	r.Post("/ledger/transfer", ledger.Transfer)
	r.Post("/ledger/borrow", ledger.Borrow)
	r.Post("/ledger/use", ledger.Use)
	r.Post("/ledger/repay", ledger.Repay)
	r.Post("/payments/{kind}", payment.Charge)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.StaffRoles...))
		r.Post("/payments/refund", payment.Refund)
		r.Post("/admin/deposit", ledger.AdminDeposit)
		r.Get("/receipts/{code}", ledger.VerifyReceipt)
		r.Get("/customers/balance", customer.GetCustomerBalance)
		r.Get("/customers/balances", customer.SearchBalances)
		r.Get("/customers/transactions", customer.GetCustomerTransactions)
		r.Get("/customers/{userID}/balance", customer.GetCustomerBalanceByID)
	})

	return &testServer{router: r, store: st, payments: payments}
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set("X-Test-User", strconv.FormatInt(userID, 10))
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.True(t, env.Success)
	return env.Data
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) services.ErrorResponse {
	t.Helper()
	var resp services.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}
