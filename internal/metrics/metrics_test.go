package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOperation("charge", "success", 1500, 10*time.Millisecond)
	m.ObserveOperation("charge", "declined", 1500, time.Millisecond)
	m.LoanFallback("toll", 375)
	m.Refund("applied")
	m.PendingRefunds(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("charge", "success")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.operationVolume.WithLabelValues("charge")))
	assert.Equal(t, 375.0, testutil.ToFloat64(m.interestCharged))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.refundsPending))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("charge", "success", 1, time.Second)
		m.LoanFallback("toll", 1)
		m.Refund("failed")
		m.PendingRefunds(1)
	})
}

func TestMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/ledger/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger/9", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/ledger/{id}", "418")))

	rec = httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
