package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationVolume   *prometheus.CounterVec
	loanFallbacks     *prometheus.CounterVec
	interestCharged   prometheus.Counter
	refundsTotal      *prometheus.CounterVec
	refundsPending    prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by name and outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Ledger operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		operationVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operation_volume_cents_total",
			Help: "Money moved by successful ledger operations, in cents",
		}, []string{"operation"}),
		loanFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_loan_fallbacks_total",
			Help: "Charges that were funded partly or fully by the credit line",
		}, []string{"kind"}),
		interestCharged: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_interest_charged_cents_total",
			Help: "Interest recognised on used borrowed principal, in cents",
		}),
		refundsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_refunds_total",
			Help: "Refund attempts by result",
		}, []string{"result"}),
		refundsPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_refunds_pending",
			Help: "Pending refunds seen by the last sweep",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveOperation(operation, outcome string, amount models.Cents, d time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
	if outcome == "success" && amount > 0 {
		m.operationVolume.WithLabelValues(operation).Add(float64(amount))
	}
}

func (m *Metrics) LoanFallback(kind models.PaymentKind, interest models.Cents) {
	if m == nil {
		return
	}
	m.loanFallbacks.WithLabelValues(string(kind)).Inc()
	if interest > 0 {
		m.interestCharged.Add(float64(interest))
	}
}

func (m *Metrics) Refund(result string) {
	if m == nil {
		return
	}
	m.refundsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) PendingRefunds(n int) {
	if m == nil {
		return
	}
	m.refundsPending.Set(float64(n))
}

// Middleware records request counts and latency keyed by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
