package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Webhooks  *prometheus.CounterVec
	Checkouts *prometheus.CounterVec
	Receipts  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "webhook_events_total",
			Help:      "Payment notifications by reconciliation outcome.",
		}, []string{"outcome"}),
		Checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		Receipts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "receipts_total",
			Help:      "Order-paid events handled by the receipts worker.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Checkout(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

func (m *Metrics) Receipt(result string) {
	if m == nil {
		return
	}
	m.Receipts.WithLabelValues(result).Inc()
}

// Middleware counts requests per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
