// Package metrics provides Prometheus instrumentation for the fund engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/supply"
)

var (
	// TransitionsTotal counts submitted transitions by kind and result.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundcore_transitions_total",
		Help: "Submitted transitions by kind and result",
	}, []string{"kind", "result"})

	ValidationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundcore_validation_duration_seconds",
		Help:    "Time spent resolving and validating a transition",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"kind"})

	// TokensOutstanding tracks the fund token supply recorded in the supply cell.
	TokensOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundcore_tokens_outstanding",
		Help: "Fund tokens in circulation",
	})

	LovelaceHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundcore_lovelace_held",
		Help: "Lovelace held by the fund",
	})

	VouchersOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundcore_vouchers_outstanding",
		Help: "Vouchers issued in the open success fee period",
	})

	// PeriodID is the open success fee period.
	PeriodID = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundcore_success_fee_period",
		Help: "Open success fee period id",
	})

	PeriodEndsIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundcore_success_fee_period_ends_in_seconds",
		Help: "Seconds until the open success fee period can be closed (negative when overdue)",
	})

	// ManagementFeeDue is the dilution a management fee collection would mint now.
	ManagementFeeDue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundcore_management_fee_due_tokens",
		Help: "Fund tokens a management fee collection would mint now",
	})

	TokenPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundcore_token_price",
		Help: "Last published fund token price",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundcore_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundcore_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSupply publishes the counters held by a supply cell and the
// management fee accrued by now.
func ObserveSupply(s supply.Supply, fee protocol.ManagementFee, now time.Time) {
	TokensOutstanding.Set(float64(s.NTokens))
	LovelaceHeld.Set(float64(s.NLovelace))
	VouchersOutstanding.Set(float64(s.NVouchers))
	PeriodID.Set(float64(s.SuccessFee.PeriodID))
	PeriodEndsIn.Set(s.PeriodEnd().Sub(now).Seconds())
	if due, err := s.ManagementFeeDilution(fee, now); err == nil {
		ManagementFeeDue.Set(float64(due))
	}
}

// ObserveFeed publishes the price feed value.
func ObserveFeed(f price.Feed) {
	v, _ := f.Value.Decimal(8).Float64()
	TokenPrice.Set(v)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
