package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Total number of dispatched requests by route and outcome",
	}, []string{"route", "outcome"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Request dispatch duration in seconds by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	SynchronousRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provider_synchronous_rejected_total",
		Help: "Total number of requests rejected on the synchronous surface",
	})

	// Authorization metrics
	AuthorizedAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "provider_authorized_accounts",
		Help: "Number of currently authorized accounts",
	})

	LinkingWindowsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provider_linking_windows_opened_total",
		Help: "Total number of linking windows opened",
	})

	UserDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_user_denials_total",
		Help: "Total number of relay rejections remapped to user denial",
	}, []string{"kind"})

	registerOnce sync.Once
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// RegisterMetrics registers all provider metrics with Prometheus. It is safe
// to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			SynchronousRejectedTotal,
			AuthorizedAccounts,
			LinkingWindowsOpened,
			UserDenialsTotal,
		)
	})
}

// ObserveRequest records one dispatched request.
func ObserveRequest(route string, err error, duration time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	RequestsTotal.WithLabelValues(route, outcome).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
