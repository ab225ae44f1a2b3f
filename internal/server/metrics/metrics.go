// Package metrics exposes Prometheus instruments for the server. Each Metrics
// value owns its registry so tests and multiple servers never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "fermentstation"

// Login outcomes.
const (
	LoginSuccess = "success"
	LoginFailed  = "failed"
	LoginLocked  = "locked"
)

type Metrics struct {
	registry *prometheus.Registry

	LoginAttempts   *prometheus.CounterVec
	SessionsIssued  prometheus.Counter
	ResetRequests   prometheus.Counter
	ResetsCompleted prometheus.Counter
	HarvestSent     prometheus.Counter
	ExternalErrors  *prometheus.CounterVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),

		SessionsIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_issued_total",
			Help:      "Sessions opened after a successful login.",
		}),

		ResetRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_reset_requests_total",
			Help:      "Accepted \"forgot password\" submissions.",
		}),

		ResetsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_completed_total",
			Help:      "Passwords changed through a reset link.",
		}),

		HarvestSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvest_sheets_sent_total",
			Help:      "Pickup requests mailed to carriers.",
		}),

		ExternalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_errors_total",
			Help:      "Failed calls to outside services, by service.",
		}, []string{"service"}),

		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// ObserveRequest records one served request. path should be the route
// template, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Login records a login outcome.
func (m *Metrics) Login(result string) {
	m.LoginAttempts.WithLabelValues(result).Inc()
	if result == LoginSuccess {
		m.SessionsIssued.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
