// Package metrics holds the Prometheus instruments of the gate.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks the login flow, session refreshes, XSRF rejections and the
// calls to the registry and the CRM.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	LoginsStarted    prometheus.Counter
	Callbacks        *prometheus.CounterVec
	Refreshes        *prometheus.CounterVec
	XSRFRejections   prometheus.Counter
	Links            *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	Sessions         prometheus.Gauge
}

// New creates the instruments on a fresh registry. Each call gets its own
// registry, so a configuration reload can rebuild the gate without
// duplicate registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LoginsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "bsnlink_logins_started_total",
			Help: "Total number of login redirects to the OIDC provider",
		}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bsnlink_auth_callbacks_total",
			Help: "OIDC callbacks by result (success, rejected, error)",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bsnlink_session_refreshes_total",
			Help: "Token refreshes by result (success, conflict, error)",
		}, []string{"result"}),
		XSRFRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "bsnlink_xsrf_rejections_total",
			Help: "State-changing requests rejected for a missing or wrong XSRF token",
		}),
		Links: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bsnlink_links_total",
			Help: "CRM link attempts by result (success, error)",
		}, []string{"result"}),
		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bsnlink_upstream_duration_seconds",
			Help:    "Duration of calls to the OIDC provider, the registry and the CRM",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"upstream"}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "bsnlink_sessions",
			Help: "Live session records in the session store, sampled on scrape",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncLoginStarted records a redirect to the authorization endpoint.
func (m *Metrics) IncLoginStarted() {
	if m == nil {
		return
	}
	m.LoginsStarted.Inc()
}

// IncCallback records the outcome of an OIDC callback.
func (m *Metrics) IncCallback(result string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(result).Inc()
}

// IncRefresh records the outcome of a token refresh.
func (m *Metrics) IncRefresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

// IncXSRFRejection records a rejected state-changing request.
func (m *Metrics) IncXSRFRejection() {
	if m == nil {
		return
	}
	m.XSRFRejections.Inc()
}

// IncLink records the outcome of a CRM link.
func (m *Metrics) IncLink(result string) {
	if m == nil {
		return
	}
	m.Links.WithLabelValues(result).Inc()
}

// ObserveUpstream records the duration of an outbound call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveUpstream(upstream string, start time.Time) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(upstream).Observe(time.Since(start).Seconds())
}

// SetSessions records the number of live session records.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}
