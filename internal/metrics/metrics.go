// Package metrics counts refreshes, retries and request outcomes. A nil
// *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "auth_client"

// Refresh results.
const (
	RefreshSuccess     = "success"
	RefreshExpired     = "expired"
	RefreshUnavailable = "unavailable"
)

// Request outcomes.
const (
	OutcomeOK                 = "ok"
	OutcomeClientError        = "client_error"
	OutcomeServerUnavailable  = "server_unavailable"
	OutcomeNetworkUnavailable = "network_unavailable"
	OutcomeSessionExpired     = "session_expired"
	OutcomeCancelled          = "cancelled"
)

type Metrics struct {
	Refreshes *prometheus.CounterVec
	Retries   prometheus.Counter
	Requests  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Network calls to the refresh endpoint, by result.",
		}, []string{"result"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Requests re-sent after a 5xx response.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent through the pipeline, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Refreshes, m.Retries, m.Requests)
	}
	return m
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}
