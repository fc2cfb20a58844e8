package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/karipay/toyyibpay-bridge/internal/config"
)

// Metrics exposes application-level instruments for the payment bridge.
type Metrics struct {
	billsCreated    *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	providerErrors  *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// NewRegistry builds the process registry with the standard collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// New configures the bridge instruments on the given registerer.
func New(cfg config.Config, registry *prometheus.Registry) (*Metrics, error) {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "toyyibpay-bridge"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	billsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bridge_bills_created_total",
		Help:        "Bills created on ToyyibPay by environment mode.",
		ConstLabels: constLabels,
	}, []string{"mode"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bridge_callbacks_total",
		Help:        "Provider payment callbacks by processing result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bridge_transaction_transitions_total",
		Help:        "Transaction status transitions applied to storage.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bridge_upstream_notifications_total",
		Help:        "Payment status events delivered upstream by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	providerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bridge_provider_errors_total",
		Help:        "Provider API failures by operation.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	providerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "bridge_provider_request_duration_seconds",
		Help:        "Provider API request latency by operation.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"operation"})

	for _, c := range []prometheus.Collector{
		billsCreated, callbacks, transitions, notifications, providerErrors, providerLatency,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Metrics{
		billsCreated:    billsCreated,
		callbacks:       callbacks,
		transitions:     transitions,
		notifications:   notifications,
		providerErrors:  providerErrors,
		providerLatency: providerLatency,
	}, nil
}

// RecordBillCreated increments bill creation counts for a mode.
func (m *Metrics) RecordBillCreated(mode string) {
	if m == nil {
		return
	}
	m.billsCreated.WithLabelValues(strings.TrimSpace(mode)).Inc()
}

// RecordCallback increments callback counts by result (applied, duplicate,
// rejected, unknown).
func (m *Metrics) RecordCallback(result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(strings.TrimSpace(result)).Inc()
}

// RecordTransition increments transition counts for a status change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(strings.TrimSpace(from), strings.TrimSpace(to)).Inc()
}

// RecordNotification increments upstream delivery counts by outcome (delivered, failed).
func (m *Metrics) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(strings.TrimSpace(outcome)).Inc()
}

// RecordProviderError increments provider failure counts for an operation.
func (m *Metrics) RecordProviderError(operation string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(strings.TrimSpace(operation)).Inc()
}

// ObserveProviderLatency records provider request latency in seconds.
func (m *Metrics) ObserveProviderLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(strings.TrimSpace(operation)).Observe(seconds)
}
