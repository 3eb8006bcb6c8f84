package sendernet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinugawade/sender.net/pkg/clients"
)

// Metrics holds the optional Prometheus collectors for API calls.
// A nil *Metrics or nil field is a no-op.
type Metrics struct {
	Requests     *prometheus.CounterVec   // labels: operation, status
	Duration     *prometheus.HistogramVec // labels: operation
	CircuitState *prometheus.GaugeVec     // labels: name
}

func (m *Metrics) IncRequest(operation, status string) {
	if m == nil || m.Requests == nil {
		return
	}
	m.Requests.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil || m.Duration == nil {
		return
	}
	m.Duration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordCircuitState matches clients.CircuitBreakerConfig.OnStateChange.
// Values: 0=closed, 1=half-open, 2=open
func (m *Metrics) RecordCircuitState(name string, _, to clients.CircuitBreakerState) {
	if m == nil || m.CircuitState == nil {
		return
	}
	m.CircuitState.WithLabelValues(name).Set(float64(to))
}
