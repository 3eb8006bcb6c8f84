package handlers

import "github.com/prometheus/client_golang/prometheus"

type FormMetrics struct {
	SettingsRequests  *prometheus.CounterVec
	SubscribeRequests *prometheus.CounterVec
}

func (m *FormMetrics) IncSettings(status string) {
	if m == nil || m.SettingsRequests == nil {
		return
	}

	m.SettingsRequests.WithLabelValues(status).Inc()
}

func (m *FormMetrics) IncSubscribe(status string) {
	if m == nil || m.SubscribeRequests == nil {
		return
	}

	m.SubscribeRequests.WithLabelValues(status).Inc()
}
