// Package rest provides the inbound REST adapter: the chi router, the
// request middleware chain, metrics, and the health endpoint.
package rest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	PendingCalls    prometheus.Gauge
	SessionEpoch    prometheus.Gauge
	AuditDropsTotal prometheus.CounterFunc
}

// NewMetrics creates and registers all metrics with the given registry.
// auditDrops may be nil when audit is disabled.
func NewMetrics(reg prometheus.Registerer, auditDrops func() float64) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splunk_mcp_bridge",
				Name:      "requests_total",
				Help:      "Total number of REST requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "splunk_mcp_bridge",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PendingCalls: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "splunk_mcp_bridge",
				Name:      "pending_calls",
				Help:      "Number of RPC calls awaiting a reply",
			},
		),
		SessionEpoch: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "splunk_mcp_bridge",
				Name:      "session_epoch",
				Help:      "Current session epoch (increments on each handshake)",
			},
		),
	}
	if auditDrops != nil {
		m.AuditDropsTotal = promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "splunk_mcp_bridge",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
			auditDrops,
		)
	}
	return m
}
