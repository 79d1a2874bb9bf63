package ftp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's Prometheus collectors. Each Server owns a private
// registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Replies        *prometheus.CounterVec
	BusyRejections prometheus.Counter
	Sessions       prometheus.Gauge
	Bytes          *prometheus.CounterVec
}

// NewMetrics creates and registers the server collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicefs",
			Subsystem: "ftp",
			Name:      "replies_total",
			Help:      "Control replies sent, by command and status code",
		}, []string{"command", "code"}),
		BusyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicefs",
			Subsystem: "ftp",
			Name:      "busy_rejections_total",
			Help:      "Command lines rejected because another command was executing",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devicefs",
			Subsystem: "ftp",
			Name:      "sessions",
			Help:      "Live command sessions",
		}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicefs",
			Subsystem: "ftp",
			Name:      "transfer_bytes_total",
			Help:      "File bytes moved over data channels, by direction",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(m.Replies, m.BusyRejections, m.Sessions, m.Bytes)
	return m
}

// Registry returns the registry holding the server collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
