package gethws

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/ethrpc/metrics"
)

type Metrics struct {
	Connects *prometheus.CounterVec
	Healthy  prometheus.Gauge
}

func (rc *ReConn) initMetrics() {
	rc.m.Connects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "ws",
		Name:        "connects",
		Help:        "Number of websocket connection attempts by result",
		ConstLabels: prometheus.Labels{"endpoint": rc.url},
	}, []string{"result"})

	rc.m.Healthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "ws",
		Name:        "healthy",
		Help:        "Whether the websocket link is up",
		ConstLabels: prometheus.Labels{"endpoint": rc.url},
	})
}

func (rc *ReConn) AttachMetrics(m *metrics.Metrics) {
	m.Register(rc.m.Connects)
	m.Register(rc.m.Healthy)
}
