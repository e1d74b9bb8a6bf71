package fallback

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/ethrpc/metrics"
)

type Metrics struct {
	ServedFrom *prometheus.CounterVec
}

func (f *Fallback) initMetrics() {
	f.m.ServedFrom = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "fallback",
		Name:      "requestSource",
		Help:      "Number of calls served by transport kind and node",
	}, []string{"kind", "node", "result"})
}

func (f *Fallback) AttachMetrics(m *metrics.Metrics) {
	m.Register(f.m.ServedFrom)
}
