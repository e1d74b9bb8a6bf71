package client

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/ethrpc/correlation"
	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/metrics"
	"github.com/blocknative/ethrpc/request"
	"github.com/blocknative/ethrpc/schema"
	"github.com/blocknative/ethrpc/transport"
)

type Metrics struct {
	Calls          *prometheus.CounterVec
	Latency        *prometheus.HistogramVec
	InvalidResults *prometheus.CounterVec
	Stray          *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	Disconnects    prometheus.Counter
	Pending        prometheus.GaugeFunc
}

func (c *Client) initMetrics() {
	labels := prometheus.Labels{"endpoint": c.ch.Endpoint(), "client": c.id}

	c.m.Calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "client",
		Name:        "calls",
		Help:        "Number of calls by method and result",
		ConstLabels: labels,
	}, []string{"method", "result"})

	c.m.Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "client",
		Name:        "latency",
		Help:        "Time from registration to completion (seconds)",
		ConstLabels: labels,
	}, []string{"method"})

	c.m.InvalidResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "client",
		Name:        "invalidResults",
		Help:        "Number of results that failed validation against the method's result",
		ConstLabels: labels,
	}, []string{"method"})

	c.m.Stray = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "client",
		Name:        "strayFrames",
		Help:        "Number of inbound messages that matched no pending call",
		ConstLabels: labels,
	}, []string{"reason"})

	c.m.Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "client",
		Name:        "notifications",
		Help:        "Number of server notifications by method",
		ConstLabels: labels,
	}, []string{"method"})

	c.m.Disconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "client",
		Name:        "disconnects",
		Help:        "Number of link losses that failed pending calls",
		ConstLabels: labels,
	})

	c.m.Pending = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   "client",
		Name:        "pending",
		Help:        "Calls waiting for a response",
		ConstLabels: labels,
	}, func() float64 { return float64(c.table.Len()) })
}

func (c *Client) Metrics() *Metrics {
	return &c.m
}

func (c *Client) AttachMetrics(m *metrics.Metrics) {
	m.Register(c.m.Calls)
	m.Register(c.m.Latency)
	m.Register(c.m.InvalidResults)
	m.Register(c.m.Stray)
	m.Register(c.m.Notifications)
	m.Register(c.m.Disconnects)
	m.Register(c.m.Pending)

	if ch, ok := c.ch.(interface{ AttachMetrics(*metrics.Metrics) }); ok {
		ch.AttachMetrics(m)
	}
}

// observe records a call as it completes, whether or not anyone waits on it.
func (c *Client) observe(p *correlation.PendingCall, o correlation.Outcome) {
	label := "ok"
	switch {
	case o.Error != nil:
		label = "rpc_error"
	case o.Err != nil:
		label = resultLabel(o.Err)
	}
	c.m.Calls.WithLabelValues(p.Method, label).Inc()
	c.m.Latency.WithLabelValues(p.Method).Observe(time.Since(p.Created).Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}

	var (
		rpcErr   *jsonrpc.Error
		arity    *request.ArityError
		invalid  *schema.ValidationError
		linkErr  *transport.Error
		canceled *correlation.CanceledError
	)
	switch {
	case errors.As(err, &rpcErr):
		return "rpc_error"
	case errors.Is(err, correlation.ErrTimeout):
		return "timeout"
	case errors.Is(err, correlation.ErrConnectionLost):
		return "connection_lost"
	case errors.As(err, &canceled):
		return "canceled"
	case errors.As(err, &linkErr):
		return "transport"
	case errors.As(err, &arity), errors.As(err, &invalid):
		return "invalid"
	}
	return "error"
}
