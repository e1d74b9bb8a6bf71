// Package gethws is a persistent websocket channel that reconnects on loss.
package gethws

import (
	"context"
	"sync"
	"time"

	"github.com/lthibault/log"
	"go.uber.org/atomic"

	"github.com/blocknative/ethrpc/transport"
)

const Kind = "ws"

// ReConn keeps one live Conn to url. Every lost connection is reported to
// the receiver before the next dial, so callers waiting on the old link fail
// instead of hanging.
type ReConn struct {
	l   log.Logger
	url string
	cfg Config
	m   Metrics

	lock sync.RWMutex
	conn *Conn
	recv transport.Receiver

	closed  *atomic.Bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewReConn(l log.Logger, url string, cfg Config) *ReConn {
	rc := &ReConn{
		l:       l.With(log.F{"module": "gethws", "endpoint": url}),
		url:     url,
		cfg:     cfg.withDefaults(),
		recv:    transport.NopReceiver{},
		closed:  atomic.NewBool(false),
		stopped: make(chan struct{}),
	}
	rc.initMetrics()
	return rc
}

// Dial connects once synchronously and then keeps the connection alive in
// the background until Close.
func Dial(ctx context.Context, l log.Logger, url string, cfg Config) (*ReConn, error) {
	rc := NewReConn(l, url, cfg)
	c, err := rc.connect(ctx)
	if err != nil {
		return nil, &transport.Error{Kind: Kind, Endpoint: url, Err: err}
	}

	kctx, cancel := context.WithCancel(context.Background())
	rc.cancel = cancel
	go rc.keepConnection(kctx, c)
	return rc, nil
}

// KeepConnection runs the reconnect loop until ctx is done. Dial already
// starts it; it is exported for callers that build a ReConn themselves.
func (rc *ReConn) KeepConnection(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	rc.lock.Lock()
	rc.cancel = cancel
	rc.lock.Unlock()
	rc.keepConnection(ctx, nil)
}

func (rc *ReConn) keepConnection(ctx context.Context, c *Conn) {
	defer close(rc.stopped)

	for {
		if c == nil {
			var err error
			if c, err = rc.connect(ctx); err != nil {
				rc.l.WithError(err).Warn("error connecting")
				rc.m.Connects.WithLabelValues("error").Inc()
				select {
				case <-ctx.Done():
					rc.receiver().HandleDisconnect(transport.ErrClosed)
					return
				case <-time.After(rc.cfg.RetryInterval):
				}
				continue
			}
		}

		rc.setConn(c)
		rc.m.Connects.WithLabelValues("ok").Inc()
		rc.m.Healthy.Set(1)

		select {
		case <-c.Done:
		case <-ctx.Done():
			c.Close()
			<-c.Done
		}

		rc.setConn(nil)
		rc.m.Healthy.Set(0)
		cause := c.Err()
		rc.l.WithError(cause).Info("connection lost")
		rc.receiver().HandleDisconnect(cause)

		if ctx.Err() != nil {
			return
		}
		c = nil
	}
}

func (rc *ReConn) connect(ctx context.Context) (*Conn, error) {
	c := NewConn(rc.l, rc.cfg, rc.deliver, rc.sendFailed)
	if err := c.Connect(ctx, rc.url); err != nil {
		return nil, err
	}
	return c, nil
}

func (rc *ReConn) Attach(r transport.Receiver) {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	rc.recv = r
}

func (rc *ReConn) Send(ctx context.Context, frame []byte) error {
	if rc.closed.Load() {
		return &transport.Error{Kind: Kind, Endpoint: rc.url, Err: transport.ErrClosed}
	}

	c, err := rc.Get()
	if err != nil {
		return &transport.Error{Kind: Kind, Endpoint: rc.url, Err: err}
	}
	if err := c.Enqueue(ctx, frame); err != nil {
		return &transport.Error{Kind: Kind, Endpoint: rc.url, Err: err}
	}
	return nil
}

// Get returns the live connection.
func (rc *ReConn) Get() (*Conn, error) {
	rc.lock.RLock()
	defer rc.lock.RUnlock()

	if rc.conn == nil || !rc.conn.Healthy() {
		return nil, transport.ErrConnectionFailure
	}
	return rc.conn, nil
}

func (rc *ReConn) Kind() string {
	return Kind
}

func (rc *ReConn) Endpoint() string {
	return rc.url
}

// Close stops reconnecting, closes the live connection and waits until the
// receiver has been told about it.
func (rc *ReConn) Close() error {
	if !rc.closed.CompareAndSwap(false, true) {
		return nil
	}

	rc.lock.RLock()
	cancel := rc.cancel
	rc.lock.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-rc.stopped
	return nil
}

func (rc *ReConn) setConn(c *Conn) {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	rc.conn = c
}

func (rc *ReConn) receiver() transport.Receiver {
	rc.lock.RLock()
	defer rc.lock.RUnlock()
	return rc.recv
}

func (rc *ReConn) deliver(frame []byte) {
	rc.receiver().HandleFrame(frame)
}

func (rc *ReConn) sendFailed(frame []byte, err error) {
	rc.receiver().HandleSendFailure(frame, &transport.Error{Kind: Kind, Endpoint: rc.url, Err: err})
}
