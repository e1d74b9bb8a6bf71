// Package client is the call surface: it validates arguments against a
// catalog, sends requests over a transport channel and hands back decoded
// results or typed errors.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/log"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/blocknative/ethrpc/correlation"
	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/request"
	"github.com/blocknative/ethrpc/response"
	"github.com/blocknative/ethrpc/schema"
	"github.com/blocknative/ethrpc/transport"
)

var ErrClosed = errors.New("client closed")

type Client struct {
	id  string
	cat *schema.Catalog
	ch  transport.Channel

	table   *correlation.Table
	builder *request.Builder
	decoder *response.Decoder

	l        log.Logger
	timeout  time.Duration
	limiter  *rate.Limiter
	onNotify NotificationHandler

	// build, register and send happen under sendMu so frames leave in id order
	sendMu sync.Mutex
	closed *atomic.Bool

	m Metrics
}

// New attaches a client to ch. The channel must not be shared with another
// client.
func New(cat *schema.Catalog, ch transport.Channel, opts ...Option) *Client {
	o := buildOptions(opts)
	id := uuid.NewString()
	l := o.l.With(log.F{"module": "client", "client": id, "endpoint": ch.Endpoint()})

	table := correlation.NewTable(l)
	c := &Client{
		id:       id,
		cat:      cat,
		ch:       ch,
		table:    table,
		builder:  request.NewBuilder(cat, table),
		decoder:  response.NewDecoder(cat),
		l:        l,
		timeout:  o.timeout,
		limiter:  o.limiter,
		onNotify: o.onNotify,
		closed:   atomic.NewBool(false),
	}
	c.initMetrics()
	table.OnComplete(c.observe)
	ch.Attach(c)
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Kind() string {
	return c.ch.Kind()
}

func (c *Client) Endpoint() string {
	return c.ch.Endpoint()
}

func (c *Client) Catalog() *schema.Catalog {
	return c.cat
}

// Pending reports how many calls are waiting for a response.
func (c *Client) Pending() int {
	return c.table.Len()
}

// Call sends method and returns a handle to wait on.
func (c *Client) Call(ctx context.Context, method string, args ...any) (*Call, error) {
	return c.call(ctx, c.timeout, method, args)
}

func (c *Client) CallWithTimeout(ctx context.Context, timeout time.Duration, method string, args ...any) (*Call, error) {
	return c.call(ctx, timeout, method, args)
}

// Do is Call followed by Wait.
func (c *Client) Do(ctx context.Context, method string, args ...any) (any, error) {
	call, err := c.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

func (c *Client) call(ctx context.Context, timeout time.Duration, method string, args []any) (*Call, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	built, err := c.builder.Build(method, args...)
	if err != nil {
		c.m.Calls.WithLabelValues(method, resultLabel(err)).Inc()
		return nil, err
	}

	frame, err := json.Marshal(built.Request)
	if err != nil {
		return nil, err
	}

	id := *built.Request.ID
	p, err := c.table.Register(id, method, built.Result, timeout)
	if err != nil {
		return nil, err
	}

	if err := c.ch.Send(ctx, frame); err != nil {
		c.table.Expire(id, err)
		c.l.With(log.F{"method": method, "id": id}).WithError(err).Debug("send failed")
		return nil, err
	}

	return &Call{c: c, p: p}, nil
}

// Notify sends a fire-and-forget request. No response is expected.
func (c *Client) Notify(ctx context.Context, method string, args ...any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.wait(ctx); err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	built, err := c.builder.BuildNotification(method, args...)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(built.Request)
	if err != nil {
		return err
	}
	return c.ch.Send(ctx, frame)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Close closes the channel. Calls still pending fail with a
// ConnectionLostError.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.ch.Close()
	c.table.ExpireAll(transport.ErrClosed)
	return err
}

// HandleFrame demultiplexes an inbound frame onto the pending calls.
func (c *Client) HandleFrame(frame []byte) {
	msgs, _, err := jsonrpc.ParseFrame(frame)
	if err != nil {
		c.m.Stray.WithLabelValues("malformed").Inc()
		c.l.WithError(err).Warn("discarding malformed frame")
		return
	}

	for i := range msgs {
		msg := &msgs[i]
		id, ok := msg.CallID()
		if !ok {
			c.handleUnsolicited(msg)
			continue
		}

		var matched bool
		if msg.Error != nil {
			matched = c.table.Reject(id, msg.Error)
		} else {
			matched = c.table.Resolve(id, msg.Result)
		}
		if !matched {
			c.m.Stray.WithLabelValues("unknown_id").Inc()
			c.l.With(log.F{"id": id}).Warn("discarding response for unknown id")
		}
	}
}

func (c *Client) handleUnsolicited(msg *jsonrpc.Response) {
	if msg.Method == "" {
		c.m.Stray.WithLabelValues("no_id").Inc()
		l := c.l
		if msg.Error != nil {
			l = l.With(log.F{"code": msg.Error.Code, "message": msg.Error.Message})
		}
		l.Warn("discarding response without id")
		return
	}

	c.m.Notifications.WithLabelValues(msg.Method).Inc()
	if c.onNotify == nil {
		c.l.With(log.F{"method": msg.Method}).Debug("no handler for notification")
		return
	}
	c.onNotify(msg.Method, msg.Params)
}

// HandleSendFailure fails the calls carried by a frame the channel could not
// deliver.
func (c *Client) HandleSendFailure(frame []byte, err error) {
	for _, id := range requestIDs(frame) {
		c.table.Expire(id, err)
	}
}

func (c *Client) HandleDisconnect(err error) {
	if n := c.table.ExpireAll(err); n > 0 {
		c.m.Disconnects.Inc()
		c.l.With(log.F{"expired": n}).WithError(err).Warn("link lost")
	}
}

func requestIDs(frame []byte) []uint64 {
	var reqs []jsonrpc.Request
	if err := json.Unmarshal(frame, &reqs); err != nil {
		var req jsonrpc.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			return nil
		}
		reqs = []jsonrpc.Request{req}
	}

	ids := make([]uint64, 0, len(reqs))
	for _, r := range reqs {
		if r.ID != nil {
			ids = append(ids, *r.ID)
		}
	}
	return ids
}
