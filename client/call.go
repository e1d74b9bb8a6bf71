package client

import (
	"context"
	"sync"

	"github.com/blocknative/ethrpc/correlation"
)

// Call is an outstanding request. Its result is decoded once, on the first
// Wait that observes completion.
type Call struct {
	c *Client
	p *correlation.PendingCall

	once  sync.Once
	value any
	err   error
}

func (call *Call) ID() uint64 {
	return call.p.ID
}

func (call *Call) Method() string {
	return call.p.Method
}

func (call *Call) Done() <-chan struct{} {
	return call.p.Done()
}

// Cancel abandons the call. It reports false when the call had already
// completed; a response arriving later is discarded.
func (call *Call) Cancel() bool {
	return call.c.table.Cancel(call.p.ID)
}

// Wait blocks until the call completes or ctx ends; in the latter case the
// call is canceled.
func (call *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-call.p.Done():
	case <-ctx.Done():
		call.Cancel()
		<-call.p.Done()
	}

	call.once.Do(func() {
		o := call.p.Outcome()
		call.value, call.err = call.c.decoder.Decode(call.p.Method, call.p.Result, o)
		if call.err != nil && o.Err == nil && o.Error == nil {
			call.c.m.InvalidResults.WithLabelValues(call.p.Method).Inc()
		}
	})
	return call.value, call.err
}
