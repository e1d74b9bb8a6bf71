package client

import (
	"context"
	"encoding/json"

	"github.com/blocknative/ethrpc/jsonrpc"
)

// BatchElem is one request of a batch. Result and Error are filled in by
// Batch.
type BatchElem struct {
	Method string
	Args   []any

	Result any
	Error  error
}

// Batch sends all valid elements as a single frame and waits for each of
// them. Elements that fail validation get their Error set and are not sent.
// The returned error covers only the send of the frame itself.
func (c *Client) Batch(ctx context.Context, elems []BatchElem) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.wait(ctx); err != nil {
		return err
	}

	calls := make([]*Call, len(elems))
	reqs := make([]*jsonrpc.Request, 0, len(elems))

	c.sendMu.Lock()
	for i := range elems {
		built, err := c.builder.Build(elems[i].Method, elems[i].Args...)
		if err != nil {
			elems[i].Error = err
			c.m.Calls.WithLabelValues(elems[i].Method, resultLabel(err)).Inc()
			continue
		}
		p, err := c.table.Register(*built.Request.ID, elems[i].Method, built.Result, c.timeout)
		if err != nil {
			elems[i].Error = err
			continue
		}
		calls[i] = &Call{c: c, p: p}
		reqs = append(reqs, built.Request)
	}

	if len(reqs) == 0 {
		c.sendMu.Unlock()
		return nil
	}

	frame, err := json.Marshal(reqs)
	if err == nil {
		err = c.ch.Send(ctx, frame)
	}
	c.sendMu.Unlock()

	if err != nil {
		for i, call := range calls {
			if call != nil {
				c.table.Expire(call.ID(), err)
				elems[i].Error = err
			}
		}
		return err
	}

	for i, call := range calls {
		if call == nil {
			continue
		}
		elems[i].Result, elems[i].Error = call.Wait(ctx)
	}
	return nil
}
