// Package gethhttp is a request/response channel over HTTP POST. Each sent
// frame is one POST whose body comes back as one inbound frame.
package gethhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lthibault/log"
	"go.uber.org/atomic"

	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/transport"
)

const (
	Kind = "http"

	maxResponseSize = 32 << 20
)

var ErrUnanswered = errors.New("request left unanswered by response")

type Client struct {
	address string
	client  *http.Client
	l       log.Logger

	lock sync.RWMutex
	recv transport.Receiver

	sendLock sync.RWMutex
	inflight sync.WaitGroup
	closed   *atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewClient(address string, timeout time.Duration, l log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		address: address,
		client:  &http.Client{Timeout: timeout},
		l:       l.With(log.F{"module": "gethhttp", "endpoint": address}),
		recv:    transport.NopReceiver{},
		closed:  atomic.NewBool(false),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) Kind() string {
	return Kind
}

func (c *Client) Endpoint() string {
	return c.address
}

func (c *Client) Attach(r transport.Receiver) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.recv = r
}

func (c *Client) receiver() transport.Receiver {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.recv
}

// Send posts frame in the background; the outcome reaches the receiver.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	c.sendLock.RLock()
	defer c.sendLock.RUnlock()

	if c.closed.Load() {
		return &transport.Error{Kind: Kind, Endpoint: c.address, Err: transport.ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.post(frame)
	}()
	return nil
}

func (c *Client) post(frame []byte) {
	body, err := justsend(c.ctx, c.client, c.address, frame)
	if err != nil {
		c.l.WithError(err).Debug("post failed")
		c.receiver().HandleSendFailure(frame, &transport.Error{Kind: Kind, Endpoint: c.address, Err: err})
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		c.receiver().HandleFrame(body)
	}

	// the exchange is over, so requests the body did not answer never will be
	if rest := unanswered(frame, body); rest != nil {
		c.l.Debug("response left requests unanswered")
		c.receiver().HandleSendFailure(rest, &transport.Error{Kind: Kind, Endpoint: c.address, Err: ErrUnanswered})
	}
}

// unanswered returns the requests of frame that carry an id missing from
// body, encoded as a batch frame, or nil when every request was answered.
func unanswered(frame, body []byte) []byte {
	var reqs []jsonrpc.Request
	if err := json.Unmarshal(frame, &reqs); err != nil {
		var req jsonrpc.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			return nil
		}
		reqs = []jsonrpc.Request{req}
	}

	answered := make(map[uint64]struct{})
	if msgs, _, err := jsonrpc.ParseFrame(body); err == nil {
		for i := range msgs {
			if id, ok := msgs[i].CallID(); ok {
				answered[id] = struct{}{}
			}
		}
	}

	var rest []jsonrpc.Request
	for _, r := range reqs {
		if r.ID == nil {
			continue
		}
		if _, ok := answered[*r.ID]; !ok {
			rest = append(rest, r)
		}
	}
	if len(rest) == 0 {
		return nil
	}
	out, err := json.Marshal(rest)
	if err != nil {
		return nil
	}
	return out
}

// Close waits for in-flight posts and reports the channel as gone.
func (c *Client) Close() error {
	c.sendLock.Lock()
	swapped := c.closed.CompareAndSwap(false, true)
	c.sendLock.Unlock()
	if !swapped {
		return nil
	}

	c.inflight.Wait()
	c.cancel()
	c.receiver().HandleDisconnect(transport.ErrClosed)
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func justsend(ctx context.Context, client *http.Client, url string, frame []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json; charset=utf-8")
	req.Header.Add("Accept", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		// servers may still answer with a JSON-RPC error object
		if msgs, _, perr := jsonrpc.ParseFrame(body); perr == nil && hasID(msgs) {
			return body, nil
		}
		return nil, &statusError{code: res.StatusCode, body: string(bytes.TrimSpace(body))}
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if _, _, err := jsonrpc.ParseFrame(body); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
	}
	return body, nil
}

func hasID(msgs []jsonrpc.Response) bool {
	for i := range msgs {
		if _, ok := msgs[i].CallID(); ok {
			return true
		}
	}
	return false
}
