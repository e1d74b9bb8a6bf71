// Package correlation matches inbound responses to the calls that are
// waiting for them.
package correlation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lthibault/log"

	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/schema"
)

// Outcome is how a call ended: a result, a server error object, or a local
// failure in Err.
type Outcome struct {
	Result json.RawMessage
	Error  *jsonrpc.Error
	Err    error
}

type PendingCall struct {
	ID      uint64
	Method  string
	Result  *schema.Spec
	Created time.Time

	timer   *time.Timer
	done    chan struct{}
	outcome Outcome
}

// Done is closed once the call has an outcome.
func (p *PendingCall) Done() <-chan struct{} {
	return p.done
}

// Outcome is only meaningful after Done is closed.
func (p *PendingCall) Outcome() Outcome {
	<-p.done
	return p.outcome
}

type Table struct {
	l log.Logger

	mu      sync.Mutex
	pending map[uint64]*PendingCall
	next    uint64

	onComplete func(*PendingCall, Outcome)
}

func NewTable(l log.Logger) *Table {
	return &Table{
		l:       l.WithField("module", "correlation"),
		pending: make(map[uint64]*PendingCall),
	}
}

// OnComplete sets a function run once for every call as it completes, by
// whichever path, before Done is closed. It must be set before the first
// Register and must not block.
func (t *Table) OnComplete(fn func(*PendingCall, Outcome)) {
	t.onComplete = fn
}

// NextID returns a fresh id, never one that is still outstanding.
func (t *Table) NextID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		t.next++
		if t.next == 0 {
			continue
		}
		if _, ok := t.pending[t.next]; !ok {
			return t.next
		}
	}
}

// Register starts tracking id. A zero timeout waits indefinitely.
func (t *Table) Register(id uint64, method string, result *schema.Spec, timeout time.Duration) (*PendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; ok {
		return nil, &DuplicateIDError{ID: id}
	}

	p := &PendingCall{
		ID:      id,
		Method:  method,
		Result:  result,
		Created: time.Now(),
		done:    make(chan struct{}),
	}
	t.pending[id] = p

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			t.complete(p, Outcome{Err: &TimeoutError{ID: id, Method: method, After: timeout}})
		})
	}
	return p, nil
}

func (t *Table) Resolve(id uint64, result json.RawMessage) bool {
	return t.completeID(id, Outcome{Result: result})
}

func (t *Table) Reject(id uint64, rpcErr *jsonrpc.Error) bool {
	return t.completeID(id, Outcome{Error: rpcErr})
}

// Expire fails a single call with err.
func (t *Table) Expire(id uint64, err error) bool {
	return t.completeID(id, Outcome{Err: err})
}

func (t *Table) Cancel(id uint64) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return t.complete(p, Outcome{Err: &CanceledError{ID: id, Method: p.Method}})
}

// ExpireAll fails every outstanding call with a ConnectionLostError and
// returns how many there were.
func (t *Table) ExpireAll(cause error) int {
	t.mu.Lock()
	calls := make([]*PendingCall, 0, len(t.pending))
	for id, p := range t.pending {
		calls = append(calls, p)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, p := range calls {
		t.finish(p, Outcome{Err: &ConnectionLostError{ID: p.ID, Method: p.Method, Cause: cause}})
	}
	if len(calls) > 0 {
		t.l.With(log.F{"count": len(calls)}).WithError(cause).Warn("expired pending calls")
	}
	return len(calls)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table) completeID(id uint64, o Outcome) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		t.l.With(log.F{"id": id}).Debug("no pending call for id")
		return false
	}
	t.finish(p, o)
	return true
}

// complete removes p if it is still the call registered under its id.
func (t *Table) complete(p *PendingCall, o Outcome) bool {
	t.mu.Lock()
	cur, ok := t.pending[p.ID]
	if !ok || cur != p {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, p.ID)
	t.mu.Unlock()

	t.finish(p, o)
	return true
}

// finish runs exactly once per call: only the path that removed p from the
// map gets here.
func (t *Table) finish(p *PendingCall, o Outcome) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.outcome = o
	if t.onComplete != nil {
		t.onComplete(p, o)
	}
	close(p.done)
}
