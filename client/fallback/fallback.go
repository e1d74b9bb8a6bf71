// Package fallback spreads calls over several clients, moving on to the next
// one when a link-level failure leaves the call unanswered.
package fallback

import (
	"context"
	"errors"
	"sync"

	"github.com/lthibault/log"

	"github.com/blocknative/ethrpc/correlation"
	"github.com/blocknative/ethrpc/transport"
)

var ErrNoClients = errors.New("no client available")

type Caller interface {
	Do(ctx context.Context, method string, args ...any) (any, error)
	Kind() string
	ID() string
	Endpoint() string
}

type Fallback struct {
	lock        sync.RWMutex
	clientsWS   []Caller
	clientsHTTP []Caller
	clientsRest []Caller
	m           Metrics

	l log.Logger
}

func NewFallback(l log.Logger) *Fallback {
	f := &Fallback{
		l: l.WithField("module", "fallback"),
	}
	f.initMetrics()
	return f
}

func (f *Fallback) IsSet() bool {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return len(f.clientsWS)+len(f.clientsHTTP)+len(f.clientsRest) > 0
}

func (f *Fallback) AddClient(cli Caller) {
	f.lock.Lock()
	defer f.lock.Unlock()

	switch cli.Kind() {
	case "ws":
		f.clientsWS = addClient(f.clientsWS, cli)
	case "http":
		f.clientsHTTP = addClient(f.clientsHTTP, cli)
	default:
		f.clientsRest = addClient(f.clientsRest, cli)
	}
}

func (f *Fallback) RemoveClient(kind string, id string) {
	f.lock.Lock()
	defer f.lock.Unlock()

	switch kind {
	case "ws":
		f.clientsWS = removeClient(f.clientsWS, id)
	case "http":
		f.clientsHTTP = removeClient(f.clientsHTTP, id)
	default:
		f.clientsRest = removeClient(f.clientsRest, id)
	}
}

func addClient(cSlice []Caller, cli Caller) []Caller {
	for _, c := range cSlice {
		if c.ID() == cli.ID() {
			return cSlice
		}
	}
	return append(cSlice, cli)
}

func removeClient(cSlice []Caller, id string) []Caller {
	for i, c := range cSlice {
		if c.ID() == id {
			return append(cSlice[:i:i], cSlice[i+1:]...)
		}
	}
	return cSlice
}

// ordered returns websocket clients first, then HTTP, then anything else.
func (f *Fallback) ordered() []Caller {
	f.lock.RLock()
	defer f.lock.RUnlock()

	all := make([]Caller, 0, len(f.clientsWS)+len(f.clientsHTTP)+len(f.clientsRest))
	all = append(all, f.clientsWS...)
	all = append(all, f.clientsHTTP...)
	return append(all, f.clientsRest...)
}

func (f *Fallback) Do(ctx context.Context, method string, args ...any) (res any, err error) {
	clients := f.ordered()
	if len(clients) == 0 {
		f.m.ServedFrom.WithLabelValues("none", "notfound", "error").Inc()
		return nil, ErrNoClients
	}

	var keepTrying bool
	for _, c := range clients {
		res, err, keepTrying = f.do(ctx, c, method, args)
		if !keepTrying {
			return res, err
		}
	}
	f.m.ServedFrom.WithLabelValues("all", "all", "fatal").Inc()
	return nil, err
}

func (f *Fallback) do(ctx context.Context, c Caller, method string, args []any) (res any, err error, keepTrying bool) {
	if ctx.Err() != nil {
		f.m.ServedFrom.WithLabelValues(c.Kind(), c.Endpoint(), "ctx").Inc()
		return nil, ctx.Err(), false
	}

	res, err = c.Do(ctx, method, args...)
	if err == nil {
		f.m.ServedFrom.WithLabelValues(c.Kind(), c.Endpoint(), "ok").Inc()
		return res, nil, false
	}

	if !linkFailure(err) {
		f.m.ServedFrom.WithLabelValues(c.Kind(), c.Endpoint(), "error").Inc()
		return nil, err, false
	}

	f.l.With(log.F{"node": c.Endpoint(), "method": method}).WithError(err).Warn("call fallback")
	f.m.ServedFrom.WithLabelValues(c.Kind(), c.Endpoint(), "fallback").Inc()
	return nil, err, true
}

// linkFailure reports errors after which another node may still answer.
// Server errors and invalid arguments would fail the same way everywhere.
func linkFailure(err error) bool {
	var te *transport.Error
	return errors.As(err, &te) ||
		errors.Is(err, transport.ErrConnectionFailure) ||
		errors.Is(err, correlation.ErrConnectionLost) ||
		errors.Is(err, correlation.ErrTimeout)
}
