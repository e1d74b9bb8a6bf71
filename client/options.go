package client

import (
	"encoding/json"
	"time"

	"github.com/lthibault/log"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 30 * time.Second

// NotificationHandler receives server-initiated messages such as
// subscription events.
type NotificationHandler func(method string, params json.RawMessage)

type options struct {
	l        log.Logger
	timeout  time.Duration
	limiter  *rate.Limiter
	onNotify NotificationHandler
}

type Option func(*options)

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.l = l }
}

// WithTimeout sets the default per-call timeout. Zero waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRateLimit throttles outgoing requests and notifications.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *options) {
		if r <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(r, burst)
	}
}

func WithNotificationHandler(h NotificationHandler) Option {
	return func(o *options) { o.onNotify = h }
}

func buildOptions(opts []Option) options {
	o := options{
		l:       log.New(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
