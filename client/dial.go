package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/blocknative/ethrpc/schema"
	"github.com/blocknative/ethrpc/transport"
	"github.com/blocknative/ethrpc/transport/gethhttp"
	"github.com/blocknative/ethrpc/transport/gethws"
)

// Dial opens a channel for endpoint, picking the transport from its scheme,
// and returns a client on it.
func Dial(ctx context.Context, cat *schema.Catalog, endpoint string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	var ch transport.Channel
	switch u.Scheme {
	case "ws", "wss":
		rc, err := gethws.Dial(ctx, o.l, endpoint, gethws.Config{})
		if err != nil {
			return nil, err
		}
		ch = rc
	case "http", "https":
		ch = gethhttp.NewClient(endpoint, o.timeout, o.l)
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	return New(cat, ch, opts...), nil
}
