package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lthibault/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/blocknative/ethrpc/client"
	"github.com/blocknative/ethrpc/cmd/ethrpc/config"
	"github.com/blocknative/ethrpc/cmd/ethrpc/config/source/file"
	"github.com/blocknative/ethrpc/eth"
	"github.com/blocknative/ethrpc/metrics"
	"github.com/blocknative/ethrpc/schema"
)

const shutdownTimeout = 5 * time.Second

var ErrNoEndpoint = errors.New("no endpoint configured")

type env struct {
	cfg *config.ConfigManager
	l   log.Logger
	m   *metrics.Metrics
	cat *schema.Catalog
	srv *http.Server
}

func (e *env) setup(c *cli.Context) (err error) {
	e.cfg = config.NewConfigManager(file.NewSource(c.String("config")))
	if c.String("config") != "" {
		if err := e.cfg.Load(); err != nil {
			return errors.WithMessage(err, "failed loading config file")
		}
	}
	e.applyFlags(c)

	e.l = logger(e.cfg.LogLevel, e.cfg.LogFormat, c.App.ErrWriter)

	if e.cfg.Schema != "" {
		e.cat, err = schema.LoadFile(e.cfg.Schema)
	} else {
		e.cat, err = eth.Catalog()
	}
	if err != nil {
		return err
	}

	e.m = metrics.NewMetrics()
	if e.cfg.MetricsAddr != "" {
		e.srv = &http.Server{
			Addr:              e.cfg.MetricsAddr,
			Handler:           e.m.Router(),
			ReadHeaderTimeout: shutdownTimeout,
		}
		go func(srv *http.Server) {
			e.l.WithField("addr", srv.Addr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.l.WithError(err).Error("metrics server failed")
			}
		}(e.srv)
	}
	return nil
}

func (e *env) applyFlags(c *cli.Context) {
	cfg := e.cfg.Config
	if c.IsSet("endpoint") {
		cfg.Endpoint = c.String("endpoint")
	}
	if c.IsSet("schema") {
		cfg.Schema = c.String("schema")
	}
	if c.IsSet("timeout") {
		cfg.Timeout.Duration = c.Duration("timeout")
	}
	if c.IsSet("rate") {
		cfg.Rate = c.Float64("rate")
	}
	if c.IsSet("burst") {
		cfg.Burst = c.Int("burst")
	}
	if c.IsSet("loglvl") {
		cfg.LogLevel = c.String("loglvl")
	}
	if c.IsSet("logfmt") {
		cfg.LogFormat = c.String("logfmt")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
}

func (e *env) teardown(c *cli.Context) error {
	if e.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.srv.Shutdown(ctx)
}

func (e *env) dial(ctx context.Context, onNotify client.NotificationHandler) (*client.Client, error) {
	if e.cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	opts := []client.Option{
		client.WithLogger(e.l),
		client.WithTimeout(e.cfg.Timeout.Duration),
		client.WithRateLimit(rate.Limit(e.cfg.Rate), e.cfg.Burst),
	}
	if onNotify != nil {
		opts = append(opts, client.WithNotificationHandler(onNotify))
	}

	cl, err := client.Dial(ctx, e.cat, e.cfg.Endpoint, opts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "dial %s", e.cfg.Endpoint)
	}
	cl.AttachMetrics(e.m)
	return cl, nil
}

func (e *env) methods(c *cli.Context) error {
	for _, name := range e.cat.Methods() {
		m, err := e.cat.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s(%s)\t%s\n", name, paramList(m), m.Summary)
	}
	return nil
}

func paramList(m *schema.Method) string {
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name
		if !p.Required {
			names[i] += "?"
		}
	}
	return strings.Join(names, ", ")
}

func (e *env) call(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing method name")
	}

	args := make([]any, 0, c.NArg()-1)
	for _, a := range c.Args().Tail() {
		args = append(args, parseArg(a))
	}

	cl, err := e.dial(c.Context, nil)
	if err != nil {
		return err
	}
	defer cl.Close()

	v, err := cl.Do(c.Context, c.Args().First(), args...)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, schema.ToWire(v))
}

type batchEntry struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type batchResult struct {
	Method string `json:"method"`
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (e *env) batch(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected one input file")
	}

	var r io.Reader = c.App.Reader
	if path := c.Args().First(); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return errors.WithMessage(err, "open batch file")
		}
		defer f.Close()
		r = f
	}

	var entries []batchEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return errors.Wrap(err, "parse batch")
	}

	elems := make([]client.BatchElem, len(entries))
	for i, entry := range entries {
		elems[i].Method = entry.Method
		for _, p := range entry.Params {
			elems[i].Args = append(elems[i].Args, p)
		}
	}

	cl, err := e.dial(c.Context, nil)
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := cl.Batch(c.Context, elems); err != nil {
		return err
	}

	out := make([]batchResult, len(elems))
	for i, el := range elems {
		out[i].Method = el.Method
		if el.Error != nil {
			out[i].Error = el.Error.Error()
			continue
		}
		out[i].Result = schema.ToWire(el.Result)
	}
	return printJSON(c.App.Writer, out)
}

func (e *env) subscribe(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing subscription kind")
	}

	events := make(chan *eth.SubscriptionEvent, 64)
	cl, err := e.dial(c.Context, func(method string, params json.RawMessage) {
		if method != "eth_subscription" {
			return
		}
		ev, err := eth.ParseSubscriptionEvent(params)
		if err != nil {
			e.l.WithError(err).Warn("malformed subscription event")
			return
		}
		select {
		case events <- ev:
		default:
			e.l.WithField("subscription", ev.Subscription).Warn("dropping subscription event")
		}
	})
	if err != nil {
		return err
	}
	defer cl.Close()

	args := []any{c.Args().First()}
	if c.NArg() > 1 {
		args = append(args, parseArg(c.Args().Get(1)))
	}
	v, err := cl.Do(c.Context, "eth_subscribe", args...)
	if err != nil {
		return err
	}
	id, _ := v.(string)
	e.l.WithField("subscription", id).Info("subscribed")

	count := c.Int("count")
	for n := 0; count == 0 || n < count; n++ {
		select {
		case ev := <-events:
			if err := printJSON(c.App.Writer, ev); err != nil {
				return err
			}
		case <-c.Context.Done():
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if _, err := cl.Do(ctx, "eth_unsubscribe", id); err != nil {
		e.l.WithError(err).Warn("failed to unsubscribe")
	}
	return nil
}

// parseArg reads JSON literals, objects and arrays as raw JSON and decimal
// integers as quantities. Anything else is passed as a string.
func parseArg(s string) any {
	switch {
	case s == "true", s == "false", s == "null",
		strings.HasPrefix(s, "{"), strings.HasPrefix(s, "["), strings.HasPrefix(s, `"`):
		if json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", raw)
	return err
}
