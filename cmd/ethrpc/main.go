package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	termSig := make(chan os.Signal, 2)
	signal.Notify(termSig, syscall.SIGTERM)
	signal.Notify(termSig, syscall.SIGINT)
	go waitForSignal(cancel, termSig)

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func waitForSignal(cancel context.CancelFunc, osSig chan os.Signal) {
	<-osSig
	cancel()
}

func newApp() *cli.App {
	return buildApp(new(env))
}

func buildApp(e *env) *cli.App {
	return &cli.App{
		Name:  "ethrpc",
		Usage: "call JSON-RPC methods described by a schema",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "TOML config `file`; flags override its keys"},
			&cli.StringFlag{Name: "endpoint", Usage: "node `url` (ws, wss, http or https)", EnvVars: []string{"ETHRPC_ENDPOINT"}},
			&cli.StringFlag{Name: "schema", Usage: "schema document `path`; the embedded eth schema when empty"},
			&cli.DurationFlag{Name: "timeout", Usage: "per-call timeout"},
			&cli.Float64Flag{Name: "rate", Usage: "maximum requests per second, 0 for no limit"},
			&cli.IntFlag{Name: "burst", Usage: "rate limiter burst"},
			&cli.StringFlag{Name: "loglvl", Usage: "logging level: trace, debug, info, warn, error or fatal"},
			&cli.StringFlag{Name: "logfmt", Usage: "format logs as text, json or none"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve prometheus metrics and pprof on `addr`"},
		},
		Before: e.setup,
		After:  e.teardown,
		Commands: []*cli.Command{
			{
				Name:   "methods",
				Usage:  "list the methods of the schema",
				Action: e.methods,
			},
			{
				Name:      "call",
				Usage:     "call a method and print its result",
				ArgsUsage: "method [args...]",
				Action:    e.call,
			},
			{
				Name:      "batch",
				Usage:     "send a JSON array of {method, params} as one batch",
				ArgsUsage: "file (- for stdin)",
				Action:    e.batch,
			},
			{
				Name:      "subscribe",
				Usage:     "start an eth_subscribe subscription and print its events",
				ArgsUsage: "kind [filter]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Usage: "stop after this many events, 0 to run until interrupted"},
				},
				Action: e.subscribe,
			},
		},
	}
}
