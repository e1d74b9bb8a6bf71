package main

import (
	"io"
	"time"

	"github.com/lthibault/log"
	"github.com/sirupsen/logrus"
)

func logger(loglvl, logfmt string, w io.Writer) log.Logger {
	return log.New(
		withLevel(loglvl, logfmt),
		withFormat(logfmt),
		log.WithWriter(w))
}

func withLevel(loglvl, logfmt string) log.Option {
	if logfmt == "none" {
		return log.WithLevel(log.FatalLevel)
	}

	switch loglvl {
	case "trace", "t":
		return log.WithLevel(log.TraceLevel)
	case "debug", "d":
		return log.WithLevel(log.DebugLevel)
	case "warn", "warning", "w":
		return log.WithLevel(log.WarnLevel)
	case "error", "err", "e":
		return log.WithLevel(log.ErrorLevel)
	case "fatal", "f":
		return log.WithLevel(log.FatalLevel)
	}
	return log.WithLevel(log.InfoLevel)
}

func withFormat(logfmt string) log.Option {
	var f logrus.Formatter

	switch logfmt {
	case "none":
		f = new(logrus.TextFormatter)
	case "json":
		f = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	default:
		f = &logrus.TextFormatter{DisableColors: true}
	}
	return log.WithFormatter(f)
}
