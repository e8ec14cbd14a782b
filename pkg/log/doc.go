// Package log provides Faro's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Output goes through a pluggable
// formatter (JSON or text) and one or more outputs (console by default).
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("reader"))
//	l.Info("started", log.Int("types", 2))
//
// Components receive a Logger by injection and tag themselves with
// log.Component; there is no package-level default logger.
package log
