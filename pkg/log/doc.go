// Package log provides eventpump's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by Go's slog via
// a bridge handler that feeds our formatter/outputs pipeline, so third-party
// code that wants a *slog.Logger can share the same sinks.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("eventconsumer"), log.Consumer("orders"))
//	l.Info("consumer started", log.Str("position", "42"))
//
// # Levels
//
// CriticalLevel marks failures that stop a consumer. Crit logs and returns; it
// never terminates the process.
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (text or JSON format,
// extra file outputs, key redaction, per-message sampling). RedirectStdLog
// routes the standard library logger through the facade.
package log
