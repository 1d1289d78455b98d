// Package log is the structured-logging wrapper used throughout this
// module: a thin facade over go-kit/log so that every component logs
// key-value pairs rather than formatted strings.
package log

import (
	"os"

	kitlog "github.com/go-kit/log"
)

// Logger is the logging interface taken by every long-lived component
// (Reactor, Monitor, Bridge, Peer). Keyvals follow the go-kit convention:
// alternating key, value pairs appended to the message.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type logfmtLogger struct {
	base kitlog.Logger
}

// NewLogfmtLogger returns a Logger that writes logfmt-encoded lines to w.
func NewLogfmtLogger(w *os.File) Logger {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	base = kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)
	return &logfmtLogger{base: base}
}

func (l *logfmtLogger) log(level string, msg string, keyvals ...any) {
	kv := append([]any{"level", level, "msg", msg}, keyvals...)
	_ = l.base.Log(kv...)
}

func (l *logfmtLogger) Debug(msg string, keyvals ...any) { l.log("debug", msg, keyvals...) }
func (l *logfmtLogger) Info(msg string, keyvals ...any)  { l.log("info", msg, keyvals...) }
func (l *logfmtLogger) Error(msg string, keyvals ...any) { l.log("error", msg, keyvals...) }

func (l *logfmtLogger) With(keyvals ...any) Logger {
	return &logfmtLogger{base: kitlog.With(l.base, keyvals...)}
}

// NopLogger discards everything. Used as the default for components
// constructed without an explicit logger, so logging is always safe to
// call without a nil check.
type nopLogger struct{}

func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)  {}
func (nopLogger) Info(string, ...any)   {}
func (nopLogger) Error(string, ...any)  {}
func (nopLogger) With(...any) Logger    { return nopLogger{} }
