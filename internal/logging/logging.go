// Package logging wraps go.uber.org/zap behind the small synchronous/
// asynchronous toggle the design names as an external collaborator
// (§1: "the asynchronous logger") without specifying its ring-buffer
// internals. The usage pattern -- one *zap.Logger handed to the reactor
// and worker pool, structured fields on accept and error events -- mirrors
// other_examples' systemli-userli-postfix-adapter tcpserver.go.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger at the given level. When async is true, log
// entries are handed to a bounded channel drained by one goroutine
// instead of writing inline on the caller's goroutine -- the
// "asynchronous logger" the design pins as an external collaborator.
// When false, every call writes synchronously, which is useful for
// tests and for debug-level troubleshooting where log order relative to
// the event that produced it matters.
func New(level string, async bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if !async {
		return cfg.Build()
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return newAsyncCore(core, 4096)
	})), nil
}

// asyncCore buffers log entries on a bounded channel drained by one
// goroutine, so a burst of connection events never blocks the reactor or
// a worker on log I/O. Entries are dropped (not blocked on) once the
// channel is full -- logging must never become a backpressure source for
// the reactor it is observing.
type asyncCore struct {
	zapcore.Core
	entries chan asyncEntry
}

type asyncEntry struct {
	entry  zapcore.Entry
	fields []zapcore.Field
}

func newAsyncCore(next zapcore.Core, buf int) *asyncCore {
	c := &asyncCore{Core: next, entries: make(chan asyncEntry, buf)}
	go c.drain()
	return c
}

func (c *asyncCore) With(fields []zapcore.Field) zapcore.Core {
	return &asyncCore{Core: c.Core.With(fields), entries: c.entries}
}

func (c *asyncCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *asyncCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	select {
	case c.entries <- asyncEntry{entry: entry, fields: fields}:
	default:
		// channel full: drop rather than block the producer.
	}
	return nil
}

func (c *asyncCore) drain() {
	for e := range c.entries {
		_ = c.Core.Write(e.entry, e.fields)
	}
}
