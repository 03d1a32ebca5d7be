// Package dmlog wraps *zap.Logger the way the teacher's internal/log
// package does: a package-level instance set once via Init, a handful of
// helpers that attach structured fields consistently, and a no-op
// constructor for tests that don't want log output on the wire.
package dmlog

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps *zap.Logger with domain-specific helper methods.
type Logger struct {
	*zap.Logger
}

var (
	L    *Logger
	once sync.Once
)

// Init sets the package-level logger exactly once. Subsequent calls are
// no-ops, matching the teacher's sync.Once guard.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New builds a Logger directly, bypassing the package-level singleton.
// Development mode gets colorized level encoding and debug verbosity;
// production mode defaults to WarnLevel.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}
	return &Logger{Logger: zl}
}

// NewNop returns a Logger that discards everything, for use in tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Fault logs a VM fault with its address and kind.
func (l *Logger) Fault(pc uint64, kind string, err error) {
	l.Warn("fault", Addr(pc), zap.String("kind", kind), zap.Error(err))
}

// Stub logs a host stub invocation.
func (l *Logger) Stub(name string, fields ...zap.Field) {
	l.Debug("stub: "+name, fields...)
}

// StubInstall logs that a stub was bound to a resolved guest address.
func (l *Logger) StubInstall(name string, addr uint64) {
	l.Debug("stub installed", zap.String("name", name), Addr(addr))
}

// StubFallback logs that an unresolved import was given a no-op fallback.
func (l *Logger) StubFallback(name string, addr uint64) {
	l.Debug("stub fallback", zap.String("name", name), Addr(addr))
}

// Trace logs one executed instruction at PC, annotated with the symbol it
// falls within if known.
func (l *Logger) Trace(pc uint64, sym string, detail string) {
	l.Debug("trace", Addr(pc), zap.String("sym", sym), zap.String("detail", detail))
}

// Hex formats an address the way log output does, for messages that build
// their own string rather than using structured fields.
func Hex(addr uint64) string {
	return fmt.Sprintf("0x%016x", addr)
}

// Addr is a zap.Field helper for a guest address.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size is a zap.Field helper for a byte count.
func Size(n uint64) zap.Field {
	return zap.Uint64("size", n)
}

// Ptr is a zap.Field helper for a named pointer value.
func Ptr(name string, val uint64) zap.Field {
	return zap.String(name, Hex(val))
}

// Fn is a zap.Field helper for a function/symbol name.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
