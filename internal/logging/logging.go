// Package logging wraps github.com/rs/zerolog with the leveled,
// component-prefixed API the rest of PeaceDatabase expects: one logger per
// subsystem (engine, walog, replicaset, election, ...), structured fields
// instead of formatted strings.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped, structured logger.
type Logger struct {
	mu   sync.Mutex
	zl   zerolog.Logger
	comp string
}

// New builds a Logger writing to out at the given level, tagged with
// component (e.g. "engine", "election", "rpcserver").
func New(out io.Writer, level string, component string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zl := zerolog.New(out).With().Timestamp().Str("component", component).Logger()
	zl = zl.Level(parseLevel(level))
	return &Logger{zl: zl, comp: component}
}

// Default returns a human-readable console logger at info level, suitable
// for cmd/peacedbd and cmd/peacectl when no config has been loaded yet.
func Default() *Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	zl := zerolog.New(cw).With().Timestamp().Str("component", "peacedb").Logger()
	return &Logger{zl: zl, comp: "peacedb"}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger scoped to a sub-component, e.g.
// base.With("shard-3") for a per-shard replica set.
func (l *Logger) With(subComponent string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{zl: l.zl.With().Str("sub", subComponent).Logger(), comp: l.comp}
}

// SetLevel adjusts the minimum level processed by this logger.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = l.zl.Level(parseLevel(level))
}

// Fields is a convenience alias for structured key/value pairs.
type Fields map[string]any

func (l *Logger) event(e *zerolog.Event, msg string, fields Fields) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, fields Fields) { l.event(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields Fields)  { l.event(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields Fields)  { l.event(l.zl.Warn(), msg, fields) }

// Error logs at error level, attaching err under the "error" field when
// non-nil.
func (l *Logger) Error(msg string, err error, fields Fields) {
	e := l.zl.Error()
	if err != nil {
		e = e.Err(err)
	}
	l.event(e, msg, fields)
}
