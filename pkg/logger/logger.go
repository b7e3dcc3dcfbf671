package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog wrapper. Warnings and errors can additionally be
// aggregated and shipped by a LogCollector.
type Logger struct {
	zl        zerolog.Logger
	collector atomic.Pointer[LogCollector]
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		out = f
	}

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	zl := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", "optionpilot").
		CallerWithSkipFrameCount(3).
		Logger()
	return &Logger{zl: zl}, nil
}

// NewWithWriter builds a JSON logger writing to w. It does not touch
// package globals, so tests can run in parallel.
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &Logger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.write(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) {
	l.write(l.zl.Warn(), msg, fields)
	l.collect("warn", msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) write(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.addTo(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) collect(level, msg string, fields []Field) {
	c := l.collector.Load()
	if c == nil {
		return
	}
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		if i := strings.Index(file, "/internal/"); i >= 0 {
			file = file[i+1:]
		} else if i := strings.Index(file, "/pkg/"); i >= 0 {
			file = file[i+1:]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.key] = f.value()
	}
	c.Add(level, msg, m, caller)
}

// AddCollector starts shipping aggregated warnings and errors. A previous
// collector is flushed and replaced.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if old := l.collector.Swap(NewLogCollector(cfg)); old != nil {
		old.Close()
	}
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if old := l.collector.Swap(nil); old != nil {
		old.Close()
	}
}

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
	kindError
	kindStrings
)

// Field is a typed structured-log attribute.
type Field struct {
	key  string
	kind fieldKind
	s    string
	i    int64
	f    float64
	ss   []string
	err  error
}

func (f Field) addTo(ev *zerolog.Event) {
	switch f.kind {
	case kindString:
		ev.Str(f.key, f.s)
	case kindInt:
		ev.Int64(f.key, f.i)
	case kindFloat:
		ev.Float64(f.key, f.f)
	case kindBool:
		ev.Bool(f.key, f.i != 0)
	case kindDuration:
		ev.Dur(f.key, time.Duration(f.i))
	case kindError:
		ev.AnErr(f.key, f.err)
	case kindStrings:
		ev.Strs(f.key, f.ss)
	}
}

func (f Field) value() interface{} {
	switch f.kind {
	case kindInt:
		return f.i
	case kindFloat:
		return f.f
	case kindBool:
		return f.i != 0
	case kindDuration:
		return time.Duration(f.i).String()
	case kindError:
		if f.err == nil {
			return nil
		}
		return f.err.Error()
	case kindStrings:
		return f.ss
	default:
		return f.s
	}
}

func String(key, value string) Field { return Field{key: key, kind: kindString, s: value} }

func Int(key string, value int) Field { return Field{key: key, kind: kindInt, i: int64(value)} }

func Int64(key string, value int64) Field { return Field{key: key, kind: kindInt, i: value} }

func Float64(key string, value float64) Field { return Field{key: key, kind: kindFloat, f: value} }

func Duration(key string, value time.Duration) Field {
	return Field{key: key, kind: kindDuration, i: int64(value)}
}

func Strings(key string, value []string) Field { return Field{key: key, kind: kindStrings, ss: value} }

func Error(err error) Field { return Field{key: "error", kind: kindError, err: err} }

func Bool(key string, v bool) Field {
	f := Field{key: key, kind: kindBool}
	if v {
		f.i = 1
	}
	return f
}
