// Package xlog is the structured logger used across spreadscan. It follows
// the shape of the teacher's own log package: a slog.Handler underneath, a
// colorized terminal format for interactive use, a JSON format for
// production, and caller-site capture so log lines can be traced back to the
// component that emitted them.
package xlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the interface every component in the codebase is handed; it
// never depends on slog directly so the handler can be swapped in tests.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	With(ctx ...any) Logger
}

// Level re-exports slog.Level so callers configuring log verbosity never
// need to import log/slog themselves.
type Level = slog.Level

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

type logger struct {
	inner *slog.Logger
}

// New builds a Logger around a stdlib slog.Handler.
func New(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

// callSiteSkip is the number of frames CallSite skips above its own caller
// (log) to reach the application code that called Trace/Debug/Info/Warn/
// Error: log -> {Trace,...} -> caller.
const callSiteSkip = 2

func (l *logger) log(level slog.Level, msg string, ctx []any) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.Add(ctx...)
	r.AddAttrs(slog.String("caller", CallSite(callSiteSkip)))
	_ = l.inner.Handler().Handle(context.Background(), r)
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(LevelError, msg, ctx) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: slog.New(l.inner.Handler().WithAttrs(argsToAttrs(ctx)))}
}

func argsToAttrs(ctx []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		key, _ := ctx[i].(string)
		attrs = append(attrs, slog.Any(key, ctx[i+1]))
	}
	return attrs
}

// NewTerminalHandler builds a human-friendly, optionally colorized handler
// for interactive (non-production) use.
func NewTerminalHandler(w io.Writer, level slog.Level) slog.Handler {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
	}
	if useColor {
		w = colorable.NewColorable(w.(*os.File))
	}
	return &terminalHandler{w: w, level: level, useColor: useColor}
}

// NewJSONHandler builds the production log format.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	})
}

// NewRotatingFileHandler wraps NewJSONHandler with a lumberjack rotating
// writer — used whenever LogFile is configured.
func NewRotatingFileHandler(path string, maxSizeMB, maxBackups, maxAgeDays int, level slog.Level) slog.Handler {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return NewJSONHandler(w, level)
}

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO ",
	LevelWarn:  "WARN ",
	LevelError: "ERROR",
}

// ANSI color codes per level, applied only when the handler's writer is a
// terminal (see NewTerminalHandler's isatty check).
var levelColors = map[slog.Level]string{
	LevelTrace: "\x1b[90m", // bright black / gray
	LevelDebug: "\x1b[36m", // cyan
	LevelInfo:  "\x1b[32m", // green
	LevelWarn:  "\x1b[33m", // yellow
	LevelError: "\x1b[31m", // red
}

const colorReset = "\x1b[0m"

type terminalHandler struct {
	mu       sync.Mutex
	w        io.Writer
	level    slog.Level
	useColor bool
	attrs    []slog.Attr
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	b.WriteString(r.Time.Format("01-02|15:04:05.000"))
	b.WriteByte(' ')
	if h.useColor {
		if color, ok := levelColors[r.Level]; ok {
			b.WriteString(color)
			b.WriteString(levelNames[r.Level])
			b.WriteString(colorReset)
		} else {
			b.WriteString(levelNames[r.Level])
		}
	} else {
		b.WriteString(levelNames[r.Level])
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})

	b.WriteByte('\n')
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &terminalHandler{w: h.w, level: h.level, useColor: h.useColor, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *terminalHandler) WithGroup(name string) slog.Handler { return h }

// CallSite returns "file:line" for the immediate caller, mirroring the
// teacher's use of go-stack for attributing log lines to source locations
// in its glog-style verbosity filter.
func CallSite(skip int) string {
	c := stack.Caller(skip + 1)
	s := fmt.Sprintf("%+v", c)
	return filepath.Base(s)
}

var root Logger = New(NewTerminalHandler(os.Stderr, LevelInfo))

// SetDefault installs l as the package-level default logger.
func SetDefault(l Logger) { root = l }

// Root returns the package-level default logger.
func Root() Logger { return root }

func Trace(msg string, ctx ...any) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }
