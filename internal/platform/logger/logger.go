package logger

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultSensitiveKeys are masked by every logger built with New.
var DefaultSensitiveKeys = []string{"token", "secret", "password", "api_key", "authorization", "dsn", "redis_url"}

// Options defines parameters for logger creation.
type Options struct {
	Env          string
	ConsoleLevel string // default: info
	FileLevel    string // default: debug
	File         string // JSON log file, rotated by lumberjack; empty disables it
	App          string

	// Console overrides os.Stdout. Used by tests and the CLI's --quiet mode.
	Console io.Writer
	// ExtraSensitive extends DefaultSensitiveKeys.
	ExtraSensitive []string
}

var closers sync.Map

// New creates a console (tint) logger, optionally teed into a rotating JSON file.
func New(o Options) *slog.Logger {
	consoleLvl := ParseLevel(o.ConsoleLevel, slog.LevelInfo)
	fileLvl := ParseLevel(o.FileLevel, slog.LevelDebug)

	out := o.Console
	if out == nil {
		out = os.Stdout
	}
	keys := append(append([]string{}, DefaultSensitiveKeys...), o.ExtraSensitive...)

	timeFormat := time.RFC3339
	if o.Env == "dev" {
		timeFormat = time.Kitchen
	}
	noColor := o.Console != nil && o.Console != os.Stdout && o.Console != os.Stderr

	handlers := []slog.Handler{
		NewRedactingHandler(tint.NewHandler(out, &tint.Options{
			Level:      consoleLvl,
			TimeFormat: timeFormat,
			NoColor:    noColor,
		}), keys),
	}

	var closer func() error
	if o.File != "" {
		fw := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		closer = fw.Close
		handlers = append(handlers, NewRedactingHandler(
			slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: fileLvl}), keys))
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = NewMultiHandler(handlers...)
	}

	l := slog.New(h)
	if o.App != "" {
		l = l.With(slog.String("app", o.App))
	}
	if o.Env != "" {
		l = l.With(slog.String("env", o.Env))
	}
	if closer != nil {
		closers.Store(l, closer)
	}
	return l
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Close releases the log file opened by New for l, if any.
func Close(l *slog.Logger) error {
	if c, ok := closers.LoadAndDelete(l); ok {
		return c.(func() error)()
	}
	return nil
}

// ParseLevel maps debug/info/warn/error to a slog.Level, returning def for anything else.
func ParseLevel(s string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}

// RedactingHandler masks sensitive attributes: values under sensitive keys, strings that
// look like bearer tokens, and passwords embedded in connection URLs.
type RedactingHandler struct {
	inner slog.Handler
	keys  map[string]struct{}
}

// NewRedactingHandler wraps inner with redaction of the given keys (case-insensitive).
func NewRedactingHandler(inner slog.Handler, sensitive []string) *RedactingHandler {
	m := make(map[string]struct{}, len(sensitive))
	for _, k := range sensitive {
		m[strings.ToLower(k)] = struct{}{}
	}
	return &RedactingHandler{inner: inner, keys: m}
}

func (h *RedactingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool { attrs = append(attrs, a); return true })
	nr.AddAttrs(h.sanitize(attrs)...)
	return h.inner.Handle(ctx, nr)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithAttrs(h.sanitize(attrs)), keys: h.keys}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), keys: h.keys}
}

func (h *RedactingHandler) sanitize(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if _, ok := h.keys[strings.ToLower(a.Key)]; ok {
			out = append(out, slog.String(a.Key, "[REDACTED]"))
			continue
		}
		switch a.Value.Kind() {
		case slog.KindGroup:
			out = append(out, slog.Attr{Key: a.Key, Value: slog.GroupValue(h.sanitize(a.Value.Group())...)})
			continue
		case slog.KindString:
			out = append(out, slog.String(a.Key, redactString(a.Value.String())))
			continue
		}
		out = append(out, a)
	}
	return out
}

func redactString(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return "[REDACTED]"
	}
	if strings.Contains(s, "://") && strings.Contains(s, "@") {
		if u, err := url.Parse(s); err == nil && u.User != nil {
			if _, has := u.User.Password(); has {
				return u.Redacted()
			}
		}
	}
	return s
}

// MultiHandler fans a record out to several handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler creates a handler that writes to every handler given.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes r to every enabled handler. The first error is returned after all handlers ran.
func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}
