package backoff

import (
	"context"
	"log/slog"
)

// Logger observes failures. LogNonterminal is called for each failure that will be retried,
// LogTerminal exactly once when retrying stops without success.
type Logger interface {
	LogNonterminal(err error, attempt uint32)
	LogTerminal(err *BackoffError)
}

// AbandonLogger is an optional extension of Logger. Handle calls LogAbandoned instead of
// LogTerminal when ctx ends the loop before retrying stopped; attempt is the last attempt made.
type AbandonLogger interface {
	LogAbandoned(err error, attempt uint32)
}

// NoLogging discards everything.
type NoLogging struct{}

func (NoLogging) LogNonterminal(error, uint32) {}
func (NoLogging) LogTerminal(*BackoffError)    {}

// LoggerFuncs adapts functions to Logger and AbandonLogger. Nil fields are skipped.
type LoggerFuncs struct {
	Nonterminal func(err error, attempt uint32)
	Terminal    func(err *BackoffError)
	Abandoned   func(err error, attempt uint32)
}

func (f LoggerFuncs) LogNonterminal(err error, attempt uint32) {
	if f.Nonterminal != nil {
		f.Nonterminal(err, attempt)
	}
}

func (f LoggerFuncs) LogTerminal(err *BackoffError) {
	if f.Terminal != nil {
		f.Terminal(err)
	}
}

func (f LoggerFuncs) LogAbandoned(err error, attempt uint32) {
	if f.Abandoned != nil {
		f.Abandoned(err, attempt)
	}
}

// MultiLogger forwards every call to each logger in order. LogAbandoned reaches only the
// loggers that implement AbandonLogger.
type MultiLogger []Logger

func (m MultiLogger) LogNonterminal(err error, attempt uint32) {
	for _, l := range m {
		if l != nil {
			l.LogNonterminal(err, attempt)
		}
	}
}

func (m MultiLogger) LogTerminal(err *BackoffError) {
	for _, l := range m {
		if l != nil {
			l.LogTerminal(err)
		}
	}
}

func (m MultiLogger) LogAbandoned(err error, attempt uint32) {
	for _, l := range m {
		if al, ok := l.(AbandonLogger); ok {
			al.LogAbandoned(err, attempt)
		}
	}
}

// SlogLogger writes failures to a slog.Logger: Warn for retried and abandoned failures,
// Error for the terminal one.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger returns a SlogLogger. operation may be empty; a nil log uses slog.Default().
func NewSlogLogger(log *slog.Logger, operation string) *SlogLogger {
	if log == nil {
		log = slog.Default()
	}
	if operation != "" {
		log = log.With("operation", operation)
	}
	return &SlogLogger{log: log}
}

func (l *SlogLogger) LogNonterminal(err error, attempt uint32) {
	l.log.LogAttrs(context.Background(), slog.LevelWarn, "attempt failed, retrying",
		slog.Uint64("attempt", uint64(attempt)),
		slog.String("error", errString(err)),
	)
}

func (l *SlogLogger) LogTerminal(err *BackoffError) {
	kind := err.Kind()
	l.log.LogAttrs(context.Background(), slog.LevelError, "retrying stopped",
		slog.Uint64("attempt", uint64(kind.Attempt)),
		slog.String("reason", kind.Reason.String()),
		slog.String("error", errString(err.Err())),
	)
}

func (l *SlogLogger) LogAbandoned(err error, attempt uint32) {
	l.log.LogAttrs(context.Background(), slog.LevelWarn, "retrying abandoned",
		slog.Uint64("attempt", uint64(attempt)),
		slog.String("error", errString(err)),
	)
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
