// Package metrics exports retry activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"backoffkit/pkg/backoff"
)

// Collectors groups the retry metrics. Register them once per registry with NewCollectors.
type Collectors struct {
	// Retries counts failures that were retried.
	Retries *prometheus.CounterVec
	// Terminal counts calls that stopped retrying without success.
	Terminal *prometheus.CounterVec
	// Abandoned counts calls whose context ended while they were still retrying.
	Abandoned *prometheus.CounterVec
	// Attempts observes the attempt (or limit) at which retrying stopped.
	Attempts *prometheus.HistogramVec
}

// NewCollectors creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoff_retries_total",
				Help: "Total number of failed attempts that were retried",
			},
			[]string{"operation"},
		),
		Terminal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoff_terminal_total",
				Help: "Total number of calls that stopped retrying, by reason",
			},
			[]string{"operation", "reason"},
		),
		Abandoned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoff_abandoned_total",
				Help: "Total number of calls abandoned by their context while retrying",
			},
			[]string{"operation"},
		),
		Attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoff_terminal_attempts",
				Help:    "Attempt number at which retrying stopped",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(c.Retries, c.Terminal, c.Abandoned, c.Attempts)
	return c
}

// Logger returns a backoff.Logger recording into c under operation.
func (c *Collectors) Logger(operation string) *Logger {
	return &Logger{c: c, operation: operation}
}

// Logger implements backoff.Logger. Unlike journal run loggers it keeps no per-call state
// and may be shared.
type Logger struct {
	c         *Collectors
	operation string
}

var (
	_ backoff.Logger        = (*Logger)(nil)
	_ backoff.AbandonLogger = (*Logger)(nil)
)

func (l *Logger) LogNonterminal(error, uint32) {
	l.c.Retries.WithLabelValues(l.operation).Inc()
}

func (l *Logger) LogTerminal(err *backoff.BackoffError) {
	kind := err.Kind()
	l.c.Terminal.WithLabelValues(l.operation, kind.Reason.String()).Inc()
	l.c.Attempts.WithLabelValues(l.operation).Observe(float64(kind.Attempt))
}

func (l *Logger) LogAbandoned(error, uint32) {
	l.c.Abandoned.WithLabelValues(l.operation).Inc()
}
