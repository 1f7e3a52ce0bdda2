// Package journal records terminal retry failures for later inspection.
//
// A Journal hands out one RunLogger per retried call. The RunLogger collects every
// non-terminal failure and, when retrying stops, writes a single Entry to the Store.
// Entries are audit output only: nothing reads them back to resume a run.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"backoffkit/pkg/backoff"
)

// AttemptRecord is one failed attempt that was retried.
type AttemptRecord struct {
	Attempt uint32    `json:"attempt"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// ReasonAbandoned marks entries of calls cut short by their context. Other entries carry the
// name of a backoff.Reason.
const ReasonAbandoned = "Abandoned"

// Entry is a terminal failure together with the attempts that preceded it.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	Operation string          `json:"operation"`
	Reason    string          `json:"reason"`
	Attempt   uint32          `json:"attempt"`
	Error     string          `json:"error"`
	Attempts  []AttemptRecord `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store persists entries. List returns the newest entries first; limit <= 0 means all.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
}

// Journal creates run loggers bound to a Store.
type Journal struct {
	store        Store
	log          *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration
}

// Option configures Journal.
type Option func(*Journal)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// WithWriteTimeout bounds each Store.Append call.
func WithWriteTimeout(d time.Duration) Option {
	return func(j *Journal) { j.writeTimeout = d }
}

// New returns a Journal writing to store. Write failures go to log.
func New(store Store, log *slog.Logger, opts ...Option) *Journal {
	if log == nil {
		log = slog.Default()
	}
	j := &Journal{
		store:        store,
		log:          log,
		now:          time.Now,
		writeTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Run returns a logger for a single retried call of operation.
func (j *Journal) Run(operation string) *RunLogger {
	return &RunLogger{j: j, operation: operation}
}

// List returns the newest entries.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	return j.store.List(ctx, limit)
}

// RunLogger implements backoff.Logger for one call. Do not share it between calls.
type RunLogger struct {
	j         *Journal
	operation string

	mu       sync.Mutex
	attempts []AttemptRecord
}

var (
	_ backoff.Logger        = (*RunLogger)(nil)
	_ backoff.AbandonLogger = (*RunLogger)(nil)
)

func (r *RunLogger) LogNonterminal(err error, attempt uint32) {
	rec := AttemptRecord{Attempt: attempt, Error: errText(err), At: r.j.now().UTC()}
	r.mu.Lock()
	r.attempts = append(r.attempts, rec)
	r.mu.Unlock()
}

func (r *RunLogger) LogTerminal(err *backoff.BackoffError) {
	kind := err.Kind()
	r.write(kind.Reason.String(), kind.Attempt, err.Err())
}

// LogAbandoned records a call whose context ended while it was still retrying.
func (r *RunLogger) LogAbandoned(err error, attempt uint32) {
	r.write(ReasonAbandoned, attempt, err)
}

func (r *RunLogger) write(reason string, attempt uint32, err error) {
	r.mu.Lock()
	attempts := r.attempts
	r.attempts = nil
	r.mu.Unlock()

	e := Entry{
		ID:        uuid.New(),
		Operation: r.operation,
		Reason:    reason,
		Attempt:   attempt,
		Error:     errText(err),
		Attempts:  attempts,
		CreatedAt: r.j.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.j.writeTimeout)
	defer cancel()
	if werr := r.j.store.Append(ctx, e); werr != nil {
		r.j.log.Error("journal write failed",
			slog.String("operation", r.operation),
			slog.String("id", e.ID.String()),
			slog.Any("err", werr),
		)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
