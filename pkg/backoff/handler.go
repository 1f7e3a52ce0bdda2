package backoff

import (
	"context"
	"sync"
	"time"
)

// PeekFunc inspects a failure before the engine sleeps. It receives the error, the planned
// (already randomized) interval and the 1-based attempt that failed. Returning true retries
// after the returned interval; returning false stops retrying.
type PeekFunc func(err error, planned time.Duration, attempt uint32) (time.Duration, bool)

// Policy bundles the collaborators of one retry loop. Zero-valued fields fall back to defaults:
// every error is recoverable, the planned interval is approved, SleepContext sleeps,
// DefaultConstant plans and nothing is logged.
type Policy struct {
	IsRecoverable func(err error) bool
	PeekRetry     PeekFunc
	Sleep         SleepFunc
	Strategy      Strategy
	Logger        Logger
}

func (p Policy) withDefaults() Policy {
	if p.IsRecoverable == nil {
		p.IsRecoverable = func(error) bool { return true }
	}
	if p.PeekRetry == nil {
		p.PeekRetry = func(_ error, d time.Duration, _ uint32) (time.Duration, bool) { return d, true }
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	if p.Strategy == nil {
		p.Strategy = DefaultConstant()
	}
	if p.Logger == nil {
		p.Logger = NoLogging{}
	}
	return p
}

// Handler runs operations under a Policy. It owns a Randomizer and serializes access to it,
// so one Handler may be shared between goroutines even when the Randomizer keeps state.
type Handler struct {
	mu         sync.Mutex
	randomizer Randomizer
}

// NewHandler returns a Handler using r. A nil r disables randomization.
func NewHandler(r Randomizer) *Handler {
	if r == nil {
		r = NoRandomization{}
	}
	return &Handler{randomizer: r}
}

func (h *Handler) randomize(d time.Duration) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.randomizer.Randomize(d)
	if out < 0 {
		return 0
	}
	return out
}

// Do runs op until it succeeds or retrying stops, returning op's last error.
func (h *Handler) Do(ctx context.Context, op func(ctx context.Context) error, p Policy) error {
	_, err := Handle(ctx, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, p)
	return err
}

// Handle runs op at most p.Strategy.Limit() times.
//
// After each failure but the last the error is classified with IsRecoverable, an interval is
// planned by the Strategy, randomized by the Handler's Randomizer and offered to PeekRetry;
// the loop then logs the failure as non-terminal and sleeps. The limit-th attempt is not
// peeked. When retrying stops without success the Logger receives exactly one LogTerminal
// call and Handle returns op's own error.
//
// If ctx is done when a non-final attempt fails, or Sleep returns an error, the call is
// abandoned: Handle returns op's last error without LogTerminal. A Logger that also implements
// AbandonLogger is told instead. The limit-th failure always reaches LogTerminal, whatever
// the state of ctx.
func Handle[T any](ctx context.Context, h *Handler, op func(ctx context.Context) (T, error), p Policy) (T, error) {
	if h == nil {
		h = NewHandler(nil)
	}
	p = p.withDefaults()

	limit := p.Strategy.Limit()
	if limit < 1 {
		limit = 1
	}

	// terminal is the single exit for every failure that stops retrying.
	terminal := func(err error, kind ErrorKind) error {
		be := newBackoffError(err, kind)
		p.Logger.LogTerminal(be)
		return be.Err()
	}

	abandon := func(err error, attempt uint32) error {
		if al, ok := p.Logger.(AbandonLogger); ok {
			al.LogAbandoned(err, attempt)
		}
		return err
	}

	var zero T
	for attempt := uint32(1); attempt < limit; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, abandon(err, attempt)
		}
		if !p.IsRecoverable(err) {
			return zero, terminal(err, Unrecoverable(attempt))
		}
		planned, ok := p.Strategy.Interval(attempt)
		if !ok {
			return zero, terminal(err, IntervalTerminated(attempt))
		}
		planned = h.randomize(planned)
		wait, ok := p.PeekRetry(err, planned, attempt)
		if !ok {
			return zero, terminal(err, PeekTerminated(attempt))
		}
		if wait < 0 {
			wait = 0
		}
		p.Logger.LogNonterminal(err, attempt)
		if serr := p.Sleep(ctx, wait); serr != nil {
			return zero, abandon(err, attempt)
		}
	}

	v, err := op(ctx)
	if err == nil {
		return v, nil
	}
	if p.IsRecoverable(err) {
		return zero, terminal(err, ExhaustedLimit(limit))
	}
	return zero, terminal(err, UnrecoverableAndExhaustedLimit(limit))
}
