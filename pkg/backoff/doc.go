// Package backoff provides a retry-with-backoff engine built from three pluggable policies:
// a Strategy that plans the interval for each attempt, a Randomizer that jitters it, and a
// Logger that observes failures.
//
// Key Features:
//   - Fixed upper bound: at most Strategy.Limit() invocations of the operation, never more
//   - Five distinct terminal reasons (ErrorKind) reported to the Logger exactly once
//   - Per-attempt early termination and interval override (Policy.PeekRetry)
//   - Strategy-driven cutoff independent of the attempt limit (Interval returning false)
//   - Constant, Linear, Exponential, Geometric, Capped and Budget strategies
//   - Context-aware sleep; cancellation abandons the loop without further attempts and is
//     reported to loggers that implement AbandonLogger
//
// Basic Usage:
//
//	h := backoff.NewHandler(nil)
//	err := h.Do(ctx, func(ctx context.Context) error {
//	    return client.Ping(ctx)
//	}, backoff.Policy{Strategy: backoff.DefaultConstant()})
//
// With a result and a recoverability check:
//
//	user, err := backoff.Handle(ctx, h, func(ctx context.Context) (*User, error) {
//	    return repo.Get(ctx, id)
//	}, backoff.Policy{
//	    IsRecoverable: shared.Recoverable,
//	    Strategy:      backoff.MustLinear(10*time.Millisecond, 5),
//	    Logger:        backoff.NewSlogLogger(log, "load-user"),
//	})
//
// Overriding the planned interval (for example from a Retry-After header):
//
//	policy.PeekRetry = func(err error, planned time.Duration, attempt uint32) (time.Duration, bool) {
//	    var he *HTTPError
//	    if errors.As(err, &he) && he.RetryAfter > 0 {
//	        return he.RetryAfter, true
//	    }
//	    return planned, true
//	}
//
// The caller only ever sees the operation's own error. The reason retrying stopped is handed to
// Logger.LogTerminal as a *BackoffError and then discarded; callers that need it record it there.
package backoff
