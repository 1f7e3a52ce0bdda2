// Package shared contains the error taxonomy used across the module to decide whether a failure
// is worth retrying.
//
// # Error Kinds
//
// Sentinel errors name the conditions callers care about:
//
//   - ErrTransient: a failure expected to clear up on its own
//   - ErrRateLimited: the remote side asked us to slow down
//   - ErrTimeout: an operation timed out
//   - ErrDependencyFailure: an external dependency failed
//   - ErrValidation: input validation failed
//   - ErrNotFound: a resource was not found
//   - ErrPermanent: retrying will not change the outcome
//
// KindOf classifies an error; when several kinds are present (errors.Join) the first in
// priority order wins:
//
//	Priority | Kind                  | Recoverable
//	---------|-----------------------|------------
//	1        | KindCanceled          | no
//	2        | KindPermanent         | no
//	3        | KindValidation        | no
//	4        | KindNotFound          | no
//	5        | KindTimeout           | yes
//	6        | KindRateLimited       | yes
//	7        | KindDependencyFailure | yes
//	8        | KindTransient         | yes
//
// # Use With backoff
//
// Recoverable plugs straight into a retry policy:
//
//	err := h.Do(ctx, op, backoff.Policy{
//	    IsRecoverable: shared.Recoverable,
//	    Strategy:      backoff.DefaultLinear(),
//	})
//
// Adapters translate foreign errors with MarkKind so the classification survives wrapping:
//
//	if resp.StatusCode == http.StatusTooManyRequests {
//	    return shared.MarkKind(err, shared.KindRateLimited)
//	}
//
// # Wrapping
//
// Wrap and Wrapf add context while keeping errors.Is working. Messages are lowercase and
// without trailing punctuation so they compose. Cause and UnwrapAll walk the chain,
// including joined errors.
package shared
