package classify

import (
	"errors"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"

	"backoffkit/pkg/backoff"
)

// RetryAfterPeek honours server delay hints carried by a DelayHinter error (for example an HTTP
// Retry-After header). A hint longer than the planned interval replaces it; a hint longer than
// max stops retrying. max <= 0 accepts any hint.
func RetryAfterPeek(max time.Duration) backoff.PeekFunc {
	return func(err error, planned time.Duration, _ uint32) (time.Duration, bool) {
		var h DelayHinter
		if !errors.As(err, &h) {
			return planned, true
		}
		d, ok := h.RetryDelay()
		if !ok {
			return planned, true
		}
		return applyHint(planned, d, max)
	}
}

// ServerHintPeek honours whichever delay hint err carries: a DelayHinter (HTTP Retry-After)
// or the google.rpc.RetryInfo detail of a gRPC status. It pairs with Default, which retries
// both transports. max bounds the hint as in RetryAfterPeek.
func ServerHintPeek(max time.Duration) backoff.PeekFunc {
	return func(err error, planned time.Duration, _ uint32) (time.Duration, bool) {
		d, ok := ServerHint(err)
		if !ok {
			return planned, true
		}
		return applyHint(planned, d, max)
	}
}

// ServerHint returns the retry delay suggested by the server, if err carries one.
func ServerHint(err error) (time.Duration, bool) {
	var h DelayHinter
	if errors.As(err, &h) {
		if d, ok := h.RetryDelay(); ok {
			return d, true
		}
	}
	return GRPCRetryDelay(err)
}

// GRPCRetryDelay extracts the RetryInfo delay from a gRPC status error.
func GRPCRetryDelay(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	s, ok := status.FromError(err)
	if !ok {
		return 0, false
	}
	for _, d := range s.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
			delay := ri.GetRetryDelay().AsDuration()
			if delay < 0 {
				delay = 0
			}
			return delay, true
		}
	}
	return 0, false
}

// ChainPeek runs peeks in order, feeding each the interval approved by the previous one.
// The first refusal stops retrying.
func ChainPeek(peeks ...backoff.PeekFunc) backoff.PeekFunc {
	return func(err error, planned time.Duration, attempt uint32) (time.Duration, bool) {
		d := planned
		for _, p := range peeks {
			if p == nil {
				continue
			}
			var ok bool
			if d, ok = p(err, d, attempt); !ok {
				return d, false
			}
		}
		return d, true
	}
}

func applyHint(planned, hint, max time.Duration) (time.Duration, bool) {
	if max > 0 && hint > max {
		return planned, false
	}
	if hint > planned {
		return hint, true
	}
	return planned, true
}
