// Package classify decides which failures are worth retrying and shapes retry intervals from
// server hints. Its predicates plug into backoff.Policy.IsRecoverable and its peek hooks into
// backoff.Policy.PeekRetry.
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"backoffkit/internal/shared"
)

// Predicate reports whether err is worth retrying.
type Predicate func(err error) bool

// StatusError is implemented by errors that carry an HTTP status code.
type StatusError interface {
	error
	HTTPStatus() int
}

// DelayHinter is implemented by errors that carry a server-suggested retry delay.
type DelayHinter interface {
	error
	RetryDelay() (time.Duration, bool)
}

var transientErrnos = []error{
	syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
	syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EPIPE,
	syscall.EHOSTUNREACH, syscall.ETIMEDOUT,
}

// Network reports whether err is a transport failure that may clear up: timeouts, reset or
// refused connections, unexpected EOF, closed connections and temporary DNS failures.
// Cancellation is never retried.
func Network(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return true
	}
	return false
}

// HTTPStatus reports whether a response with this status should be retried:
// 408, 421, 425, 429 and every 5xx except 501 and 505.
func HTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusMisdirectedRequest, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	case http.StatusNotImplemented, http.StatusHTTPVersionNotSupported:
		return false
	}
	return code >= 500 && code <= 599
}

// StatusKind maps an HTTP status to the shared error taxonomy.
func StatusKind(code int) shared.Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return shared.KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return shared.KindTimeout
	case code == http.StatusNotFound || code == http.StatusGone:
		return shared.KindNotFound
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return shared.KindValidation
	case HTTPStatus(code):
		return shared.KindDependencyFailure
	case code >= 400:
		return shared.KindPermanent
	default:
		return shared.KindUnknown
	}
}

// HTTP reports whether err carries a retryable HTTP status.
func HTTP(err error) bool {
	var se StatusError
	return errors.As(err, &se) && HTTPStatus(se.HTTPStatus())
}

// GRPCCode reports whether a gRPC status code is worth retrying.
func GRPCCode(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}

// GRPC reports whether err is a gRPC status error with a retryable code.
func GRPC(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	return GRPCCode(s.Code())
}

// Kind reports whether the shared taxonomy considers err recoverable.
func Kind(err error) bool {
	return shared.Recoverable(err)
}

// Any is true when at least one predicate is.
func Any(preds ...Predicate) Predicate {
	return func(err error) bool {
		for _, p := range preds {
			if p != nil && p(err) {
				return true
			}
		}
		return false
	}
}

// Unless wraps p so that errors matching veto are never retried.
func Unless(p Predicate, veto Predicate) Predicate {
	return func(err error) bool {
		if veto(err) {
			return false
		}
		return p(err)
	}
}

// Default combines the shared taxonomy, transport failures, HTTP statuses and gRPC codes,
// never retrying cancellation or anything marked permanent or invalid.
func Default() Predicate {
	return Unless(Any(Kind, Network, HTTP, GRPC), func(err error) bool {
		switch shared.KindOf(err) {
		case shared.KindCanceled, shared.KindPermanent, shared.KindValidation:
			return true
		}
		return false
	})
}
