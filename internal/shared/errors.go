package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors. Mark third-party errors with MarkKind so KindOf and Recoverable see them.
var (
	// ErrTransient indicates a failure expected to clear up on its own.
	ErrTransient = errors.New("transient failure")

	// ErrRateLimited indicates the remote side asked us to slow down.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrDependencyFailure indicates that an external dependency failed.
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrValidation indicates that input validation failed.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrPermanent indicates a failure that will not change on retry.
	ErrPermanent = errors.New("permanent failure")
)

// Kind is a category of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindCanceled
	KindTimeout
	KindRateLimited
	KindTransient
	KindDependencyFailure
	KindValidation
	KindNotFound
	KindPermanent
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindCanceled:
		return "Canceled"
	case KindTimeout:
		return "Timeout"
	case KindRateLimited:
		return "RateLimited"
	case KindTransient:
		return "Transient"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindPermanent:
		return "Permanent"
	default:
		return "Unknown"
	}
}

// Recoverable reports whether errors of this kind may succeed when retried.
func (k Kind) Recoverable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindTransient, KindDependencyFailure:
		return true
	default:
		return false
	}
}

// kindPriorities is the order KindOf checks in. Permanent conditions win over
// recoverable ones so a joined error is never retried by accident.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindPermanent, ErrPermanent},
	{KindValidation, ErrValidation},
	{KindNotFound, ErrNotFound},
	{KindTimeout, ErrTimeout},
	{KindRateLimited, ErrRateLimited},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindTransient, ErrTransient},
}

// KindOf classifies err by walking its chain in priority order:
// Canceled, Permanent, Validation, NotFound, Timeout, RateLimited, DependencyFailure, Transient.
// Timeout also matches context.DeadlineExceeded and net.Error timeouts.
// Returns KindUnknown for nil and unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		switch p.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, p.err) {
				return p.kind
			}
		}
	}
	return KindUnknown
}

// HasKind reports whether KindOf(err) == kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Recoverable is a backoff.Policy IsRecoverable predicate: timeouts, rate limits,
// transient and dependency failures are retried; everything else is not.
func Recoverable(err error) bool {
	return KindOf(err).Recoverable()
}

// SentinelOf returns the sentinel error for kind, or nil for KindUnknown and KindCanceled.
func SentinelOf(kind Kind) error {
	for _, p := range kindPriorities {
		if p.kind == kind {
			return p.err
		}
	}
	return nil
}

// MarkKind wraps err with the sentinel for kind so that both KindOf(result) == kind and
// errors.Is(result, err) hold. Marking an error with the kind it already has returns it
// unchanged. A nil err yields the bare sentinel.
//
//	resp, err := client.Do(req)
//	if err != nil {
//	    return shared.MarkKind(err, shared.KindDependencyFailure)
//	}
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap returns "msg: err". A nil err stays nil, an empty msg returns err unchanged.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if msg == "" {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether err is, or wraps, context.Canceled.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err is a deadline, a net.Error timeout or ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// UnwrapAll flattens the error graph breadth-first, outermost first. Joined errors are expanded.
func UnwrapAll(err error) []error {
	if err == nil {
		return nil
	}
	var out []error
	seen := make(map[error]struct{})
	queue := []error{err}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		out = append(out, cur)

		switch u := cur.(type) {
		case interface{ Unwrap() []error }:
			queue = append(queue, u.Unwrap()...)
		case interface{ Unwrap() error }:
			if next := u.Unwrap(); next != nil {
				queue = append(queue, next)
			}
		}
	}
	return out
}

// Cause returns the innermost error of err's chain. For joined errors it returns the last leaf
// found by UnwrapAll.
func Cause(err error) error {
	all := UnwrapAll(err)
	for i := len(all) - 1; i >= 0; i-- {
		switch u := all[i].(type) {
		case interface{ Unwrap() []error }:
			if len(u.Unwrap()) > 0 {
				continue
			}
		case interface{ Unwrap() error }:
			if u.Unwrap() != nil {
				continue
			}
		}
		return all[i]
	}
	return err
}
