package backoff

import (
	"errors"
	"fmt"
)

var (
	// ErrZeroLimit is returned by strategy constructors when the attempt limit is zero.
	ErrZeroLimit = errors.New("backoff: limit must be positive")
	// ErrZeroFactor is returned by strategy constructors when a growth factor is zero.
	ErrZeroFactor = errors.New("backoff: factor must be positive")
	// ErrNegativeInterval is returned by strategy constructors for negative base intervals.
	ErrNegativeInterval = errors.New("backoff: interval cannot be negative")
)

// Reason tells why the engine stopped retrying.
type Reason int

const (
	// ReasonUnrecoverable means IsRecoverable rejected the error before the limit was reached.
	ReasonUnrecoverable Reason = iota + 1
	// ReasonExhaustedLimit means the final attempt failed with a recoverable error.
	ReasonExhaustedLimit
	// ReasonUnrecoverableAndExhaustedLimit means the final attempt failed with an unrecoverable error.
	ReasonUnrecoverableAndExhaustedLimit
	// ReasonPeekTerminated means PeekRetry asked to stop.
	ReasonPeekTerminated
	// ReasonIntervalTerminated means the Strategy returned no further interval.
	ReasonIntervalTerminated
)

// String returns the string representation of the Reason.
func (r Reason) String() string {
	switch r {
	case ReasonUnrecoverable:
		return "Unrecoverable"
	case ReasonExhaustedLimit:
		return "ExhaustedLimit"
	case ReasonUnrecoverableAndExhaustedLimit:
		return "UnrecoverableAndExhaustedLimit"
	case ReasonPeekTerminated:
		return "PeekTerminated"
	case ReasonIntervalTerminated:
		return "IntervalTerminated"
	default:
		return "Unknown"
	}
}

// ErrorKind is a Reason together with the 1-based attempt it occurred at.
// For the two exhausted reasons Attempt equals the strategy limit.
type ErrorKind struct {
	Reason  Reason
	Attempt uint32
}

func newKind(r Reason, attempt uint32) ErrorKind {
	if attempt == 0 {
		attempt = 1
	}
	return ErrorKind{Reason: r, Attempt: attempt}
}

// Unrecoverable builds the kind for an error rejected by IsRecoverable at attempt.
func Unrecoverable(attempt uint32) ErrorKind { return newKind(ReasonUnrecoverable, attempt) }

// ExhaustedLimit builds the kind for a recoverable failure of the limit-th attempt.
func ExhaustedLimit(limit uint32) ErrorKind { return newKind(ReasonExhaustedLimit, limit) }

// UnrecoverableAndExhaustedLimit builds the kind for an unrecoverable failure of the limit-th attempt.
func UnrecoverableAndExhaustedLimit(limit uint32) ErrorKind {
	return newKind(ReasonUnrecoverableAndExhaustedLimit, limit)
}

// PeekTerminated builds the kind for a PeekRetry abort at attempt.
func PeekTerminated(attempt uint32) ErrorKind { return newKind(ReasonPeekTerminated, attempt) }

// IntervalTerminated builds the kind for a Strategy cutoff at attempt.
func IntervalTerminated(attempt uint32) ErrorKind {
	return newKind(ReasonIntervalTerminated, attempt)
}

// String returns the reason and its attempt, e.g. "ExhaustedLimit(3)".
func (k ErrorKind) String() string {
	return fmt.Sprintf("%s(%d)", k.Reason, k.Attempt)
}

// Exhausted reports whether the limit was reached.
func (k ErrorKind) Exhausted() bool {
	return k.Reason == ReasonExhaustedLimit || k.Reason == ReasonUnrecoverableAndExhaustedLimit
}

// BackoffError pairs the operation's last error with the reason retrying stopped.
// It is created by the engine only, handed to Logger.LogTerminal and then unwrapped.
type BackoffError struct {
	err  error
	kind ErrorKind
}

func newBackoffError(err error, kind ErrorKind) *BackoffError {
	return &BackoffError{err: err, kind: kind}
}

// Err returns the wrapped operation error.
func (e *BackoffError) Err() error { return e.err }

// Kind returns the terminal reason.
func (e *BackoffError) Kind() ErrorKind { return e.kind }

// Into returns the wrapped error and the kind.
func (e *BackoffError) Into() (error, ErrorKind) { return e.err, e.kind }

// Unwrap returns the wrapped operation error.
func (e *BackoffError) Unwrap() error { return e.err }

func (e *BackoffError) Error() string {
	n := e.kind.Attempt
	switch e.kind.Reason {
	case ReasonUnrecoverable:
		return fmt.Sprintf("after %d attempt(s) the following unrecoverable error was encountered: %v", n, e.err)
	case ReasonExhaustedLimit:
		return fmt.Sprintf("limit of %d was exhausted: %v", n, e.err)
	case ReasonUnrecoverableAndExhaustedLimit:
		return fmt.Sprintf("an unrecoverable error was encountered and the limit of %d was exhausted: %v", n, e.err)
	case ReasonPeekTerminated:
		return fmt.Sprintf("after %d attempt(s), retrying was terminated by peek retry: %v", n, e.err)
	case ReasonIntervalTerminated:
		return fmt.Sprintf("after %d attempt(s), retrying was terminated by the strategy interval: %v", n, e.err)
	default:
		return fmt.Sprintf("retrying stopped after %d attempt(s): %v", n, e.err)
	}
}
