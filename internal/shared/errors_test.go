package shared_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffkit/internal/shared"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected shared.Kind
	}{
		{"nil", nil, shared.KindUnknown},
		{"plain", errors.New("plain"), shared.KindUnknown},
		{"canceled", context.Canceled, shared.KindCanceled},
		{"deadline", context.DeadlineExceeded, shared.KindTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, shared.KindTimeout},
		{"wrapped timeout", fmt.Errorf("call: %w", shared.ErrTimeout), shared.KindTimeout},
		{"rate limited", shared.ErrRateLimited, shared.KindRateLimited},
		{"transient", shared.Wrap(shared.ErrTransient, "ping"), shared.KindTransient},
		{"dependency", shared.ErrDependencyFailure, shared.KindDependencyFailure},
		{"validation", shared.ErrValidation, shared.KindValidation},
		{"not found", shared.ErrNotFound, shared.KindNotFound},
		{"permanent", shared.ErrPermanent, shared.KindPermanent},
		{"joined permanent wins", errors.Join(shared.ErrTransient, shared.ErrPermanent), shared.KindPermanent},
		{"joined canceled wins", errors.Join(shared.ErrPermanent, context.Canceled), shared.KindCanceled},
		{"joined timeout over transient", errors.Join(shared.ErrTransient, shared.ErrTimeout), shared.KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, shared.KindOf(tt.err))
			assert.True(t, shared.HasKind(tt.err, tt.expected))
		})
	}
}

func TestRecoverable(t *testing.T) {
	recoverable := []error{
		shared.ErrTransient,
		shared.ErrRateLimited,
		shared.ErrTimeout,
		shared.ErrDependencyFailure,
		context.DeadlineExceeded,
	}
	for _, err := range recoverable {
		assert.True(t, shared.Recoverable(err), "%v", err)
	}

	unrecoverable := []error{
		nil,
		errors.New("unknown"),
		context.Canceled,
		shared.ErrValidation,
		shared.ErrNotFound,
		shared.ErrPermanent,
	}
	for _, err := range unrecoverable {
		assert.False(t, shared.Recoverable(err), "%v", err)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "RateLimited", shared.KindRateLimited.String())
	assert.Equal(t, "Permanent", shared.KindPermanent.String())
	assert.Equal(t, "Unknown", shared.Kind(99).String())
}

func TestMarkKind(t *testing.T) {
	orig := errors.New("503 from upstream")

	marked := shared.MarkKind(orig, shared.KindDependencyFailure)
	require.Error(t, marked)
	assert.ErrorIs(t, marked, orig)
	assert.ErrorIs(t, marked, shared.ErrDependencyFailure)
	assert.Equal(t, shared.KindDependencyFailure, shared.KindOf(marked))

	assert.Same(t, marked, shared.MarkKind(marked, shared.KindDependencyFailure), "idempotent")
	assert.Same(t, orig, shared.MarkKind(orig, shared.KindUnknown))
	assert.Same(t, orig, shared.MarkKind(orig, shared.KindCanceled))
	assert.Equal(t, shared.ErrTimeout, shared.MarkKind(nil, shared.KindTimeout))
	assert.Nil(t, shared.MarkKind(nil, shared.KindUnknown))
}

func TestSentinelOf(t *testing.T) {
	assert.Equal(t, shared.ErrRateLimited, shared.SentinelOf(shared.KindRateLimited))
	assert.Nil(t, shared.SentinelOf(shared.KindCanceled))
	assert.Nil(t, shared.SentinelOf(shared.KindUnknown))
}

func TestWrap(t *testing.T) {
	base := errors.New("original")

	assert.Nil(t, shared.Wrap(nil, "ctx"))
	assert.Same(t, base, shared.Wrap(base, ""))

	w := shared.Wrap(base, "wrapper")
	assert.Equal(t, "wrapper: original", w.Error())
	assert.ErrorIs(t, w, base)

	wf := shared.Wrapf(base, "attempt %d", 3)
	assert.Equal(t, "attempt 3: original", wf.Error())
	assert.Nil(t, shared.Wrapf(nil, "attempt %d", 3))
}

func TestIsTimeoutAndCanceled(t *testing.T) {
	assert.True(t, shared.IsTimeout(context.DeadlineExceeded))
	assert.True(t, shared.IsTimeout(timeoutErr{}))
	assert.False(t, shared.IsTimeout(nil))
	assert.False(t, shared.IsTimeout(errors.New("x")))

	assert.True(t, shared.IsCanceled(fmt.Errorf("op: %w", context.Canceled)))
	assert.False(t, shared.IsCanceled(nil))
}

func TestUnwrapAllAndCause(t *testing.T) {
	root := errors.New("root")
	other := errors.New("other")
	chain := shared.Wrap(shared.Wrap(root, "inner"), "outer")

	all := shared.UnwrapAll(chain)
	require.Len(t, all, 3)
	assert.Same(t, chain, all[0])
	assert.Same(t, root, all[2])
	assert.Same(t, root, shared.Cause(chain))

	joined := errors.Join(root, other)
	all = shared.UnwrapAll(joined)
	assert.Len(t, all, 3)
	assert.Same(t, other, shared.Cause(joined))

	assert.Nil(t, shared.UnwrapAll(nil))
	assert.Nil(t, shared.Cause(nil))
	assert.Same(t, root, shared.Cause(root))
}
