package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffkit/pkg/backoff"
	"backoffkit/pkg/backoff/backofftest"
)

// terminalFor drives the engine into one exit and returns the BackoffError it logged.
func terminalFor(t *testing.T, p backoff.Policy) *backoff.BackoffError {
	t.Helper()
	rec := &backofftest.Recorder{}
	p.Logger = rec
	p.Sleep = (&backofftest.Sleeper{}).Sleep
	_ = backoff.NewHandler(nil).Do(context.Background(), func(context.Context) error { return errBoom }, p)
	terms := rec.Terminals()
	require.Len(t, terms, 1)
	return terms[0]
}

func TestBackoffError_Messages(t *testing.T) {
	never := func(error) bool { return false }
	stop := func(error, time.Duration, uint32) (time.Duration, bool) { return 0, false }

	tests := []struct {
		name   string
		policy backoff.Policy
		kind   backoff.ErrorKind
		msg    string
	}{
		{
			name:   "unrecoverable",
			policy: backoff.Policy{IsRecoverable: never, Strategy: backoff.Constant{MaxAttempts: 3}},
			kind:   backoff.Unrecoverable(1),
			msg:    "after 1 attempt(s) the following unrecoverable error was encountered: boom",
		},
		{
			name:   "exhausted",
			policy: backoff.Policy{Strategy: backoff.Constant{MaxAttempts: 2}},
			kind:   backoff.ExhaustedLimit(2),
			msg:    "limit of 2 was exhausted: boom",
		},
		{
			name:   "unrecoverable and exhausted",
			policy: backoff.Policy{IsRecoverable: never, Strategy: backoff.Constant{MaxAttempts: 1}},
			kind:   backoff.UnrecoverableAndExhaustedLimit(1),
			msg:    "an unrecoverable error was encountered and the limit of 1 was exhausted: boom",
		},
		{
			name:   "peek",
			policy: backoff.Policy{PeekRetry: stop, Strategy: backoff.Constant{MaxAttempts: 4}},
			kind:   backoff.PeekTerminated(1),
			msg:    "after 1 attempt(s), retrying was terminated by peek retry: boom",
		},
		{
			name:   "interval",
			policy: backoff.Policy{Strategy: &backofftest.FixedStrategy{Max: 4}},
			kind:   backoff.IntervalTerminated(1),
			msg:    "after 1 attempt(s), retrying was terminated by the strategy interval: boom",
		},
	}

	seen := map[string]bool{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := terminalFor(t, tt.policy)
			assert.Equal(t, tt.kind, be.Kind())
			assert.Equal(t, tt.msg, be.Error())
			assert.Same(t, errBoom, be.Err())
			assert.True(t, errors.Is(be, errBoom))

			err, kind := be.Into()
			assert.Same(t, errBoom, err)
			assert.Equal(t, tt.kind, kind)

			assert.False(t, seen[be.Error()], "messages must be distinguishable")
			seen[be.Error()] = true
		})
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "ExhaustedLimit(3)", backoff.ExhaustedLimit(3).String())
	assert.Equal(t, "PeekTerminated(2)", backoff.PeekTerminated(2).String())
	assert.Equal(t, uint32(1), backoff.Unrecoverable(0).Attempt)

	assert.True(t, backoff.ExhaustedLimit(3).Exhausted())
	assert.True(t, backoff.UnrecoverableAndExhaustedLimit(3).Exhausted())
	assert.False(t, backoff.IntervalTerminated(3).Exhausted())
	assert.Equal(t, "Unknown", backoff.Reason(0).String())
}
