package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffkit/pkg/backoff"
	"backoffkit/pkg/backoff/backofftest"
)

func TestScheduler_RunOnceRetries(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	sl := &backofftest.Sleeper{}
	rec := &backofftest.Recorder{}
	var loggers int64
	script := backofftest.NewScript(errors.New("flaky"), errors.New("flaky"))

	err := s.RunOnce(context.Background(), script.Run, JobOptions{
		Name: "probe",
		Retry: &RetryOptions{
			Strategy: backoff.Linear{Base: 10 * time.Millisecond, MaxAttempts: 5},
			Sleep:    sl.Sleep,
			NewLogger: func(name string) backoff.Logger {
				atomic.AddInt64(&loggers, 1)
				assert.Equal(t, "probe", name)
				return rec
			},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, script.Calls())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sl.Calls())
	assert.Len(t, rec.Nonterminals(), 2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&loggers), "один логгер на запуск")
}

func TestScheduler_RunOnceUnrecoverable(t *testing.T) {
	var finishErr error
	s := New(Config{JobHooks: JobHooks{
		OnJobFinish: func(_ string, _ time.Duration, err error) { finishErr = err },
	}})
	defer s.Stop()

	fatal := errors.New("bad config")
	rec := &backofftest.Recorder{}
	calls := 0
	err := s.RunOnce(context.Background(), func(context.Context) error {
		calls++
		return fatal
	}, JobOptions{Retry: &RetryOptions{
		Strategy:      backoff.Constant{MaxAttempts: 4},
		IsRecoverable: func(err error) bool { return !errors.Is(err, fatal) },
		NewLogger:     func(string) backoff.Logger { return rec },
	}})

	require.ErrorIs(t, err, fatal)
	assert.ErrorIs(t, finishErr, fatal)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []backoff.ErrorKind{backoff.Unrecoverable(1)}, rec.Kinds())
}

func TestScheduler_RunOnceWithoutRetry(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	calls := 0
	err := s.RunOnce(context.Background(), func(context.Context) error {
		calls++
		return errors.New("once")
	}, JobOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestScheduler_RunOncePanic(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	err := s.RunOnce(context.Background(), func(context.Context) error { panic("boom") }, JobOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestScheduler_TimeoutCoversRetries(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var calls, abandoned, terminal int64
	start := time.Now()
	err := s.RunOnce(context.Background(), func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return errors.New("down")
	}, JobOptions{
		Timeout: 100 * time.Millisecond,
		Retry: &RetryOptions{
			Strategy: backoff.Constant{Delay: time.Hour, MaxAttempts: 10},
			NewLogger: func(string) backoff.Logger {
				return backoff.LoggerFuncs{
					Terminal:  func(*backoff.BackoffError) { atomic.AddInt64(&terminal, 1) },
					Abandoned: func(error, uint32) { atomic.AddInt64(&abandoned, 1) },
				}
			},
		},
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "таймаут прерывает ожидание между попытками")
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&abandoned), "прерванный запуск попадает в логгер")
	assert.Zero(t, atomic.LoadInt64(&terminal))
}

func TestScheduler_TickerJobWithRetry(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var attempts int64
	job := func(ctx context.Context) error {
		if atomic.AddInt64(&attempts, 1)%2 == 1 {
			return errors.New("odd attempt")
		}
		return nil
	}

	var failures int64
	s.AddTickerJobWithOptions(50*time.Millisecond, job, JobOptions{
		Name:          "retrying",
		OverlapPolicy: SkipIfRunning,
		Retry: &RetryOptions{
			Strategy: backoff.Constant{Delay: time.Millisecond, MaxAttempts: 2},
			NewLogger: func(string) backoff.Logger {
				return backoff.LoggerFuncs{Terminal: func(*backoff.BackoffError) { atomic.AddInt64(&failures, 1) }}
			},
		},
	})
	s.Start()

	waitFor(t, &attempts, 4)
	assert.Equal(t, int64(0), atomic.LoadInt64(&failures), "каждый запуск проходит со второй попытки")
}
