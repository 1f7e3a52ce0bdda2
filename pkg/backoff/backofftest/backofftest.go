// Package backofftest provides recording fakes for testing code that uses package backoff.
package backofftest

import (
	"context"
	"sync"
	"time"

	"backoffkit/pkg/backoff"
)

// Nonterminal is one recorded LogNonterminal call.
type Nonterminal struct {
	Err     error
	Attempt uint32
}

// Recorder is a backoff.Logger and backoff.AbandonLogger that remembers every call.
// Safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	nonterminal []Nonterminal
	terminal    []*backoff.BackoffError
	abandoned   []Nonterminal
}

func (r *Recorder) LogNonterminal(err error, attempt uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nonterminal = append(r.nonterminal, Nonterminal{Err: err, Attempt: attempt})
}

func (r *Recorder) LogTerminal(err *backoff.BackoffError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = append(r.terminal, err)
}

func (r *Recorder) LogAbandoned(err error, attempt uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = append(r.abandoned, Nonterminal{Err: err, Attempt: attempt})
}

// Abandoned returns a copy of the recorded LogAbandoned calls.
func (r *Recorder) Abandoned() []Nonterminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Nonterminal(nil), r.abandoned...)
}

// Nonterminals returns a copy of the recorded non-terminal calls.
func (r *Recorder) Nonterminals() []Nonterminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Nonterminal(nil), r.nonterminal...)
}

// Terminals returns a copy of the recorded terminal calls.
func (r *Recorder) Terminals() []*backoff.BackoffError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*backoff.BackoffError(nil), r.terminal...)
}

// Kinds returns the kinds of the recorded terminal calls.
func (r *Recorder) Kinds() []backoff.ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]backoff.ErrorKind, 0, len(r.terminal))
	for _, t := range r.terminal {
		out = append(out, t.Kind())
	}
	return out
}

// Sleeper records requested sleeps and returns at once. Err, when set, is returned from
// the sleep call with index FailAt (0-based); FailAt < 0 fails every call.
type Sleeper struct {
	mu     sync.Mutex
	calls  []time.Duration
	Err    error
	FailAt int
}

// Sleep satisfies backoff.SleepFunc.
func (s *Sleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.calls)
	s.calls = append(s.calls, d)
	if s.Err != nil && (s.FailAt < 0 || s.FailAt == idx) {
		return s.Err
	}
	return nil
}

// Calls returns the durations passed to Sleep so far.
func (s *Sleeper) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

// Script is an operation that fails with Errs in order, then succeeds.
// A nil entry in Errs is a success.
type Script struct {
	mu    sync.Mutex
	Errs  []error
	calls int
}

// NewScript returns a Script failing with errs in order.
func NewScript(errs ...error) *Script {
	return &Script{Errs: errs}
}

// Run satisfies the operation signature of backoff.Handler.Do.
func (s *Script) Run(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.Errs) {
		return s.Errs[i]
	}
	return nil
}

// Calls returns how many times Run was invoked.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// FixedStrategy returns Intervals[attempt-1] for each attempt. A negative entry, or an attempt
// past the end of Intervals, stops retrying. Queried records the attempts Interval was asked for.
type FixedStrategy struct {
	mu        sync.Mutex
	Intervals []time.Duration
	Max       uint32
	queried   []uint32
}

func (f *FixedStrategy) Interval(attempt uint32) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, attempt)
	i := int(attempt) - 1
	if i < 0 || i >= len(f.Intervals) || f.Intervals[i] < 0 {
		return 0, false
	}
	return f.Intervals[i], true
}

func (f *FixedStrategy) Limit() uint32 { return f.Max }

// Queried returns the attempts Interval was called with.
func (f *FixedStrategy) Queried() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.queried...)
}
