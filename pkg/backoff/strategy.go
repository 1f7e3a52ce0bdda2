package backoff

import (
	"fmt"
	"math"
	"time"
)

// maxDuration is the saturation point for interval arithmetic.
const maxDuration = time.Duration(math.MaxInt64)

// Strategy plans the wait before each retry and bounds the number of attempts.
//
// Interval receives the 1-based number of the attempt that just failed and returns the delay
// before the next one. Returning false stops retrying immediately (a timeout-style cutoff that
// is independent of the limit). Limit is the maximum number of operation invocations.
type Strategy interface {
	Interval(attempt uint32) (time.Duration, bool)
	Limit() uint32
}

// Constant waits the same Delay before every retry.
type Constant struct {
	Delay       time.Duration
	MaxAttempts uint32
}

// NewConstant returns a Constant strategy after validating its parameters.
func NewConstant(delay time.Duration, maxAttempts uint32) (Constant, error) {
	if maxAttempts == 0 {
		return Constant{}, ErrZeroLimit
	}
	if delay < 0 {
		return Constant{}, ErrNegativeInterval
	}
	return Constant{Delay: delay, MaxAttempts: maxAttempts}, nil
}

// DefaultConstant waits 25ms between at most 10 attempts.
func DefaultConstant() Constant {
	return Constant{Delay: 25 * time.Millisecond, MaxAttempts: 10}
}

func (c Constant) Interval(uint32) (time.Duration, bool) { return c.Delay, true }
func (c Constant) Limit() uint32                         { return c.MaxAttempts }

func (c Constant) String() string {
	return fmt.Sprintf("constant(%s, limit=%d)", c.Delay, c.MaxAttempts)
}

// Linear waits Base*attempt.
type Linear struct {
	Base        time.Duration
	MaxAttempts uint32
}

// NewLinear returns a Linear strategy after validating its parameters.
func NewLinear(base time.Duration, maxAttempts uint32) (Linear, error) {
	if maxAttempts == 0 {
		return Linear{}, ErrZeroLimit
	}
	if base < 0 {
		return Linear{}, ErrNegativeInterval
	}
	return Linear{Base: base, MaxAttempts: maxAttempts}, nil
}

// MustLinear is like NewLinear but panics on invalid parameters.
func MustLinear(base time.Duration, maxAttempts uint32) Linear {
	l, err := NewLinear(base, maxAttempts)
	if err != nil {
		panic(err)
	}
	return l
}

// DefaultLinear grows by 10ms per attempt over at most 10 attempts.
func DefaultLinear() Linear {
	return Linear{Base: 10 * time.Millisecond, MaxAttempts: 10}
}

func (l Linear) Interval(attempt uint32) (time.Duration, bool) {
	return mulDuration(l.Base, uint64(attempt)), true
}

func (l Linear) Limit() uint32 { return l.MaxAttempts }

func (l Linear) String() string {
	return fmt.Sprintf("linear(%s, limit=%d)", l.Base, l.MaxAttempts)
}

// Exponential waits Base*(Factor*attempt).
//
// The growth is linear in attempt with slope Base*Factor; it is kept this way so existing
// schedules do not change. Use Geometric for Base*Multiplier^(attempt-1).
type Exponential struct {
	Base        time.Duration
	Factor      uint32
	MaxAttempts uint32
}

// NewExponential returns an Exponential strategy after validating its parameters.
func NewExponential(base time.Duration, factor, maxAttempts uint32) (Exponential, error) {
	if maxAttempts == 0 {
		return Exponential{}, ErrZeroLimit
	}
	if factor == 0 {
		return Exponential{}, ErrZeroFactor
	}
	if base < 0 {
		return Exponential{}, ErrNegativeInterval
	}
	return Exponential{Base: base, Factor: factor, MaxAttempts: maxAttempts}, nil
}

// DefaultExponential starts at 5ms with factor 2 over at most 5 attempts.
func DefaultExponential() Exponential {
	return Exponential{Base: 5 * time.Millisecond, Factor: 2, MaxAttempts: 5}
}

func (e Exponential) Interval(attempt uint32) (time.Duration, bool) {
	return mulDuration(e.Base, uint64(e.Factor)*uint64(attempt)), true
}

func (e Exponential) Limit() uint32 { return e.MaxAttempts }

func (e Exponential) String() string {
	return fmt.Sprintf("exponential(%s, factor=%d, limit=%d)", e.Base, e.Factor, e.MaxAttempts)
}

// Geometric waits Base*Multiplier^(attempt-1), saturating instead of overflowing.
type Geometric struct {
	Base        time.Duration
	Multiplier  float64
	MaxAttempts uint32
}

// NewGeometric returns a Geometric strategy after validating its parameters.
func NewGeometric(base time.Duration, multiplier float64, maxAttempts uint32) (Geometric, error) {
	if maxAttempts == 0 {
		return Geometric{}, ErrZeroLimit
	}
	if multiplier <= 0 || math.IsNaN(multiplier) {
		return Geometric{}, ErrZeroFactor
	}
	if base < 0 {
		return Geometric{}, ErrNegativeInterval
	}
	return Geometric{Base: base, Multiplier: multiplier, MaxAttempts: maxAttempts}, nil
}

func (g Geometric) Interval(attempt uint32) (time.Duration, bool) {
	if attempt == 0 {
		attempt = 1
	}
	f := float64(g.Base) * math.Pow(g.Multiplier, float64(attempt-1))
	if math.IsInf(f, 0) || math.IsNaN(f) || f >= float64(maxDuration) {
		return maxDuration, true
	}
	return time.Duration(f), true
}

func (g Geometric) Limit() uint32 { return g.MaxAttempts }

func (g Geometric) String() string {
	return fmt.Sprintf("geometric(%s, x%g, limit=%d)", g.Base, g.Multiplier, g.MaxAttempts)
}

// Capped clamps every interval of the wrapped strategy to Ceiling.
type Capped struct {
	Strategy Strategy
	Ceiling  time.Duration
}

func (c Capped) Interval(attempt uint32) (time.Duration, bool) {
	d, ok := c.Strategy.Interval(attempt)
	if !ok {
		return 0, false
	}
	if c.Ceiling > 0 && d > c.Ceiling {
		d = c.Ceiling
	}
	return d, true
}

func (c Capped) Limit() uint32 { return c.Strategy.Limit() }

// Budget stops retrying once the sum of planned intervals up to and including attempt
// would exceed Total. The sum is recomputed on every call, so Budget holds no state.
type Budget struct {
	Strategy Strategy
	Total    time.Duration
}

func (b Budget) Interval(attempt uint32) (time.Duration, bool) {
	var sum time.Duration
	var last time.Duration
	for i := uint32(1); i <= attempt; i++ {
		d, ok := b.Strategy.Interval(i)
		if !ok {
			return 0, false
		}
		sum = addDuration(sum, d)
		last = d
	}
	if sum > b.Total {
		return 0, false
	}
	return last, true
}

func (b Budget) Limit() uint32 { return b.Strategy.Limit() }

func mulDuration(d time.Duration, n uint64) time.Duration {
	if d <= 0 || n == 0 {
		return 0
	}
	if n > uint64(maxDuration/d) {
		return maxDuration
	}
	return d * time.Duration(n)
}

func addDuration(a, b time.Duration) time.Duration {
	if a > maxDuration-b {
		return maxDuration
	}
	return a + b
}
