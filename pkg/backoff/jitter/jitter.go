// Package jitter provides backoff.Randomizer implementations that spread retries of
// concurrent callers apart.
//
// Each randomizer owns its own *rand.Rand and is not safe for concurrent use on its own;
// a backoff.Handler serializes access to the randomizer it owns. Wrap with Locked to share
// one randomizer between several handlers.
package jitter

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"backoffkit/pkg/backoff"
)

// Names accepted by New.
const (
	NameNone         = "none"
	NameFull         = "full"
	NameEqual        = "equal"
	NameProportional = "proportional"
	NameDecorrelated = "decorrelated"
)

// NewSource returns a PCG generator seeded from crypto/rand, falling back to the clock when
// the system entropy source fails.
func NewSource() *mrand.Rand {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		now := uint64(time.Now().UnixNano())
		return mrand.New(mrand.NewPCG(now, now>>1)) // #nosec G404 -- jitter, not security
	}
	return mrand.New(mrand.NewPCG( // #nosec G404 -- jitter, not security
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}

func orSource(rng *mrand.Rand) *mrand.Rand {
	if rng == nil {
		return NewSource()
	}
	return rng
}

// Full returns a uniformly random duration in [0, d).
type Full struct {
	rng *mrand.Rand
}

// NewFull returns a Full randomizer. A nil rng is replaced by NewSource().
func NewFull(rng *mrand.Rand) *Full { return &Full{rng: orSource(rng)} }

func (f *Full) Randomize(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(f.rng.Int64N(int64(d)))
}

// Equal keeps half of d and randomizes the other half: d/2 + [0, d/2).
type Equal struct {
	rng *mrand.Rand
}

// NewEqual returns an Equal randomizer. A nil rng is replaced by NewSource().
func NewEqual(rng *mrand.Rand) *Equal { return &Equal{rng: orSource(rng)} }

func (e *Equal) Randomize(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	if d-half <= 0 {
		return d
	}
	return half + time.Duration(e.rng.Int64N(int64(d-half)))
}

// Proportional moves d by up to ±Fraction of itself. Fraction is clamped to [0, 1].
type Proportional struct {
	Fraction float64
	rng      *mrand.Rand
}

// NewProportional returns a Proportional randomizer. A nil rng is replaced by NewSource().
func NewProportional(fraction float64, rng *mrand.Rand) *Proportional {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	return &Proportional{Fraction: fraction, rng: orSource(rng)}
}

func (p *Proportional) Randomize(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := time.Duration(float64(d) * p.Fraction)
	if spread <= 0 {
		return d
	}
	if spread > math.MaxInt64/2-1 {
		spread = math.MaxInt64/2 - 1
	}
	// [d-spread, d+spread], saturating at the top.
	offset := time.Duration(p.rng.Int64N(int64(spread)*2+1)) - spread
	out := d + offset
	if offset > 0 && out < d {
		return d
	}
	if out < 0 {
		return 0
	}
	return out
}

// Decorrelated picks the next interval in [Base, prev*3), capped at Cap, where prev is the
// previous result. The planned interval is used as Base when Base is zero, and as Cap when
// Cap is zero.
type Decorrelated struct {
	Base time.Duration
	Cap  time.Duration
	prev time.Duration
	rng  *mrand.Rand
}

// NewDecorrelated returns a Decorrelated randomizer. A nil rng is replaced by NewSource().
func NewDecorrelated(base, limit time.Duration, rng *mrand.Rand) *Decorrelated {
	return &Decorrelated{Base: base, Cap: limit, rng: orSource(rng)}
}

func (r *Decorrelated) Randomize(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	base := r.Base
	if base <= 0 || base > d {
		base = d
	}
	ceiling := r.Cap
	if ceiling <= 0 {
		ceiling = d * 3
		if ceiling < d {
			ceiling = d
		}
	}
	prev := r.prev
	if prev < base {
		prev = base
	}
	upper := prev * 3
	if upper < prev {
		upper = ceiling
	}
	next := base
	if upper > base {
		next = base + time.Duration(r.rng.Int64N(int64(upper-base)))
	}
	if next > ceiling {
		next = ceiling
	}
	r.prev = next
	return next
}

// Reset forgets the previous interval.
func (r *Decorrelated) Reset() { r.prev = 0 }

// Locked makes any randomizer safe for concurrent use.
type Locked struct {
	mu sync.Mutex
	r  backoff.Randomizer
}

// NewLocked wraps r.
func NewLocked(r backoff.Randomizer) *Locked { return &Locked{r: r} }

func (l *Locked) Randomize(d time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Randomize(d)
}

// New builds a randomizer by name. fraction is used by "proportional" only.
func New(name string, fraction float64, rng *mrand.Rand) (backoff.Randomizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameNone:
		return backoff.NoRandomization{}, nil
	case NameFull:
		return NewFull(rng), nil
	case NameEqual:
		return NewEqual(rng), nil
	case NameProportional:
		return NewProportional(fraction, rng), nil
	case NameDecorrelated:
		return NewDecorrelated(0, 0, rng), nil
	default:
		return nil, fmt.Errorf("jitter: unknown randomizer %q", name)
	}
}
