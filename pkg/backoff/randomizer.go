package backoff

import "time"

// Randomizer perturbs a planned interval. Implementations may keep state and need not be
// safe for concurrent use: a Handler serializes its calls.
type Randomizer interface {
	Randomize(d time.Duration) time.Duration
}

// NoRandomization returns intervals unchanged.
type NoRandomization struct{}

func (NoRandomization) Randomize(d time.Duration) time.Duration { return d }

// RandomizerFunc adapts a plain function to the Randomizer interface.
type RandomizerFunc func(time.Duration) time.Duration

func (f RandomizerFunc) Randomize(d time.Duration) time.Duration { return f(d) }
