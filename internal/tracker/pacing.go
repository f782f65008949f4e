package tracker

import (
	"math/rand"
	"time"
)

// DelayPolicy maps the zero-based index of the identifier just completed to
// the pause before the next one. Injectable so tests run with zero delays.
type DelayPolicy func(i int) time.Duration

// DefaultDelays is the production pacing discipline against the upstream
// source: 2-6 s between identifiers, and every 10th identifier an extra
// 10-20 s cooldown. This is rate-limiting hygiene, not correctness; do not
// optimize it away.
func DefaultDelays(rng *rand.Rand) DelayPolicy {
	uniform := func(lo, hi float64) time.Duration {
		return time.Duration((lo + rng.Float64()*(hi-lo)) * float64(time.Second))
	}
	return func(i int) time.Duration {
		d := uniform(2, 6)
		if i > 0 && (i+1)%10 == 0 {
			d += uniform(10, 20)
		}
		return d
	}
}

// NoDelays is the zero-delay policy for tests and offline runs.
func NoDelays(int) time.Duration { return 0 }
