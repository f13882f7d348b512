package race

import (
	"math/rand/v2"
	"time"
)

// Backoff returns how long a replacement attempt waits before fetching.
// retry is 1 for the first replacement of a source, 2 for the second, ...
type Backoff interface {
	Delay(retry int) time.Duration
}

// BackoffFunc adapts a function to Backoff.
type BackoffFunc func(retry int) time.Duration

func (f BackoffFunc) Delay(retry int) time.Duration { return f(retry) }

// NoBackoff retries immediately.
func NoBackoff() Backoff {
	return BackoffFunc(func(int) time.Duration { return 0 })
}

// Exponential doubles base per retry, caps at maxDelay and applies ±jitter
// (0.2 = 20%). A non-positive base disables the delay.
func Exponential(base, maxDelay time.Duration, jitter float64) Backoff {
	if maxDelay <= 0 {
		maxDelay = 15 * time.Second
	}
	return BackoffFunc(func(retry int) time.Duration {
		if base <= 0 {
			return 0
		}
		d := base
		for i := 1; i < retry; i++ {
			d *= 2
			if d > maxDelay {
				d = maxDelay
				break
			}
		}
		if jitter > 0 {
			r := (rand.Float64()*2 - 1) * jitter
			d = time.Duration(float64(d) * (1 + r))
			if d < 0 {
				d = 0
			}
		}
		if d > maxDelay {
			d = maxDelay
		}
		return d
	})
}
