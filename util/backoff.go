package util

import (
	"math/rand"
	"time"
)

// DefaultBackoff returns a delay with an exponential backoff based on the
// number of retries.
func DefaultBackoff(base, maxNS float64, retries int) time.Duration {
	return backoffDelay(base, maxNS, 0.1, 2.0, retries)
}

// backoffDelay returns a delay with an exponential backoff based on the
// number of retries. Same algorithm used in gRPC: base * factor^retries,
// jittered by +/- jitter fraction, capped at maxNS.
func backoffDelay(base, maxNS, jitter, factor float64, retries int) time.Duration {
	if retries == 0 {
		return time.Duration(base)
	}
	backoff, max := base, maxNS
	for backoff < max && retries > 0 {
		backoff *= factor
		retries--
	}
	if backoff > max {
		backoff = max
	}
	backoff *= 1 + jitter*(rand.Float64()*2-1)
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// Backoff is a retry-delay policy; kv.Database implementations use it to
// space out conflict retries instead of hot-looping on commit failure.
type Backoff interface {
	After(attempt int) <-chan time.Time
}

type exponentialBackoff struct {
	baseNS, maxNS float64
}

// DefaultBackoffPolicy returns the same curve DefaultBackoff computes,
// packaged as a Backoff so kv store implementations can use time.After
// without repeating the arithmetic at every call site.
func DefaultBackoffPolicy() Backoff {
	return exponentialBackoff{baseNS: float64(time.Millisecond), maxNS: float64(200 * time.Millisecond)}
}

func (b exponentialBackoff) After(attempt int) <-chan time.Time {
	return time.After(DefaultBackoff(b.baseNS, b.maxNS, attempt))
}
