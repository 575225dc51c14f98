package infra

import (
	"math/rand/v2"
	"time"
)

// Backoff is exponential with full jitter on the top half.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

var DefaultBackoff = Backoff{Base: time.Second, Max: 60 * time.Second}

// Delay returns base*2^retry capped at Max, jittered into [d/2, d].
func (b Backoff) Delay(retry int) time.Duration {
	d := b.ceiling(retry)
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func (b Backoff) ceiling(retry int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if max <= 0 {
		max = DefaultBackoff.Max
	}
	if retry < 0 {
		return base
	}
	if retry > 30 {
		return max
	}
	d := base * time.Duration(1<<retry)
	if d > max || d <= 0 {
		return max
	}
	return d
}
