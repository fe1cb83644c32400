package loader

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// backoff doubles the wait between health probes from initial up to max, with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
}

// delay returns the wait before probe attempt+1. The result lies in [d/2, d] where d is the
// capped exponential interval.
func (b backoff) delay(attempt int) time.Duration {
	d := float64(b.initial) * math.Pow(2, float64(attempt))
	if d > float64(b.max) {
		d = float64(b.max)
	}
	half := time.Duration(d / 2)
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
