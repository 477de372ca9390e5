package streams

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff implements backoff.BackOff with the spec's
// backoffMs × (attempt+1) retry delay for LimitExceeded (spec.md §4.I),
// rather than cenkalti/backoff's default exponential curve.
type linearBackOff struct {
	backoffMs int
	attempt   int
}

func newLinearBackOff(backoffMs int) *linearBackOff {
	return &linearBackOff{backoffMs: backoffMs}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * time.Duration(b.backoffMs) * time.Millisecond
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

var _ backoff.BackOff = (*linearBackOff)(nil)
