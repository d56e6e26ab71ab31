// Package bandwidth shapes per-chunk upload throughput, adapted from the
// teacher's internal/sync/bandwidth.go BandwidthLimiter (there shared across
// sync's download/upload workers; here optionally injected per provider
// adapter so a configured cap governs every chunk PUT regardless of
// provider). A nil *Limiter is a valid, fully unlimited zero value.
package bandwidth

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket's burst relative to the configured
// steady-state rate, letting short bursts spend savings without depressing
// sustained throughput below the limit.
const burstMultiplier = 2

// Limiter wraps a token-bucket rate.Limiter sized in bytes/sec.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a Limiter capped at bytesPerSec. A non-positive bytesPerSec
// means unlimited, returned as a nil *Limiter so WrapReader is a no-op.
func New(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}

	burst := int(bytesPerSec) * burstMultiplier

	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WrapReader returns r wrapped in rate limiting, or r itself if l is nil.
func (l *Limiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if l == nil {
		return r
	}

	return &limitedReader{r: r, limiter: l.limiter, ctx: ctx}
}

type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if n > 0 {
		if waitErr := waitN(lr.limiter, lr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN splits a token request larger than the burst size into multiple
// WaitN calls, since rate.Limiter.WaitN rejects requests over the burst.
func waitN(limiter *rate.Limiter, ctx context.Context, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
