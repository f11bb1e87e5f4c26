package resume

import (
	"math/rand"
	"time"
)

// Backoff plans reconnect delays: exponential growth from Base up to Cap,
// reset to Base only after a connection survives ResetAfter.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	Factor     float64
	ResetAfter time.Duration

	attempt int
}

// DefaultBackoff matches the outbox retry profile.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Base:       500 * time.Millisecond,
		Cap:        60 * time.Second,
		Factor:     2.0,
		ResetAfter: 30 * time.Second,
	}
}

// Next returns the delay before the next attempt and advances the schedule.
// The returned delays never decrease between resets and never exceed Cap.
func (b *Backoff) Next() time.Duration {
	d := b.delayFor(b.attempt)
	b.attempt++
	return d
}

// Peek returns the next delay without advancing.
func (b *Backoff) Peek() time.Duration { return b.delayFor(b.attempt) }

func (b *Backoff) delayFor(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= factor
		if b.Cap > 0 && d >= float64(b.Cap) {
			return b.Cap
		}
	}
	out := time.Duration(d)
	if b.Cap > 0 && out > b.Cap {
		out = b.Cap
	}
	return out
}

// Jittered returns d scaled into [d/2, d) to spread reconnect herds.
func Jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// ObserveConnected records how long the last connection lasted. A session
// that survives ResetAfter earns a reset; shorter ones keep the schedule
// growing so a flapping link does not hammer the server.
func (b *Backoff) ObserveConnected(lifetime time.Duration) {
	if b.ResetAfter <= 0 || lifetime >= b.ResetAfter {
		b.Reset()
	}
}

// Reset returns the schedule to Base.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempts reports consecutive failed attempts since the last reset.
func (b *Backoff) Attempts() int { return b.attempt }
