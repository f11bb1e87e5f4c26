package outbox

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/pretyflaco/syncd/internal/eventlog"
	"github.com/pretyflaco/syncd/internal/metrics"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

// Run drives the retry loop until ctx is cancelled. Due entries are
// attempted in queue order; a successful send removes the entry, a failed
// one is rescheduled with backoff or dropped once the attempt budget is
// exhausted.
func (o *Outbox) Run(ctx context.Context) {
	for {
		nextDue, drained := o.drainOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := time.Second
		if drained {
			wait = 50 * time.Millisecond
		}
		if !nextDue.IsZero() {
			if d := time.Until(nextDue); d > 0 {
				wait = d
			} else {
				wait = 10 * time.Millisecond
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-o.notifyCh:
		case <-time.After(wait):
		}
	}
}

// drainOnce makes one pass over the queue. It returns the earliest
// not-yet-due attempt time (zero if none pending) and whether any entry
// was delivered this pass.
func (o *Outbox) drainOnce(ctx context.Context) (time.Time, bool) {
	iter, err := o.db.NewIter(&pebble.IterOptions{LowerBound: entryPrefix, UpperBound: prefixEnd(entryPrefix)})
	if err != nil {
		o.logger.Error("outbox scan failed", logpkg.Err(err))
		return time.Time{}, false
	}

	type pending struct {
		key []byte
		e   entry
	}
	var due []pending
	var earliest int64
	now := o.nowMs()

	o.mu.Lock()
	authBlocked := o.authBlocked
	o.mu.Unlock()

	for ok := iter.First(); ok; ok = iter.Next() {
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			// corrupt entry: drop rather than wedge the queue
			key := append([]byte(nil), iter.Key()...)
			o.dropEntry(key, "corrupt outbox entry")
			continue
		}
		if e.Class == string(metrics.FailureAuth) && authBlocked {
			continue
		}
		if e.NextAttemptMs > now {
			if earliest == 0 || e.NextAttemptMs < earliest {
				earliest = e.NextAttemptMs
			}
			continue
		}
		due = append(due, pending{key: append([]byte(nil), iter.Key()...), e: e})
	}
	iter.Close()

	delivered := false
	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		ev := eventlog.Event{StreamID: p.e.StreamID, Seq: p.e.Seq, Kind: p.e.Kind, TsMs: p.e.TsMs, Payload: p.e.Payload}
		err := o.sender.Send(ctx, ev)
		if err == nil {
			if derr := o.db.Delete(p.key); derr != nil {
				o.logger.Error("outbox delete failed", logpkg.Err(derr))
				continue
			}
			o.mu.Lock()
			o.depth--
			o.reg.SetOutboxDepth(o.depth)
			o.mu.Unlock()
			delivered = true
			o.logger.Info("retried delivery succeeded",
				logpkg.Stream(p.e.StreamID), logpkg.Seq(p.e.Seq), logpkg.Int("attempts", int(p.e.Attempts+1)))
			continue
		}

		class := Classify(err)
		o.reg.IncFailure(class)
		if class == metrics.FailureValidation {
			o.dropEntry(p.key, err.Error())
			continue
		}
		p.e.Attempts++
		if o.policy.MaxAttempts > 0 && p.e.Attempts >= o.policy.MaxAttempts {
			o.dropEntry(p.key, "retry budget exhausted: "+err.Error())
			continue
		}
		p.e.Class = string(class)
		p.e.LastError = err.Error()
		p.e.NextAttemptMs = o.nowMs() + backoffDelay(o.policy, p.e.Attempts).Milliseconds()
		if class == metrics.FailureAuth {
			o.mu.Lock()
			o.authBlocked = true
			o.mu.Unlock()
		}
		b, merr := json.Marshal(&p.e)
		if merr != nil {
			continue
		}
		if serr := o.db.Set(p.key, b); serr != nil {
			o.logger.Error("outbox update failed", logpkg.Err(serr))
		}
		if earliest == 0 || p.e.NextAttemptMs < earliest {
			earliest = p.e.NextAttemptMs
		}
	}

	if earliest == 0 {
		return time.Time{}, delivered
	}
	return time.UnixMilli(earliest), delivered
}

func (o *Outbox) dropEntry(key []byte, reason string) {
	if err := o.db.Delete(key); err != nil {
		o.logger.Error("outbox drop failed", logpkg.Err(err))
		return
	}
	o.mu.Lock()
	o.depth--
	o.reg.SetOutboxDepth(o.depth)
	o.mu.Unlock()
	o.reg.IncDropped()
	o.logger.Error("dropped outbox entry", logpkg.Str("reason", reason))
}

// backoffDelay computes the exponential-with-jitter delay for the given
// attempt count, capped at policy.Cap.
func backoffDelay(pol RetryPolicy, attempts uint32) time.Duration {
	base := pol.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	factor := pol.Factor
	if factor <= 0 {
		factor = 2.0
	}
	d := float64(base)
	for i := uint32(1); i < attempts; i++ {
		d *= factor
		if pol.Cap > 0 && time.Duration(d) > pol.Cap {
			d = float64(pol.Cap)
			break
		}
	}
	delay := time.Duration(d)
	if pol.Cap > 0 && delay > pol.Cap {
		delay = pol.Cap
	}
	if delay <= 0 {
		return 0
	}
	// full jitter, floored at half the computed delay
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
