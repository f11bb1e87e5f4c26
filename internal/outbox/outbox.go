package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/pretyflaco/syncd/internal/eventlog"
	"github.com/pretyflaco/syncd/internal/metrics"
	pebblestore "github.com/pretyflaco/syncd/internal/storage/pebble"
	"github.com/pretyflaco/syncd/pkg/id"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

// ErrNonRetryable marks a delivery failure that must surface immediately
// instead of entering the retry queue.
var ErrNonRetryable = fmt.Errorf("outbox: non-retryable delivery failure")

// Sender delivers an event to the downstream transport.
type Sender interface {
	Send(ctx context.Context, ev eventlog.Event) error
}

// RetryPolicy shapes the backoff between delivery attempts.
type RetryPolicy struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	// MaxAttempts bounds retries for retryable classes; 0 means unlimited.
	MaxAttempts uint32
}

// DefaultRetryPolicy matches the service defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2.0}
}

// entry is the persisted queue record.
type entry struct {
	StreamID      string `json:"stream_id"`
	Seq           uint64 `json:"seq"`
	Kind          string `json:"kind"`
	TsMs          int64  `json:"ts_ms"`
	Payload       []byte `json:"payload"`
	Attempts      uint32 `json:"attempts"`
	Class         string `json:"class"`
	LastError     string `json:"last_error,omitempty"`
	NextAttemptMs int64  `json:"next_attempt_ms"`
	CreatedMs     int64  `json:"created_ms"`
}

var entryPrefix = []byte("outbox/e/")

func entryKey(eid id.ID) []byte {
	k := make([]byte, 0, len(entryPrefix)+16)
	k = append(k, entryPrefix...)
	return append(k, eid.Bytes()...)
}

// Outbox is a durable, time-ordered delivery queue over Pebble.
type Outbox struct {
	db      *pebblestore.DB
	sender  Sender
	reg     *metrics.Registry
	logger  logpkg.Logger
	policy  RetryPolicy
	gen     *id.Generator
	nowMs   func() int64
	sleepFn func(context.Context, time.Duration)

	mu          sync.Mutex
	depth       int64
	notifyCh    chan struct{}
	authBlocked bool
}

// Open builds an Outbox and recovers the persisted depth.
func Open(db *pebblestore.DB, sender Sender, reg *metrics.Registry, logger logpkg.Logger, policy RetryPolicy) (*Outbox, error) {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	o := &Outbox{
		db:       db,
		sender:   sender,
		reg:      reg,
		logger:   logger.With(logpkg.Component("outbox")),
		policy:   policy,
		gen:      id.NewGenerator(),
		nowMs:    func() int64 { return time.Now().UnixMilli() },
		notifyCh: make(chan struct{}, 1),
		sleepFn:  sleepCtx,
	}
	depth, err := o.countEntries()
	if err != nil {
		return nil, err
	}
	o.depth = depth
	reg.SetOutboxDepth(depth)
	return o, nil
}

func (o *Outbox) countEntries() (int64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{LowerBound: entryPrefix, UpperBound: prefixEnd(entryPrefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var n int64
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, nil
}

// Enqueue records a failed delivery for retry. Validation failures are
// rejected as ErrNonRetryable and counted as dropped; everything else is
// persisted and picked up by the retry loop.
func (o *Outbox) Enqueue(ev eventlog.Event, cause error) error {
	class := Classify(cause)
	o.reg.IncFailure(class)
	if class == metrics.FailureValidation {
		o.reg.IncDropped()
		o.logger.Error("dropping non-retryable delivery",
			logpkg.Stream(ev.StreamID), logpkg.Seq(ev.Seq), logpkg.Err(cause))
		return fmt.Errorf("%w: %v", ErrNonRetryable, cause)
	}

	e := entry{
		StreamID:      ev.StreamID,
		Seq:           ev.Seq,
		Kind:          ev.Kind,
		TsMs:          ev.TsMs,
		Payload:       ev.Payload,
		Attempts:      0,
		Class:         string(class),
		LastError:     cause.Error(),
		NextAttemptMs: o.nowMs() + o.policy.Base.Milliseconds(),
		CreatedMs:     o.nowMs(),
	}
	b, err := json.Marshal(&e)
	if err != nil {
		return err
	}
	if err := o.db.Set(entryKey(o.gen.Next()), b); err != nil {
		return err
	}
	o.mu.Lock()
	o.depth++
	o.reg.SetOutboxDepth(o.depth)
	if class == metrics.FailureAuth {
		o.authBlocked = true
	}
	o.mu.Unlock()
	o.wake()
	o.logger.Warn("queued delivery for retry",
		logpkg.Stream(ev.StreamID), logpkg.Seq(ev.Seq), logpkg.Str("class", string(class)))
	return nil
}

// Depth returns the current queue depth.
func (o *Outbox) Depth() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.depth
}

// NotifyCredentialRefresh unblocks auth-failed entries for retry.
func (o *Outbox) NotifyCredentialRefresh() {
	o.mu.Lock()
	o.authBlocked = false
	o.mu.Unlock()
	o.wake()
	o.logger.Info("credentials refreshed, resuming auth-blocked deliveries")
}

func (o *Outbox) wake() {
	select {
	case o.notifyCh <- struct{}{}:
	default:
	}
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
