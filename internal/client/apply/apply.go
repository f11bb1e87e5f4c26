// Package apply drives client-side state from a stream of sync events.
// Events for one stream are applied strictly in order behind a per-stream
// lane; the durable checkpoint only advances after the application effect
// has completed, so a crash between the two redelivers rather than skips.
package apply

import (
	"context"
	"fmt"
	"sync"

	"github.com/pretyflaco/syncd/internal/client/checkpoint"
	"github.com/pretyflaco/syncd/internal/eventlog"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

// Outcome reports how one event was handled.
type Outcome int

const (
	// Applied means the effect ran and the watermark advanced.
	Applied Outcome = iota
	// Duplicate means the event was at or below the watermark and was
	// suppressed without running the effect.
	Duplicate
	// OutOfOrder means the event left a gap above the watermark. The
	// caller should re-request delivery from the watermark.
	OutOfOrder
	// SnapshotRequired means the stream is awaiting a rebootstrap and no
	// incremental event can be applied yet.
	SnapshotRequired
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case OutOfOrder:
		return "out_of_order"
	case SnapshotRequired:
		return "snapshot_required"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Effect is the application hook invoked once per applied event.
type Effect interface {
	ApplyEvent(ctx context.Context, ev eventlog.Event) error
}

// EffectFunc adapts a function to Effect.
type EffectFunc func(ctx context.Context, ev eventlog.Event) error

func (f EffectFunc) ApplyEvent(ctx context.Context, ev eventlog.Event) error { return f(ctx, ev) }

type lane struct {
	mu        sync.Mutex
	watermark uint64
	// baseline is true once the stream has a local starting point: a
	// checkpoint on disk or a snapshot seeded this session. Deltas that
	// arrive before any baseline cannot be applied.
	baseline     bool
	needSnapshot bool
}

// Engine serializes event application per stream and owns the checkpoint
// store.
type Engine struct {
	cps    *checkpoint.Store
	effect Effect
	logger logpkg.Logger

	mu    sync.Mutex
	lanes map[string]*lane
}

// NewEngine builds an engine over a checkpoint store.
func NewEngine(cps *checkpoint.Store, effect Effect, logger logpkg.Logger) *Engine {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("apply"))
	}
	return &Engine{cps: cps, effect: effect, logger: logger, lanes: map[string]*lane{}}
}

// lane returns the per-stream lane, loading the checkpoint on first touch.
func (e *Engine) lane(streamID string) (*lane, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.lanes[streamID]; ok {
		return l, nil
	}
	l := &lane{}
	cp, ok, err := e.cps.Load(streamID)
	if err != nil {
		return nil, err
	}
	if ok {
		l.watermark = cp.Watermark
		l.baseline = true
	}
	e.lanes[streamID] = l
	return l, nil
}

// Apply processes one event. The effect runs at most once per sequence and
// only for the next-expected one; an effect failure leaves the watermark
// unchanged so the event is retried on redelivery.
func (e *Engine) Apply(ctx context.Context, ev eventlog.Event) (Outcome, error) {
	if ev.StreamID == "" || ev.Seq == 0 {
		return OutOfOrder, fmt.Errorf("apply: malformed event stream=%q seq=%d", ev.StreamID, ev.Seq)
	}
	l, err := e.lane(ev.StreamID)
	if err != nil {
		return OutOfOrder, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.needSnapshot || !l.baseline {
		return SnapshotRequired, nil
	}
	switch {
	case ev.Seq <= l.watermark:
		return Duplicate, nil
	case ev.Seq > l.watermark+1:
		e.logger.With(
			logpkg.Stream(ev.StreamID),
			logpkg.Seq(ev.Seq),
			logpkg.Uint64("watermark", l.watermark),
		).Warn("apply.gap")
		return OutOfOrder, nil
	}

	if err := e.effect.ApplyEvent(ctx, ev); err != nil {
		return OutOfOrder, fmt.Errorf("apply %s seq %d: %w", ev.StreamID, ev.Seq, err)
	}
	if err := e.cps.Put(ev.StreamID, ev.Seq); err != nil {
		// The effect ran but the checkpoint did not persist. Keep the
		// in-memory watermark advanced so this session stays consistent;
		// after a crash the event is redelivered and suppressed or
		// re-applied by an idempotent effect.
		e.logger.With(logpkg.Stream(ev.StreamID), logpkg.Seq(ev.Seq), logpkg.Err(err)).
			Error("apply.checkpoint_write_failed")
	}
	l.watermark = ev.Seq
	return Applied, nil
}

// Watermark reports the highest contiguously applied sequence for a stream.
func (e *Engine) Watermark(streamID string) (uint64, error) {
	l, err := e.lane(streamID)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermark, nil
}

// HasBaseline reports whether the stream has a local starting point. A
// stream without one must be seeded before incremental events can apply.
func (e *Engine) HasBaseline(streamID string) (bool, error) {
	l, err := e.lane(streamID)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.baseline, nil
}

// MarkSnapshotRequired gates a stream until SeedFromSnapshot is called.
func (e *Engine) MarkSnapshotRequired(streamID string) error {
	l, err := e.lane(streamID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.needSnapshot = true
	return nil
}

// SeedFromSnapshot installs a fresh baseline watermark after a rebootstrap
// and reopens the lane for incremental events.
func (e *Engine) SeedFromSnapshot(streamID string, watermark uint64) error {
	l, err := e.lane(streamID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := e.cps.Reset(streamID); err != nil {
		return err
	}
	if err := e.cps.Put(streamID, watermark); err != nil {
		return err
	}
	l.watermark = watermark
	l.baseline = true
	l.needSnapshot = false
	e.logger.With(logpkg.Stream(streamID), logpkg.Uint64("watermark", watermark)).
		Info("apply.snapshot_seeded")
	return nil
}

// Rewind clamps the watermark down, after the server reports a head below
// the local checkpoint.
func (e *Engine) Rewind(streamID string, watermark uint64) error {
	l, err := e.lane(streamID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if watermark > l.watermark {
		return fmt.Errorf("apply: rewind to %d above watermark %d", watermark, l.watermark)
	}
	if err := e.cps.Rewind(streamID, watermark); err != nil {
		return err
	}
	l.watermark = watermark
	l.baseline = true
	return nil
}
