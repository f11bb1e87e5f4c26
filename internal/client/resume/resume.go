// Package resume supervises a client's subscription to one stream across
// disconnects: it selects the resume cursor, clamps it when the server's
// head moved backwards, rebootstraps on stale-cursor refusals, and paces
// reconnects with bounded exponential backoff.
package resume

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pretyflaco/syncd/internal/client/apply"
	"github.com/pretyflaco/syncd/internal/client/transport"
	"github.com/pretyflaco/syncd/internal/streamid"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

// Reason codes for a rebootstrap, carried into logs and the hook.
const (
	ReasonRetentionFloorBreach = "retention_floor_breach"
	ReasonReplayBudgetExceeded = "replay_budget_exceeded"
)

// ResolveCursor picks the cursor to present given the local watermark and
// the server's window. A watermark above the server head means the backend
// was restored from an older state; the client clamps down and re-applies.
func ResolveCursor(local uint64, w streamid.Window) (after uint64, clamped bool) {
	if local > w.HeadSeq {
		return w.HeadSeq, true
	}
	return local, false
}

// Hooks observe supervisor transitions. All fields are optional.
type Hooks struct {
	OnConnect     func(grant transport.Grant)
	OnDisconnect  func(err error)
	OnRebootstrap func(reason string)
}

// Manager runs one stream's subscription lifecycle.
type Manager struct {
	StreamID string
	Client   transport.Client
	Engine   *apply.Engine
	Backoff  *Backoff
	Logger   logpkg.Logger
	Versions []int
	Filter   string
	Hooks    Hooks

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewManager wires a supervisor with defaults filled in.
func NewManager(streamID string, client transport.Client, engine *apply.Engine, logger logpkg.Logger) *Manager {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("resume"))
	}
	return &Manager{
		StreamID: streamID,
		Client:   client,
		Engine:   engine,
		Backoff:  DefaultBackoff(),
		Logger:   logger,
		sleep:    sleepCtx,
	}
}

// Run supervises until ctx is canceled. It returns ctx.Err then.
func (m *Manager) Run(ctx context.Context) error {
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		connected, err := m.runOnce(ctx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if connected > 0 {
			m.Backoff.ObserveConnected(connected)
		}
		if err == nil {
			// Rebootstrap or clamp handled; resubscribe immediately.
			continue
		}
		delay := Jittered(m.Backoff.Next())
		m.Logger.With(
			logpkg.Stream(m.StreamID),
			logpkg.Err(err),
			logpkg.Dur("retry_in", delay),
			logpkg.Int("attempts", m.Backoff.Attempts()),
		).Warn("resume.reconnect")
		m.sleep(ctx, delay)
	}
}

// runOnce performs one subscribe/apply session. It returns how long the
// session was connected and the error that ended it; a nil error means the
// session ended by design (clamp or rebootstrap) and should resubscribe
// without backoff.
func (m *Manager) runOnce(ctx context.Context) (time.Duration, error) {
	baseline, err := m.Engine.HasBaseline(m.StreamID)
	if err != nil {
		return 0, err
	}
	if !baseline {
		// First contact: adopt the remote head as caught-up instead of
		// replaying history this client never observed.
		snap, err := m.Client.Snapshot(ctx, m.StreamID)
		if err != nil {
			return 0, err
		}
		if err := m.Engine.SeedFromSnapshot(m.StreamID, snap.Watermark); err != nil {
			return 0, err
		}
		m.Logger.With(
			logpkg.Stream(m.StreamID),
			logpkg.Uint64("watermark", snap.Watermark),
		).Info("resume.seed")
		return 0, nil
	}

	local, err := m.Engine.Watermark(m.StreamID)
	if err != nil {
		return 0, err
	}
	grant, stream, err := m.Client.Subscribe(ctx, transport.SubscribeRequest{
		StreamID: m.StreamID,
		AfterSeq: local,
		Versions: m.Versions,
		Filter:   m.Filter,
	})
	var stale *transport.StaleError
	if errors.As(err, &stale) {
		return 0, m.rebootstrap(ctx, stale)
	}
	if err != nil {
		return 0, err
	}
	defer func() { _ = stream.Close() }()

	// Recv blocks on the socket; closing it is the only way to interrupt.
	unblock := make(chan struct{})
	defer close(unblock)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-unblock:
		}
	}()

	if after, clamped := ResolveCursor(local, grant.Window); clamped {
		m.Logger.With(
			logpkg.Stream(m.StreamID),
			logpkg.Uint64("local", local),
			logpkg.Uint64("head", grant.Window.HeadSeq),
		).Warn("resume.clamp")
		if err := m.Engine.Rewind(m.StreamID, after); err != nil {
			return 0, err
		}
		return 0, nil
	}

	if m.Hooks.OnConnect != nil {
		m.Hooks.OnConnect(grant)
	}
	t0 := time.Now()
	err = m.consume(ctx, stream)
	if m.Hooks.OnDisconnect != nil {
		m.Hooks.OnDisconnect(err)
	}
	return time.Since(t0), err
}

// consume applies events until the stream ends. An out-of-order delivery
// tears the session down; the resubscribe presents the unchanged watermark.
func (m *Manager) consume(ctx context.Context, stream transport.Stream) error {
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("resume: stream closed by server")
			}
			return err
		}
		outcome, err := m.Engine.Apply(ctx, ev)
		if err != nil {
			return err
		}
		switch outcome {
		case apply.OutOfOrder:
			return errors.New("resume: out-of-order delivery")
		case apply.SnapshotRequired:
			return errors.New("resume: stream gated on snapshot")
		}
	}
}

// rebootstrap discards incremental state and reseeds from a snapshot.
func (m *Manager) rebootstrap(ctx context.Context, stale *transport.StaleError) error {
	reason := ReasonRetentionFloorBreach
	if stale.Grant.Verdict == streamid.VerdictReplayBudgetExceeded {
		reason = ReasonReplayBudgetExceeded
	}
	m.Logger.With(
		logpkg.Stream(m.StreamID),
		logpkg.Str("reason", reason),
		logpkg.Uint64("oldest_seq", stale.Grant.Window.OldestSeq),
		logpkg.Uint64("head_seq", stale.Grant.Window.HeadSeq),
	).Info("resume.rebootstrap")
	if m.Hooks.OnRebootstrap != nil {
		m.Hooks.OnRebootstrap(reason)
	}
	if err := m.Engine.MarkSnapshotRequired(m.StreamID); err != nil {
		return err
	}
	snap, err := m.Client.Snapshot(ctx, m.StreamID)
	if err != nil {
		return err
	}
	return m.Engine.SeedFromSnapshot(m.StreamID, snap.Watermark)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
