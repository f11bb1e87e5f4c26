package apply

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/syncd/internal/client/checkpoint"
	"github.com/pretyflaco/syncd/internal/eventlog"
)

type recordingEffect struct {
	mu      sync.Mutex
	applied []uint64
	failOn  map[uint64]error
}

func (r *recordingEffect) ApplyEvent(ctx context.Context, ev eventlog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failOn[ev.Seq]; ok {
		delete(r.failOn, ev.Seq)
		return err
	}
	r.applied = append(r.applied, ev.Seq)
	return nil
}

func (r *recordingEffect) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.applied))
	copy(out, r.applied)
	return out
}

func ev(stream string, seq uint64) eventlog.Event {
	return eventlog.Event{StreamID: stream, Seq: seq, Kind: "run.step", Payload: []byte("p")}
}

// newEngineForTest seeds each stream at watermark 0, the state of a client
// that has followed the stream from its first event.
func newEngineForTest(t *testing.T, streams ...string) (*Engine, *recordingEffect, *checkpoint.Store) {
	t.Helper()
	cps, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	eff := &recordingEffect{failOn: map[uint64]error{}}
	eng := NewEngine(cps, eff, nil)
	for _, s := range streams {
		require.NoError(t, eng.SeedFromSnapshot(s, 0))
	}
	return eng, eff, cps
}

func TestApplyInOrder(t *testing.T) {
	eng, eff, _ := newEngineForTest(t, "s")
	ctx := context.Background()
	for seq := uint64(1); seq <= 3; seq++ {
		out, err := eng.Apply(ctx, ev("s", seq))
		require.NoError(t, err)
		assert.Equal(t, Applied, out)
	}
	assert.Equal(t, []uint64{1, 2, 3}, eff.seqs())
	wm, err := eng.Watermark("s")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), wm)
}

func TestDuplicateSuppressedWithoutEffect(t *testing.T) {
	eng, eff, _ := newEngineForTest(t, "s")
	ctx := context.Background()
	_, err := eng.Apply(ctx, ev("s", 1))
	require.NoError(t, err)

	out, err := eng.Apply(ctx, ev("s", 1))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)
	assert.Equal(t, []uint64{1}, eff.seqs(), "effect must not rerun")
}

func TestGapReportsOutOfOrder(t *testing.T) {
	eng, eff, _ := newEngineForTest(t, "s")
	ctx := context.Background()
	_, err := eng.Apply(ctx, ev("s", 1))
	require.NoError(t, err)

	out, err := eng.Apply(ctx, ev("s", 3))
	require.NoError(t, err)
	assert.Equal(t, OutOfOrder, out)
	assert.Equal(t, []uint64{1}, eff.seqs())

	wm, err := eng.Watermark("s")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), wm, "gap must not move the watermark")
}

func TestEffectFailureKeepsWatermark(t *testing.T) {
	eng, eff, _ := newEngineForTest(t, "s")
	ctx := context.Background()
	_, err := eng.Apply(ctx, ev("s", 1))
	require.NoError(t, err)

	boom := errors.New("downstream unavailable")
	eff.failOn[2] = boom
	_, err = eng.Apply(ctx, ev("s", 2))
	require.ErrorIs(t, err, boom)

	wm, err := eng.Watermark("s")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), wm)

	// Redelivery of the same event succeeds now.
	out, err := eng.Apply(ctx, ev("s", 2))
	require.NoError(t, err)
	assert.Equal(t, Applied, out)
	assert.Equal(t, []uint64{1, 2}, eff.seqs())
}

func TestWatermarkSurvivesRestart(t *testing.T) {
	cps, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	eff := &recordingEffect{failOn: map[uint64]error{}}
	eng := NewEngine(cps, eff, nil)
	require.NoError(t, eng.SeedFromSnapshot("s", 0))
	ctx := context.Background()
	for seq := uint64(1); seq <= 2; seq++ {
		_, err := eng.Apply(ctx, ev("s", seq))
		require.NoError(t, err)
	}

	// New engine over the same store: seq 1..2 are duplicates, 3 applies.
	eng2 := NewEngine(cps, eff, nil)
	out, err := eng2.Apply(ctx, ev("s", 2))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)
	out, err = eng2.Apply(ctx, ev("s", 3))
	require.NoError(t, err)
	assert.Equal(t, Applied, out)
}

func TestDeltaBeforeAnyBaselineRequiresSnapshot(t *testing.T) {
	cps, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	eff := &recordingEffect{failOn: map[uint64]error{}}
	eng := NewEngine(cps, eff, nil)
	ctx := context.Background()

	has, err := eng.HasBaseline("s")
	require.NoError(t, err)
	assert.False(t, has)

	// No checkpoint and no snapshot yet: deltas cannot apply.
	out, err := eng.Apply(ctx, ev("s", 1))
	require.NoError(t, err)
	assert.Equal(t, SnapshotRequired, out)
	assert.Empty(t, eff.seqs())

	require.NoError(t, eng.SeedFromSnapshot("s", 3))
	has, err = eng.HasBaseline("s")
	require.NoError(t, err)
	assert.True(t, has)

	out, err = eng.Apply(ctx, ev("s", 4))
	require.NoError(t, err)
	assert.Equal(t, Applied, out)
	assert.Equal(t, []uint64{4}, eff.seqs())
}

func TestBaselineLoadedFromExistingCheckpoint(t *testing.T) {
	cps, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cps.Put("s", 7))

	eng := NewEngine(cps, &recordingEffect{}, nil)
	has, err := eng.HasBaseline("s")
	require.NoError(t, err)
	assert.True(t, has)
	wm, err := eng.Watermark("s")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), wm)
}

func TestSnapshotGating(t *testing.T) {
	eng, eff, _ := newEngineForTest(t, "s")
	ctx := context.Background()
	require.NoError(t, eng.MarkSnapshotRequired("s"))

	out, err := eng.Apply(ctx, ev("s", 1))
	require.NoError(t, err)
	assert.Equal(t, SnapshotRequired, out)
	assert.Empty(t, eff.seqs())

	require.NoError(t, eng.SeedFromSnapshot("s", 10))
	out, err = eng.Apply(ctx, ev("s", 11))
	require.NoError(t, err)
	assert.Equal(t, Applied, out)

	// Pre-snapshot sequences are duplicates now.
	out, err = eng.Apply(ctx, ev("s", 5))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)
}

func TestRewindClampsWatermark(t *testing.T) {
	eng, _, _ := newEngineForTest(t, "s")
	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		_, err := eng.Apply(ctx, ev("s", seq))
		require.NoError(t, err)
	}
	require.NoError(t, eng.Rewind("s", 3))
	wm, err := eng.Watermark("s")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), wm)

	assert.Error(t, eng.Rewind("s", 4), "rewind above watermark must fail")

	out, err := eng.Apply(ctx, ev("s", 4))
	require.NoError(t, err)
	assert.Equal(t, Applied, out)
}

func TestStreamsAreIndependent(t *testing.T) {
	eng, _, _ := newEngineForTest(t, "a", "b")
	ctx := context.Background()
	_, err := eng.Apply(ctx, ev("a", 1))
	require.NoError(t, err)
	out, err := eng.Apply(ctx, ev("b", 1))
	require.NoError(t, err)
	assert.Equal(t, Applied, out)

	wmA, err := eng.Watermark("a")
	require.NoError(t, err)
	wmB, err := eng.Watermark("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), wmA)
	assert.Equal(t, uint64(1), wmB)
}
