package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pretyflaco/syncd/internal/client/apply"
	"github.com/pretyflaco/syncd/internal/client/checkpoint"
	"github.com/pretyflaco/syncd/internal/client/resume"
	"github.com/pretyflaco/syncd/internal/client/transport"
	"github.com/pretyflaco/syncd/internal/config"
	"github.com/pretyflaco/syncd/internal/eventlog"
)

// seqRecorder is an apply effect that records sequences and cancels the
// session once a target sequence lands.
type seqRecorder struct {
	mu     sync.Mutex
	seqs   []uint64
	target uint64
	cancel context.CancelFunc
}

func (r *seqRecorder) ApplyEvent(_ context.Context, ev eventlog.Event) error {
	r.mu.Lock()
	r.seqs = append(r.seqs, ev.Seq)
	hit := ev.Seq >= r.target
	r.mu.Unlock()
	if hit && r.cancel != nil {
		r.cancel()
	}
	return nil
}

func (r *seqRecorder) applied() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.seqs))
	copy(out, r.seqs)
	return out
}

// runSession runs a manager until the recorder cancels it or the deadline
// fires.
func runSession(t *testing.T, mgr *resume.Manager, rec *seqRecorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec.cancel = cancel
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mgr.Run(ctx)
	}()
	select {
	case <-done:
	case <-time.After(12 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestClientResumesAcrossRestart(t *testing.T) {
	_, ts := newTestServer(t, config.Default(), nil)
	const stream = "runtime.run.e2e.events"
	for seq := uint64(1); seq <= 3; seq++ {
		publishSeq(t, ts.URL, stream, seq)
	}

	stateDir := t.TempDir()
	cps, err := checkpoint.NewStore(stateDir)
	if err != nil {
		t.Fatalf("checkpoint.NewStore: %v", err)
	}
	// This client followed the stream from its first event.
	if err := cps.Put(stream, 0); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	// First run: consume the backlog up to 3, then shut down.
	rec1 := &seqRecorder{target: 3}
	eng1 := apply.NewEngine(cps, rec1, nil)
	runSession(t, resume.NewManager(stream, transport.NewWSClient(ts.URL, ""), eng1, nil), rec1)
	if got := rec1.applied(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("first session applied %v, want [1 2 3]", got)
	}

	// More events land while the client is offline.
	publishSeq(t, ts.URL, stream, 4)
	publishSeq(t, ts.URL, stream, 5)

	// Second run with a fresh engine over the same checkpoint directory:
	// only the events past the durable watermark are delivered.
	rec2 := &seqRecorder{target: 5}
	eng2 := apply.NewEngine(cps, rec2, nil)
	runSession(t, resume.NewManager(stream, transport.NewWSClient(ts.URL, ""), eng2, nil), rec2)
	if got := rec2.applied(); len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("second session applied %v, want [4 5]", got)
	}
	wm, err := eng2.Watermark(stream)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if wm != 5 {
		t.Fatalf("watermark = %d, want 5", wm)
	}
}

func TestFreshClientAdoptsRemoteHead(t *testing.T) {
	_, ts := newTestServer(t, config.Default(), nil)
	const stream = "runtime.run.fresh.events"
	for seq := uint64(1); seq <= 4; seq++ {
		publishSeq(t, ts.URL, stream, seq)
	}

	// No local checkpoint: the client seeds from the snapshot endpoint
	// and only applies events published after first contact.
	cps, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("checkpoint.NewStore: %v", err)
	}
	rec := &seqRecorder{target: 5}
	eng := apply.NewEngine(cps, rec, nil)
	mgr := resume.NewManager(stream, transport.NewWSClient(ts.URL, ""), eng, nil)
	mgr.Hooks = resume.Hooks{
		OnConnect: func(transport.Grant) {
			go func() {
				b, _ := json.Marshal(map[string]any{
					"stream_id": stream, "seq": 5, "kind": "run.step",
					"payload": map[string]any{"n": 5},
				})
				resp, err := http.Post(ts.URL+"/v1/publish", "application/json", bytes.NewReader(b))
				if err == nil {
					_ = resp.Body.Close()
				}
			}()
		},
	}
	runSession(t, mgr, rec)

	if got := rec.applied(); len(got) != 1 || got[0] != 5 {
		t.Fatalf("applied %v, want [5]", got)
	}
	wm, err := eng.Watermark(stream)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if wm != 5 {
		t.Fatalf("watermark = %d, want 5", wm)
	}
}

func TestClientRebootstrapsAfterRetentionTrim(t *testing.T) {
	s, ts := newTestServer(t, config.Default(), nil)
	const stream = "runtime.run.reboot.events"
	for seq := uint64(1); seq <= 6; seq++ {
		publishSeq(t, ts.URL, stream, seq)
	}
	lg, err := s.rt.OpenLog(stream)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := lg.TrimBelow(context.Background(), 5, 100, 0); err != nil {
		t.Fatalf("trim: %v", err)
	}

	// A client checkpointed at 2 is now below the retention floor.
	cps, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("checkpoint.NewStore: %v", err)
	}
	if err := cps.Put(stream, 2); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	rec := &seqRecorder{target: 7}
	eng := apply.NewEngine(cps, rec, nil)
	mgr := resume.NewManager(stream, transport.NewWSClient(ts.URL, ""), eng, nil)

	var rebootMu sync.Mutex
	var reasons []string
	mgr.Hooks = resume.Hooks{
		OnRebootstrap: func(reason string) {
			rebootMu.Lock()
			reasons = append(reasons, reason)
			rebootMu.Unlock()
		},
		OnConnect: func(transport.Grant) {
			// Event 7 arrives after the snapshot-seeded session connects.
			go func() {
				b, _ := json.Marshal(map[string]any{
					"stream_id": stream, "seq": 7, "kind": "run.step",
					"payload": map[string]any{"n": 7},
				})
				resp, err := http.Post(ts.URL+"/v1/publish", "application/json", bytes.NewReader(b))
				if err == nil {
					_ = resp.Body.Close()
				}
			}()
		},
	}
	runSession(t, mgr, rec)

	rebootMu.Lock()
	defer rebootMu.Unlock()
	if len(reasons) == 0 || reasons[0] != resume.ReasonRetentionFloorBreach {
		t.Fatalf("rebootstrap reasons = %v, want [%s ...]", reasons, resume.ReasonRetentionFloorBreach)
	}
	// Events 3..6 were skipped via the snapshot; only 7 applied incrementally.
	if got := rec.applied(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("applied %v, want [7]", got)
	}
}
