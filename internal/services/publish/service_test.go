package publishsvc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pretyflaco/syncd/internal/config"
	"github.com/pretyflaco/syncd/internal/eventlog"
	"github.com/pretyflaco/syncd/internal/metrics"
	"github.com/pretyflaco/syncd/internal/outbox"
	"github.com/pretyflaco/syncd/internal/runtime"
	pebblestore "github.com/pretyflaco/syncd/internal/storage/pebble"
)

type captureSender struct {
	mu   sync.Mutex
	sent []eventlog.Event
	fail error
}

func (c *captureSender) Send(ctx context.Context, ev eventlog.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, ev)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newServiceForTest(t *testing.T, fwd outbox.Sender) (*Service, *metrics.Registry, *runtime.Runtime) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  config.Default(),
	})
	if err != nil {
		t.Fatalf("runtime.Open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	reg := metrics.New()
	var out *outbox.Outbox
	if fwd != nil {
		out, err = outbox.Open(rt.DB(), fwd, reg, nil, outbox.DefaultRetryPolicy())
		if err != nil {
			t.Fatalf("outbox.Open: %v", err)
		}
	}
	return New(rt, fwd, out, reg, nil), reg, rt
}

func TestPublishAppliesInOrder(t *testing.T) {
	svc, reg, _ := newServiceForTest(t, nil)
	ctx := context.Background()
	for seq := uint64(1); seq <= 3; seq++ {
		res, err := svc.Publish(ctx, Request{StreamID: "runtime.run.r1.events", Seq: seq, Kind: "run.step", Payload: []byte("p")})
		if err != nil {
			t.Fatalf("Publish seq=%d: %v", seq, err)
		}
		if res.Outcome != Applied {
			t.Fatalf("seq=%d outcome = %v, want Applied", seq, res.Outcome)
		}
	}
	if got := reg.Snapshot().Published; got != 3 {
		t.Fatalf("published counter = %d, want 3", got)
	}
}

func TestPublishDuplicateIsIdempotent(t *testing.T) {
	svc, reg, _ := newServiceForTest(t, nil)
	ctx := context.Background()
	req := Request{StreamID: "s", Seq: 1, Kind: "k", Payload: []byte("same")}
	if _, err := svc.Publish(ctx, req); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	res, err := svc.Publish(ctx, req)
	if err != nil {
		t.Fatalf("duplicate publish: %v", err)
	}
	if res.Outcome != Duplicate {
		t.Fatalf("outcome = %v, want Duplicate", res.Outcome)
	}
	snap := reg.Snapshot()
	if snap.Published != 1 || snap.DuplicateSuppressed != 1 {
		t.Fatalf("counters = %+v", snap)
	}
}

func TestPublishGapRejected(t *testing.T) {
	svc, _, _ := newServiceForTest(t, nil)
	ctx := context.Background()
	if _, err := svc.Publish(ctx, Request{StreamID: "s", Seq: 1, Kind: "k"}); err != nil {
		t.Fatalf("seq 1: %v", err)
	}
	_, err := svc.Publish(ctx, Request{StreamID: "s", Seq: 3, Kind: "k"})
	if !errors.Is(err, eventlog.ErrSequenceConflict) {
		t.Fatalf("gap publish err = %v, want ErrSequenceConflict", err)
	}
}

func TestPublishPayloadMismatchRejected(t *testing.T) {
	svc, _, _ := newServiceForTest(t, nil)
	ctx := context.Background()
	if _, err := svc.Publish(ctx, Request{StreamID: "s", Seq: 1, Kind: "k", Payload: []byte("a")}); err != nil {
		t.Fatalf("seq 1: %v", err)
	}
	_, err := svc.Publish(ctx, Request{StreamID: "s", Seq: 1, Kind: "k", Payload: []byte("b")})
	if !errors.Is(err, eventlog.ErrSequenceConflict) {
		t.Fatalf("mismatch publish err = %v, want ErrSequenceConflict", err)
	}
}

func TestPublishValidation(t *testing.T) {
	svc, _, _ := newServiceForTest(t, nil)
	ctx := context.Background()
	cases := []Request{
		{Seq: 1, Kind: "k"},                 // no stream or topic
		{StreamID: "s", Seq: 0, Kind: "k"},  // zero seq
		{StreamID: "s", Seq: 1},             // missing kind
	}
	for i, req := range cases {
		if _, err := svc.Publish(ctx, req); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: err = %v, want ErrValidation", i, err)
		}
	}
}

func TestPublishTopicAliasMapsToStream(t *testing.T) {
	svc, _, _ := newServiceForTest(t, nil)
	res, err := svc.Publish(context.Background(), Request{Topic: "run:r7:events", Seq: 1, Kind: "k"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.StreamID != "runtime.run.r7.events" {
		t.Fatalf("stream id = %q", res.StreamID)
	}
}

func TestPublishForwardsDownstream(t *testing.T) {
	fwd := &captureSender{}
	svc, _, _ := newServiceForTest(t, fwd)
	if _, err := svc.Publish(context.Background(), Request{StreamID: "s", Seq: 1, Kind: "k", Payload: []byte("x")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if fwd.count() != 1 {
		t.Fatalf("forwarded = %d, want 1", fwd.count())
	}
}

func TestPublishForwardFailureParksInOutbox(t *testing.T) {
	fwd := &captureSender{fail: outbox.WithClass(errors.New("conn refused"), metrics.FailureNetwork)}
	svc, _, rt := newServiceForTest(t, nil)
	out, err := outbox.Open(rt.DB(), fwd, metrics.New(), nil, outbox.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("outbox.Open: %v", err)
	}
	svc.fwd = fwd
	svc.out = out
	if _, err := svc.Publish(context.Background(), Request{StreamID: "s", Seq: 1, Kind: "k"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if out.Depth() != 1 {
		t.Fatalf("outbox depth = %d, want 1", out.Depth())
	}
}
