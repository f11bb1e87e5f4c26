package pebblestore

import (
	"context"
	"testing"
	"time"
)

type testMetrics struct {
	read    int
	commits int
}

func (m *testMetrics) ObserveRead(time.Duration, int)   { m.read++ }
func (m *testMetrics) ObserveCommit(time.Duration, int) { m.commits++ }

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	metrics := &testMetrics{}
	db, err := Open(Options{
		DataDir:       t.TempDir(),
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestSetGetDelete(t *testing.T) {
	db, metrics := newTestDB(t)

	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("want v, got %q", got)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if metrics.commits == 0 || metrics.read == 0 {
		t.Fatalf("metrics hook not observed: %+v", metrics)
	}
}

func TestBatchCommitAtomic(t *testing.T) {
	db, _ := newTestDB(t)

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte("a"), []byte("1"), nil); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	if err := b.Set([]byte("b"), []byte("2"), nil); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if _, err := db.Get([]byte(k)); err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
	}
}

func TestOpenRequiresDataDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatalf("expected error for empty DataDir")
	}
}
