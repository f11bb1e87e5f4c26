package id

import (
	"bytes"
	"testing"
)

func TestNextMonotonicWithinMillisecond(t *testing.T) {
	old := NowMs
	NowMs = func() int64 { return 42 }
	defer func() { NowMs = old }()

	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 100; i++ {
		cur := g.Next()
		if bytes.Compare(cur.Bytes(), prev.Bytes()) <= 0 {
			t.Fatalf("id %d not increasing: %s <= %s", i, cur, prev)
		}
		prev = cur
	}
}

func TestBackwardsClockDoesNotRegress(t *testing.T) {
	now := int64(1000)
	old := NowMs
	NowMs = func() int64 { return now }
	defer func() { NowMs = old }()

	g := NewGenerator()
	a := g.Next()
	now = 500 // clock steps back
	b := g.Next()
	if bytes.Compare(b.Bytes(), a.Bytes()) <= 0 {
		t.Fatalf("id regressed after clock step: %s <= %s", b, a)
	}
	if b.UnixMs() != 1000 {
		t.Fatalf("expected reused ms 1000, got %d", b.UnixMs())
	}
}

func TestFromBytesRoundTrip(t *testing.T) {
	g := NewGenerator()
	a := g.Next()
	got, ok := FromBytes(a.Bytes())
	if !ok || got != a {
		t.Fatalf("round trip failed")
	}
	if _, ok := FromBytes([]byte{1, 2, 3}); ok {
		t.Fatalf("short input accepted")
	}
}
