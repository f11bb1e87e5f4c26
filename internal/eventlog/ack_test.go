package eventlog

import "testing"

func TestAckCheckpointMonotonic(t *testing.T) {
	l := newLogForTest(t, Options{})
	if err := l.AckCheckpoint("api-gateway", 5); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if got, ok := l.GetAckCheckpoint("api-gateway"); !ok || got != 5 {
		t.Fatalf("checkpoint = %d ok=%v", got, ok)
	}

	// lower or equal acks are ignored
	if err := l.AckCheckpoint("api-gateway", 3); err != nil {
		t.Fatalf("ack lower: %v", err)
	}
	if err := l.AckCheckpoint("api-gateway", 5); err != nil {
		t.Fatalf("ack same: %v", err)
	}
	if got, _ := l.GetAckCheckpoint("api-gateway"); got != 5 {
		t.Fatalf("checkpoint regressed: %d", got)
	}

	// higher advances
	if err := l.AckCheckpoint("api-gateway", 9); err != nil {
		t.Fatalf("ack higher: %v", err)
	}
	if got, _ := l.GetAckCheckpoint("api-gateway"); got != 9 {
		t.Fatalf("checkpoint = %d, want 9", got)
	}
}

func TestAckCheckpointsPerConsumerIndependent(t *testing.T) {
	l := newLogForTest(t, Options{})
	if err := l.AckCheckpoint("a", 2); err != nil {
		t.Fatalf("ack a: %v", err)
	}
	if err := l.AckCheckpoint("b", 7); err != nil {
		t.Fatalf("ack b: %v", err)
	}
	if got, _ := l.GetAckCheckpoint("a"); got != 2 {
		t.Fatalf("a = %d", got)
	}
	if got, _ := l.GetAckCheckpoint("b"); got != 7 {
		t.Fatalf("b = %d", got)
	}
	if _, ok := l.GetAckCheckpoint("c"); ok {
		t.Fatalf("unexpected checkpoint for c")
	}
}
