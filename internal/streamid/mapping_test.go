package streamid

import "testing"

func TestMapTopicKnownPatterns(t *testing.T) {
	cases := []struct {
		topic string
		want  string
	}{
		{"run:abc123:events", "runtime.run.abc123.events"},
		{"worker:w-9:lifecycle", "runtime.worker.w-9.lifecycle"},
		{"user:u42:fleet", "runtime.user.u42.fleet"},
	}
	for _, c := range cases {
		if got := MapTopic(c.topic); got != c.want {
			t.Fatalf("MapTopic(%q) = %q, want %q", c.topic, got, c.want)
		}
	}
}

func TestMapTopicFallbackNeverUnmappable(t *testing.T) {
	cases := []struct {
		topic string
		want  string
	}{
		{"orders", "runtime.topic.orders"},
		{"Orders/EU", "runtime.topic.orders.eu"},
		{"a::b", "runtime.topic.a.b"},
		{"run:events", "runtime.topic.run.events"},       // too few segments
		{"run::events", "runtime.topic.run.events"},      // empty id
		{"trailing:", "runtime.topic.trailing"},
	}
	for _, c := range cases {
		if got := MapTopic(c.topic); got != c.want {
			t.Fatalf("MapTopic(%q) = %q, want %q", c.topic, got, c.want)
		}
	}
}

func TestMapTopicDeterministic(t *testing.T) {
	a := MapTopic("run:r1:events")
	b := MapTopic("run:r1:events")
	if a != b {
		t.Fatalf("mapping not deterministic: %q vs %q", a, b)
	}
}

func TestReverseLookup(t *testing.T) {
	for _, topic := range []string{"run:r1:events", "worker:w1:lifecycle", "user:u1:fleet"} {
		got, ok := ReverseLookup(MapTopic(topic))
		if !ok || got != topic {
			t.Fatalf("reverse of %q = %q ok=%v", topic, got, ok)
		}
	}
	// fallback reverse is best-effort
	got, ok := ReverseLookup("runtime.topic.orders.eu")
	if !ok || got != "orders:eu" {
		t.Fatalf("fallback reverse = %q ok=%v", got, ok)
	}
	if _, ok := ReverseLookup("something.else"); ok {
		t.Fatalf("unexpected reverse success")
	}
}
