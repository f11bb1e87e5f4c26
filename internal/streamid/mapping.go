package streamid

import "strings"

// Canonical id layout: dot-separated segments under a "runtime." root.
//
// Known legacy patterns:
//   - run:<id>:events        -> runtime.run.<id>.events
//   - worker:<id>:lifecycle  -> runtime.worker.<id>.lifecycle
//   - user:<id>:fleet        -> runtime.user.<id>.fleet
//
// Anything else maps through the normalized fallback
// runtime.topic.<topic-with-separators-normalized> so no legacy topic is
// ever unmappable.

const fallbackPrefix = "runtime.topic."

// MapTopic translates a legacy topic into its canonical stream id.
func MapTopic(topic string) string {
	parts := strings.Split(topic, ":")
	switch {
	case len(parts) == 3 && parts[0] == "run" && parts[2] == "events" && parts[1] != "":
		return "runtime.run." + parts[1] + ".events"
	case len(parts) == 3 && parts[0] == "worker" && parts[2] == "lifecycle" && parts[1] != "":
		return "runtime.worker." + parts[1] + ".lifecycle"
	case len(parts) == 3 && parts[0] == "user" && parts[2] == "fleet" && parts[1] != "":
		return "runtime.user." + parts[1] + ".fleet"
	}
	return fallbackPrefix + normalize(topic)
}

// normalize lowercases the topic and replaces separator characters with
// dots, collapsing repeats. The result is deterministic but lossy; use
// ReverseLookup only for diagnostics.
func normalize(topic string) string {
	var b strings.Builder
	b.Grow(len(topic))
	lastDot := false
	for _, r := range strings.ToLower(topic) {
		switch r {
		case ':', '/', '|', ' ':
			if !lastDot && b.Len() > 0 {
				b.WriteByte('.')
				lastDot = true
			}
		default:
			b.WriteRune(r)
			lastDot = false
		}
	}
	return strings.TrimSuffix(b.String(), ".")
}

// ReverseLookup maps a canonical stream id back to its legacy topic form.
// Exact for the known patterns; best-effort (separators become colons) for
// fallback-mapped ids. Diagnostics only.
func ReverseLookup(streamID string) (string, bool) {
	if rest, ok := strings.CutPrefix(streamID, fallbackPrefix); ok {
		return strings.ReplaceAll(rest, ".", ":"), true
	}
	parts := strings.Split(streamID, ".")
	if len(parts) != 4 || parts[0] != "runtime" {
		return "", false
	}
	switch {
	case parts[1] == "run" && parts[3] == "events":
		return "run:" + parts[2] + ":events", true
	case parts[1] == "worker" && parts[3] == "lifecycle":
		return "worker:" + parts[2] + ":lifecycle", true
	case parts[1] == "user" && parts[3] == "fleet":
		return "user:" + parts[2] + ":fleet", true
	}
	return "", false
}
