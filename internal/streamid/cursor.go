package streamid

// Cursor is a client's read position: events with seq > AfterSeq are due.
type Cursor struct {
	StreamID string `json:"stream_id"`
	AfterSeq uint64 `json:"after_seq"`
}

// LegacyCursor is structurally a Cursor addressed by the pre-migration
// topic scheme. It is translated before use and never persisted again in
// this form.
type LegacyCursor struct {
	Topic    string `json:"topic"`
	AfterSeq uint64 `json:"after_seq"`
}

// Window is the server-visible retention window for a stream.
type Window struct {
	StreamID     string `json:"stream_id"`
	OldestSeq    uint64 `json:"oldest_seq"`
	HeadSeq      uint64 `json:"head_seq"`
	ReplayBudget uint64 `json:"replay_budget_events"`
}

// Verdict classifies a cursor against a retention window.
type Verdict string

const (
	// VerdictFresh means the cursor can resume tailing incrementally.
	VerdictFresh Verdict = "fresh"
	// VerdictRetentionFloorBreach means the cursor points below the
	// retention floor; the events it would need are gone.
	VerdictRetentionFloorBreach Verdict = "retention_floor_breach"
	// VerdictReplayBudgetExceeded means the cursor is within retention but
	// further behind head than the server is willing to replay.
	VerdictReplayBudgetExceeded Verdict = "replay_budget_exceeded"
)

// Stale reports whether the verdict requires a rebootstrap.
func (v Verdict) Stale() bool { return v != VerdictFresh }

// Evaluate classifies afterSeq against w. A cursor referencing
// seq < oldest_seq-1 breaches the retention floor; one separated from
// head by more than the replay budget exceeds it. ReplayBudget 0 means
// unbounded replay.
func (w Window) Evaluate(afterSeq uint64) Verdict {
	if w.OldestSeq > 0 && afterSeq+1 < w.OldestSeq {
		return VerdictRetentionFloorBreach
	}
	if w.ReplayBudget > 0 && w.HeadSeq > afterSeq && w.HeadSeq-afterSeq > w.ReplayBudget {
		return VerdictReplayBudgetExceeded
	}
	return VerdictFresh
}

// MigrateCursor applies the topic mapping to a legacy cursor and evaluates
// it against the target stream's window.
func MigrateCursor(legacy LegacyCursor, w Window) (Cursor, Verdict) {
	c := Cursor{StreamID: MapTopic(legacy.Topic), AfterSeq: legacy.AfterSeq}
	return c, w.Evaluate(c.AfterSeq)
}
