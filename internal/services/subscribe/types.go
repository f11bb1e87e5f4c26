package subscribesvc

import (
	"context"

	"github.com/pretyflaco/syncd/internal/eventlog"
	"github.com/pretyflaco/syncd/internal/streamid"
)

// Request describes one subscription attempt.
type Request struct {
	StreamID string
	// Topic is a legacy alias accepted in place of StreamID.
	Topic string
	// AfterSeq is the resume cursor: deliver events with seq > AfterSeq.
	// Zero means from the beginning of retained history.
	AfterSeq uint64
	// Versions lists the protocol versions the client speaks.
	// Empty means version 1.
	Versions []int
	// Filter is an optional CEL expression evaluated per event.
	Filter string
}

// Grant is the negotiated subscription state returned before any event
// flows. A stale verdict means no events will be delivered for this cursor
// and the client must rebootstrap from fresh state.
type Grant struct {
	Version  int              `json:"version"`
	StreamID string           `json:"stream_id"`
	Window   streamid.Window  `json:"window"`
	Verdict  streamid.Verdict `json:"verdict"`
	// ResumeSeq echoes the accepted cursor.
	ResumeSeq uint64 `json:"resume_seq"`
}

// SubscribeSink is implemented by transports to receive streamed events.
type SubscribeSink interface {
	Send(eventlog.Event) error
	Context() context.Context
	Flush() error
}
