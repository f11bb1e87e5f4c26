// Package transport carries the client side of the sync wire protocol:
// subscribe with a resume cursor, receive the grant, then a totally ordered
// event stream. Implementations exist for WebSocket and for in-process
// loopback.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/pretyflaco/syncd/internal/eventlog"
	"github.com/pretyflaco/syncd/internal/streamid"
)

// ErrClosed is returned by Recv after the stream is closed locally.
var ErrClosed = errors.New("transport: stream closed")

// SubscribeRequest mirrors the server's negotiation input.
type SubscribeRequest struct {
	StreamID string `json:"stream_id"`
	AfterSeq uint64 `json:"after_seq"`
	Versions []int  `json:"versions,omitempty"`
	Filter   string `json:"filter,omitempty"`
}

// Grant is the negotiated subscription state sent before any event.
type Grant struct {
	Version   int              `json:"version"`
	StreamID  string           `json:"stream_id"`
	Window    streamid.Window  `json:"window"`
	Verdict   streamid.Verdict `json:"verdict"`
	ResumeSeq uint64           `json:"resume_seq"`
}

// StaleError reports that the server refused the resume cursor. The grant
// carries the verdict and the current window.
type StaleError struct {
	Grant Grant
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("transport: stale cursor on %s: %s (window [%d,%d])",
		e.Grant.StreamID, e.Grant.Verdict, e.Grant.Window.OldestSeq, e.Grant.Window.HeadSeq)
}

// Snapshot is a rebootstrap baseline: state as of Watermark.
type Snapshot struct {
	StreamID  string `json:"stream_id"`
	Watermark uint64 `json:"watermark"`
	State     []byte `json:"state,omitempty"`
}

// Stream receives ordered events for one subscription.
type Stream interface {
	// Recv blocks for the next event. It returns the transport error that
	// ended the stream, or ErrClosed after Close.
	Recv() (eventlog.Event, error)
	Close() error
}

// Client is a connection to the sync backend.
type Client interface {
	// Subscribe negotiates and opens one event stream. A refused cursor
	// returns a *StaleError; the caller rebootstraps via Snapshot.
	Subscribe(ctx context.Context, req SubscribeRequest) (Grant, Stream, error)
	// Snapshot fetches the rebootstrap baseline for a stream.
	Snapshot(ctx context.Context, streamID string) (Snapshot, error)
	Close() error
}
