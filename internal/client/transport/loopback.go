package transport

import (
	"context"
	"errors"

	"github.com/pretyflaco/syncd/internal/auth"
	"github.com/pretyflaco/syncd/internal/eventlog"
	subscribesvc "github.com/pretyflaco/syncd/internal/services/subscribe"
)

// Loopback adapts the in-process subscribe service to the Client interface.
// It exercises the same negotiation, staleness, and ordering paths as the
// network transports without a listener.
type Loopback struct {
	Sub *subscribesvc.Service
	// Grant is the caller's authorization, as a verified token would yield.
	Grant *auth.Grant
}

// Subscribe negotiates against the local service and streams in a goroutine.
func (l *Loopback) Subscribe(ctx context.Context, req SubscribeRequest) (Grant, Stream, error) {
	sreq := subscribesvc.Request{
		StreamID: req.StreamID,
		AfterSeq: req.AfterSeq,
		Versions: req.Versions,
		Filter:   req.Filter,
	}
	sg, err := l.Sub.Grant(l.Grant, sreq)
	grant := Grant{
		Version:   sg.Version,
		StreamID:  sg.StreamID,
		Window:    sg.Window,
		Verdict:   sg.Verdict,
		ResumeSeq: sg.ResumeSeq,
	}
	if err != nil {
		if errors.Is(err, subscribesvc.ErrStaleCursor) {
			return grant, nil, &StaleError{Grant: grant}
		}
		return Grant{}, nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	st := &loopbackStream{
		ch:     make(chan eventlog.Event, 64),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(st.done)
		st.err = l.Sub.Stream(sg, sreq, st)
	}()
	return grant, st, nil
}

// Snapshot seeds a rebootstrap at the stream's current head.
func (l *Loopback) Snapshot(ctx context.Context, streamID string) (Snapshot, error) {
	w, err := l.Sub.Window(streamID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{StreamID: streamID, Watermark: w.HeadSeq}, nil
}

func (l *Loopback) Close() error { return nil }

// loopbackStream is both the service-side sink and the client-side stream.
type loopbackStream struct {
	ch     chan eventlog.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (s *loopbackStream) Send(ev eventlog.Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *loopbackStream) Context() context.Context { return s.ctx }

func (s *loopbackStream) Flush() error { return nil }

func (s *loopbackStream) Recv() (eventlog.Event, error) {
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.ctx.Done():
		return eventlog.Event{}, ErrClosed
	}
}

func (s *loopbackStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
