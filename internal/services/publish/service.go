package publishsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pretyflaco/syncd/internal/eventlog"
	"github.com/pretyflaco/syncd/internal/metrics"
	"github.com/pretyflaco/syncd/internal/outbox"
	"github.com/pretyflaco/syncd/internal/runtime"
	"github.com/pretyflaco/syncd/internal/streamid"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

// Outcome reports how a publish request was resolved.
type Outcome int

const (
	// Applied means the event extended the log head.
	Applied Outcome = iota
	// Duplicate means an identical event at that sequence already existed.
	Duplicate
)

// ErrValidation wraps request-shape failures. These are never retried.
var ErrValidation = errors.New("publish: invalid request")

// Request is a producer event submission.
type Request struct {
	StreamID string
	// Topic is a legacy alias accepted in place of StreamID.
	Topic   string
	Seq     uint64
	Kind    string
	Payload []byte
}

// Result is returned for accepted (applied or duplicate) publishes.
type Result struct {
	StreamID string  `json:"stream_id"`
	Seq      uint64  `json:"seq"`
	Outcome  Outcome `json:"outcome"`
}

// Service provides the publish path over the runtime's event logs.
type Service struct {
	rt     *runtime.Runtime
	out    *outbox.Outbox
	fwd    outbox.Sender
	reg    *metrics.Registry
	logger logpkg.Logger
}

// New constructs the service. fwd and out may be nil when no downstream
// forwarding is configured; reg may be nil to disable counters.
func New(rt *runtime.Runtime, fwd outbox.Sender, out *outbox.Outbox, reg *metrics.Registry, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("publish"))
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Service{rt: rt, out: out, fwd: fwd, reg: reg, logger: logger}
}

// Publish validates and appends one event. Duplicate submissions of an
// already-applied event succeed without re-appending. A gap or a payload
// mismatch at an occupied sequence returns eventlog.ErrSequenceConflict.
func (s *Service) Publish(ctx context.Context, req Request) (Result, error) {
	streamID, err := s.resolveStream(req)
	if err != nil {
		return Result{}, err
	}
	if req.Seq == 0 {
		return Result{}, fmt.Errorf("%w: seq must be >= 1", ErrValidation)
	}
	if req.Kind == "" {
		return Result{}, fmt.Errorf("%w: missing kind", ErrValidation)
	}
	if max := s.rt.Config().Streams.PayloadMaxBytes; max > 0 && len(req.Payload) > max {
		return Result{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrValidation, max)
	}

	t0 := time.Now()
	log, err := s.rt.OpenLog(streamID)
	if err != nil {
		return Result{}, err
	}
	outcome, err := log.Append(ctx, req.Seq, req.Kind, req.Payload)
	if err != nil {
		s.reg.IncFailed()
		return Result{}, err
	}
	res := Result{StreamID: streamID, Seq: req.Seq, Outcome: Applied}
	switch outcome {
	case eventlog.AppendDuplicate:
		res.Outcome = Duplicate
		s.reg.IncDuplicate()
		return res, nil
	default:
		s.reg.IncPublished()
	}

	s.forward(ctx, eventlog.Event{
		StreamID: streamID,
		Seq:      req.Seq,
		Kind:     req.Kind,
		TsMs:     time.Now().UnixMilli(),
		Payload:  req.Payload,
	})

	s.logger.With(
		logpkg.Stream(streamID),
		logpkg.Seq(req.Seq),
		logpkg.Int("bytes", len(req.Payload)),
		logpkg.Dur("dur", time.Since(t0)),
	).Debug("publish.applied")
	return res, nil
}

// forward sends an applied event downstream, parking it in the outbox when
// the immediate send fails. Outbox persistence failures are logged only;
// the local append already succeeded.
func (s *Service) forward(ctx context.Context, ev eventlog.Event) {
	if s.fwd == nil {
		return
	}
	err := s.fwd.Send(ctx, ev)
	if err == nil {
		return
	}
	if s.out == nil {
		s.reg.IncFailure(outbox.Classify(err))
		s.logger.With(logpkg.Stream(ev.StreamID), logpkg.Seq(ev.Seq), logpkg.Err(err)).
			Warn("publish.forward_failed")
		return
	}
	if qerr := s.out.Enqueue(ev, err); qerr != nil && !errors.Is(qerr, outbox.ErrNonRetryable) {
		s.logger.With(logpkg.Stream(ev.StreamID), logpkg.Seq(ev.Seq), logpkg.Err(qerr)).
			Error("publish.outbox_enqueue_failed")
	}
}

// resolveStream picks the stream id, mapping a legacy topic alias when the
// caller did not pass a stream id directly.
func (s *Service) resolveStream(req Request) (string, error) {
	if req.StreamID != "" {
		return req.StreamID, nil
	}
	if req.Topic != "" {
		return streamid.MapTopic(req.Topic), nil
	}
	return "", fmt.Errorf("%w: missing stream id", ErrValidation)
}

// Window reports the current retention window for a stream.
func (s *Service) Window(streamID string) (streamid.Window, error) {
	log, err := s.rt.OpenLog(streamID)
	if err != nil {
		return streamid.Window{}, err
	}
	return log.Window(), nil
}
