package subscribesvc

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pretyflaco/syncd/internal/auth"
	"github.com/pretyflaco/syncd/internal/eventlog"
	"github.com/pretyflaco/syncd/internal/metrics"
	"github.com/pretyflaco/syncd/internal/runtime"
	"github.com/pretyflaco/syncd/internal/streamid"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

// SupportedVersions lists the protocol versions this server speaks,
// ascending.
var SupportedVersions = []int{1, 2}

// ErrNoOverlap means the client and server share no protocol version.
var ErrNoOverlap = errors.New("subscribe: no common protocol version")

// ErrStaleCursor means the presented cursor cannot be replayed; the grant
// verdict carries the reason.
var ErrStaleCursor = errors.New("subscribe: stale cursor")

// Service provides negotiation and event delivery over the runtime's logs.
type Service struct {
	rt     *runtime.Runtime
	reg    *metrics.Registry
	logger logpkg.Logger

	batchLimit  int
	idleTimeout time.Duration
}

// New constructs the service. reg may be nil to disable counters.
func New(rt *runtime.Runtime, reg *metrics.Registry, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("subscribe"))
	}
	if reg == nil {
		reg = metrics.New()
	}
	sub := rt.Config().Subscribe
	batch := sub.BatchLimit
	if batch <= 0 {
		batch = 256
	}
	idle := sub.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	return &Service{rt: rt, reg: reg, logger: logger, batchLimit: batch, idleTimeout: idle}
}

// Negotiate picks the highest protocol version both sides speak.
func Negotiate(client []int) (int, error) {
	if len(client) == 0 {
		client = []int{1}
	}
	offered := map[int]bool{}
	for _, v := range client {
		offered[v] = true
	}
	best := 0
	for _, v := range SupportedVersions {
		if offered[v] && v > best {
			best = v
		}
	}
	if best == 0 {
		sorted := append([]int(nil), client...)
		sort.Ints(sorted)
		return 0, fmt.Errorf("%w: client offers %v, server speaks %v", ErrNoOverlap, sorted, SupportedVersions)
	}
	return best, nil
}

// Grant authorizes and negotiates one subscription. On a stale cursor it
// returns the grant with the verdict set alongside ErrStaleCursor so the
// transport can report the window to the client.
func (s *Service) Grant(g *auth.Grant, req Request) (Grant, error) {
	if g == nil {
		return Grant{}, auth.ErrUnauthorized
	}
	streamID := req.StreamID
	if streamID == "" && req.Topic != "" {
		streamID = streamid.MapTopic(req.Topic)
	}
	if streamID == "" {
		return Grant{}, fmt.Errorf("subscribe: missing stream id")
	}
	if !g.Allows(streamID) {
		s.reg.IncAuthFailure(metrics.AuthForbidden)
		return Grant{}, auth.ErrForbidden
	}
	if g.UnboundedCompat {
		// Old issuers mint tokens without stream bindings. Tracked so the
		// compat window can be closed once they are gone.
		s.logger.With(logpkg.Str("subject", g.Subject), logpkg.Stream(streamID)).
			Warn("subscribe.unbounded_grant")
	}
	version, err := Negotiate(req.Versions)
	if err != nil {
		return Grant{}, err
	}

	log, err := s.rt.OpenLog(streamID)
	if err != nil {
		return Grant{}, err
	}
	window := log.Window()
	verdict := window.Evaluate(req.AfterSeq)
	grant := Grant{
		Version:   version,
		StreamID:  streamID,
		Window:    window,
		Verdict:   verdict,
		ResumeSeq: req.AfterSeq,
	}
	if verdict.Stale() {
		s.reg.IncStaleCursor()
		s.logger.With(
			logpkg.Stream(streamID),
			logpkg.Uint64("after_seq", req.AfterSeq),
			logpkg.Uint64("oldest_seq", window.OldestSeq),
			logpkg.Uint64("head_seq", window.HeadSeq),
			logpkg.Str("verdict", string(verdict)),
		).Info("subscribe.stale_cursor")
		return grant, ErrStaleCursor
	}
	if window.HeadSeq > req.AfterSeq {
		s.reg.ObserveReplayLag(window.HeadSeq - req.AfterSeq)
	}
	return grant, nil
}

// Stream delivers events after grant.ResumeSeq in order, switching to a
// live tail once retained history is drained. It runs until the sink's
// context is canceled and returns that context's error.
func (s *Service) Stream(grant Grant, req Request, sink SubscribeSink) error {
	cfilter, err := newCELFilter(req.Filter)
	if err != nil {
		return err
	}
	log, err := s.rt.OpenLog(grant.StreamID)
	if err != nil {
		return err
	}
	ctx := sink.Context()
	after := grant.ResumeSeq
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, err := log.Read(eventlog.ReadOptions{AfterSeq: after, Limit: s.batchLimit})
		if err != nil {
			return err
		}
		if len(events) == 0 {
			if !log.WaitForAppend(ctx, after, s.idleTimeout) {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			continue
		}
		t0 := time.Now()
		sent := 0
		for _, ev := range events {
			if !cfilter.Eval(ev) {
				continue
			}
			if err := sink.Send(ev); err != nil {
				return err
			}
			sent++
		}
		after = events[len(events)-1].Seq
		if sent > 0 {
			if err := sink.Flush(); err != nil {
				return err
			}
			s.logger.With(
				logpkg.Stream(grant.StreamID),
				logpkg.Int("batch_n", sent),
				logpkg.Seq(after),
				logpkg.Dur("deliver", time.Since(t0)),
			).Debug("subscribe.deliver")
		}
	}
}

// Window reports the current retention window for a stream without a grant.
// Rebootstrapping clients use it to seed a fresh cursor at the head.
func (s *Service) Window(streamID string) (streamid.Window, error) {
	log, err := s.rt.OpenLog(streamID)
	if err != nil {
		return streamid.Window{}, err
	}
	return log.Window(), nil
}
