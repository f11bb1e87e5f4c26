package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pretyflaco/syncd/internal/eventlog"
	subscribesvc "github.com/pretyflaco/syncd/internal/services/subscribe"
)

type sseSink struct {
	w http.ResponseWriter
	r *http.Request
}

func (s sseSink) Send(ev eventlog.Event) error {
	return sseWrite(s.w, "event", ev)
}

func (s sseSink) Context() context.Context { return s.r.Context() }

func (s sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func sseWrite(w http.ResponseWriter, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

func (s *Server) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g, err := s.authorize(r)
	if err != nil {
		writeError(w, authStatus(err), err)
		return
	}
	req := subscribeRequestFromQuery(r)
	sg, gerr := s.sub.Grant(g, req)
	if gerr != nil && !errors.Is(gerr, subscribesvc.ErrStaleCursor) {
		if errors.Is(gerr, subscribesvc.ErrNoOverlap) {
			writeError(w, http.StatusUpgradeRequired, gerr)
			return
		}
		writeError(w, authStatus(gerr), gerr)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	sink := sseSink{w: w, r: r}
	if gerr != nil {
		_ = sseWrite(w, "stale", sg)
		_ = sink.Flush()
		return
	}
	if err := sseWrite(w, "grant", sg); err != nil {
		return
	}
	_ = sink.Flush()
	_ = s.sub.Stream(sg, req, sink)
}
