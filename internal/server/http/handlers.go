package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/pretyflaco/syncd/internal/eventlog"
	publishsvc "github.com/pretyflaco/syncd/internal/services/publish"
	"github.com/pretyflaco/syncd/internal/streamid"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Snapshot())
}

type publishReq struct {
	StreamID string          `json:"stream_id"`
	Topic    string          `json:"topic,omitempty"`
	Seq      uint64          `json:"seq"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

type publishResp struct {
	StreamID string `json:"stream_id"`
	Seq      uint64 `json:"seq"`
	Outcome  string `json:"outcome"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	grant, err := s.authorize(r)
	if err != nil {
		writeError(w, authStatus(err), err)
		return
	}
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Authorization is checked against the resolved stream so a topic
	// alias cannot sidestep bindings.
	target := req.StreamID
	if target == "" && req.Topic != "" {
		target = streamid.MapTopic(req.Topic)
	}
	if target != "" && !grant.Allows(target) {
		writeError(w, http.StatusForbidden, errors.New("stream not authorized"))
		return
	}
	res, err := s.pub.Publish(r.Context(), publishsvc.Request{
		StreamID: req.StreamID,
		Topic:    req.Topic,
		Seq:      req.Seq,
		Kind:     req.Kind,
		Payload:  req.Payload,
	})
	switch {
	case errors.Is(err, publishsvc.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, eventlog.ErrSequenceConflict):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	outcome := "applied"
	status := http.StatusOK
	if res.Outcome == publishsvc.Duplicate {
		outcome = "duplicate"
	}
	writeJSON(w, status, publishResp{StreamID: res.StreamID, Seq: res.Seq, Outcome: outcome})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	grant, err := s.authorize(r)
	if err != nil {
		writeError(w, authStatus(err), err)
		return
	}
	q := r.URL.Query()
	streamID := q.Get("stream_id")
	if streamID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing stream_id"))
		return
	}
	if !grant.Allows(streamID) {
		writeError(w, http.StatusForbidden, errors.New("stream not authorized"))
		return
	}
	afterSeq, _ := strconv.ParseUint(q.Get("after_seq"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	log, err := s.rt.OpenLog(streamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	events, err := log.Read(eventlog.ReadOptions{AfterSeq: afterSeq, Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream_id": streamID,
		"events":    events,
		"window":    log.Window(),
	})
}

type ackReq struct {
	StreamID string `json:"stream_id"`
	Consumer string `json:"consumer"`
	Seq      uint64 `json:"seq"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	grant, err := s.authorize(r)
	if err != nil {
		writeError(w, authStatus(err), err)
		return
	}
	var req ackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.StreamID == "" || req.Consumer == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing stream_id or consumer"))
		return
	}
	if !grant.Allows(req.StreamID) {
		writeError(w, http.StatusForbidden, errors.New("stream not authorized"))
		return
	}
	log, err := s.rt.OpenLog(req.StreamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := log.AckCheckpoint(req.Consumer, req.Seq); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.authorize(r); err != nil {
		writeError(w, authStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": s.rt.OpenStreams()})
}

// handleStreamSubresource routes /v1/streams/{id}/window, /snapshot, and
// /checkpoint/{consumer}.
func (s *Server) handleStreamSubresource(w http.ResponseWriter, r *http.Request) {
	grant, err := s.authorize(r)
	if err != nil {
		writeError(w, authStatus(err), err)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/streams/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	streamID := parts[0]
	if !grant.Allows(streamID) {
		writeError(w, http.StatusForbidden, errors.New("stream not authorized"))
		return
	}
	log, err := s.rt.OpenLog(streamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "window" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, log.Window())
	case len(parts) == 2 && parts[1] == "snapshot" && r.Method == http.MethodGet:
		window := log.Window()
		s.logger.With(logpkg.Stream(streamID), logpkg.Seq(window.HeadSeq)).Info("http.snapshot")
		writeJSON(w, http.StatusOK, map[string]any{
			"stream_id": streamID,
			"watermark": window.HeadSeq,
		})
	case len(parts) == 3 && parts[1] == "checkpoint" && r.Method == http.MethodGet:
		seq, ok := log.GetAckCheckpoint(parts[2])
		writeJSON(w, http.StatusOK, map[string]any{
			"stream_id": streamID,
			"consumer":  parts[2],
			"seq":       seq,
			"exists":    ok,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
