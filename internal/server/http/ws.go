package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pretyflaco/syncd/internal/eventlog"
	subscribesvc "github.com/pretyflaco/syncd/internal/services/subscribe"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 << 10,
	WriteBufferSize: 32 << 10,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame is one message on the subscribe socket. The shapes must stay
// stable; deployed clients decode them by the type tag.
type wsFrame struct {
	Type  string              `json:"type"`
	Grant *subscribesvc.Grant `json:"grant,omitempty"`
	Event *eventlog.Event     `json:"event,omitempty"`
	Error string              `json:"error,omitempty"`
}

const (
	frameGrant = "grant"
	frameEvent = "event"
	frameStale = "stale"
	frameError = "error"
)

func subscribeRequestFromQuery(r *http.Request) subscribesvc.Request {
	q := r.URL.Query()
	req := subscribesvc.Request{
		StreamID: q.Get("stream_id"),
		Topic:    q.Get("topic"),
		Filter:   q.Get("filter"),
	}
	req.AfterSeq, _ = strconv.ParseUint(q.Get("after_seq"), 10, 64)
	if vs := q.Get("versions"); vs != "" {
		for _, part := range strings.Split(vs, ",") {
			if v, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				req.Versions = append(req.Versions, v)
			}
		}
	}
	return req
}

func (s *Server) handleSubscribeWS(w http.ResponseWriter, r *http.Request) {
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
		switch {
		case errors.Is(gerr, subscribesvc.ErrNoOverlap):
			writeError(w, http.StatusUpgradeRequired, gerr)
		default:
			writeError(w, authStatus(gerr), gerr)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	if gerr != nil {
		// Stale cursor: report the window so the client can rebootstrap.
		_ = writeFrame(conn, wsFrame{Type: frameStale, Grant: &sg})
		return
	}
	if err := writeFrame(conn, wsFrame{Type: frameGrant, Grant: &sg}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reader loop only services control frames and detects peer close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := &wsSink{conn: conn, ctx: ctx}
	if err := s.sub.Stream(sg, req, sink); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.With(logpkg.Stream(sg.StreamID), logpkg.Err(err)).Debug("ws.stream_ended")
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, f wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(f)
}

type wsSink struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (s *wsSink) Send(ev eventlog.Event) error {
	return writeFrame(s.conn, wsFrame{Type: frameEvent, Event: &ev})
}

func (s *wsSink) Context() context.Context { return s.ctx }

func (s *wsSink) Flush() error { return nil }
