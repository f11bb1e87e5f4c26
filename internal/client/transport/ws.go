package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pretyflaco/syncd/internal/eventlog"
)

// Frame types exchanged on the subscribe socket.
const (
	FrameGrant = "grant"
	FrameEvent = "event"
	FrameStale = "stale"
	FrameError = "error"
)

// Frame is one JSON message on the subscribe socket. The server sends a
// grant (or stale) frame first, then event frames.
type Frame struct {
	Type  string          `json:"type"`
	Grant *Grant          `json:"grant,omitempty"`
	Event *eventlog.Event `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

// WSClient talks to the backend over WebSocket for event delivery and plain
// HTTP for snapshots.
type WSClient struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	httpc   *http.Client
}

// NewWSClient takes the server's base URL (http:// or https://).
func NewWSClient(baseURL, token string) *WSClient {
	return &WSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *WSClient) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *WSClient) wsURL(req SubscribeRequest) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/subscribe"
	q := u.Query()
	q.Set("stream_id", req.StreamID)
	q.Set("after_seq", strconv.FormatUint(req.AfterSeq, 10))
	if len(req.Versions) > 0 {
		vs := make([]string, len(req.Versions))
		for i, v := range req.Versions {
			vs[i] = strconv.Itoa(v)
		}
		q.Set("versions", strings.Join(vs, ","))
	}
	if req.Filter != "" {
		q.Set("filter", req.Filter)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the socket and waits for the grant frame.
func (c *WSClient) Subscribe(ctx context.Context, req SubscribeRequest) (Grant, Stream, error) {
	wsu, err := c.wsURL(req)
	if err != nil {
		return Grant{}, nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsu, c.header())
	if err != nil {
		if resp != nil {
			return Grant{}, nil, fmt.Errorf("transport: dial %s: %s: %w", req.StreamID, resp.Status, err)
		}
		return Grant{}, nil, fmt.Errorf("transport: dial %s: %w", req.StreamID, err)
	}
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		_ = conn.Close()
		return Grant{}, nil, fmt.Errorf("transport: read grant: %w", err)
	}
	switch f.Type {
	case FrameGrant:
		if f.Grant == nil {
			_ = conn.Close()
			return Grant{}, nil, fmt.Errorf("transport: grant frame missing body")
		}
		return *f.Grant, &wsStream{conn: conn}, nil
	case FrameStale:
		_ = conn.Close()
		if f.Grant == nil {
			return Grant{}, nil, fmt.Errorf("transport: stale frame missing body")
		}
		return *f.Grant, nil, &StaleError{Grant: *f.Grant}
	case FrameError:
		_ = conn.Close()
		return Grant{}, nil, fmt.Errorf("transport: server refused subscribe: %s", f.Error)
	default:
		_ = conn.Close()
		return Grant{}, nil, fmt.Errorf("transport: unexpected first frame %q", f.Type)
	}
}

// Snapshot fetches the rebootstrap baseline over HTTP.
func (c *WSClient) Snapshot(ctx context.Context, streamID string) (Snapshot, error) {
	u := c.baseURL + "/v1/streams/" + url.PathEscape(streamID) + "/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header = c.header()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Snapshot{}, fmt.Errorf("transport: snapshot %s: %s: %s", streamID, resp.Status, strings.TrimSpace(string(body)))
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (c *WSClient) Close() error { return nil }

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Recv() (eventlog.Event, error) {
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return eventlog.Event{}, io.EOF
			}
			return eventlog.Event{}, err
		}
		switch f.Type {
		case FrameEvent:
			if f.Event == nil {
				return eventlog.Event{}, fmt.Errorf("transport: event frame missing body")
			}
			return *f.Event, nil
		case FrameError:
			return eventlog.Event{}, fmt.Errorf("transport: server error: %s", f.Error)
		default:
			// Ignore unknown frame types for forward compatibility.
		}
	}
}

func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
