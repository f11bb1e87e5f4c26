package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pretyflaco/syncd/internal/eventlog"
	"github.com/pretyflaco/syncd/internal/metrics"
)

// HTTPSender mirrors applied events to a downstream peer's publish
// endpoint. Response statuses are classified so the retry loop can tell
// throttling and credential failures from permanent rejections.
type HTTPSender struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewHTTPSender builds a sender posting to url, authenticating with
// token when it is non-empty.
func NewHTTPSender(url, token string) *HTTPSender {
	return &HTTPSender{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type forwardBody struct {
	StreamID string          `json:"stream_id"`
	Seq      uint64          `json:"seq"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// Send posts one event. A duplicate response from the peer counts as
// success; the event is already present there.
func (s *HTTPSender) Send(ctx context.Context, ev eventlog.Event) error {
	b, err := json.Marshal(forwardBody{
		StreamID: ev.StreamID,
		Seq:      ev.Seq,
		Kind:     ev.Kind,
		Payload:  json.RawMessage(ev.Payload),
	})
	if err != nil {
		return WithClass(err, metrics.FailureValidation)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
	if err != nil {
		return WithClass(err, metrics.FailureValidation)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return WithClass(fmt.Errorf("forward %s: %s", s.URL, resp.Status), metrics.FailureRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return WithClass(fmt.Errorf("forward %s: %s", s.URL, resp.Status), metrics.FailureAuth)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The peer rejected the event itself; retrying cannot help.
		return WithClass(fmt.Errorf("forward %s: %s", s.URL, resp.Status), metrics.FailureValidation)
	default:
		return fmt.Errorf("forward %s: %s", s.URL, resp.Status)
	}
}
