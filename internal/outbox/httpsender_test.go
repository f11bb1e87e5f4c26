package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pretyflaco/syncd/internal/metrics"
)

func TestHTTPSenderPostsPublishRequest(t *testing.T) {
	var got forwardBody
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "tok")
	ev := testEvent(7)
	ev.Payload = []byte(`{"v":1}`)
	if err := s.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer tok" {
		t.Fatalf("authorization = %q", auth)
	}
	if got.StreamID != ev.StreamID || got.Seq != 7 || got.Kind != "delta" {
		t.Fatalf("forwarded body = %+v", got)
	}
	if string(got.Payload) != `{"v":1}` {
		t.Fatalf("payload = %s", got.Payload)
	}
}

func TestHTTPSenderClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status int
		class  metrics.FailureClass
	}{
		{http.StatusTooManyRequests, metrics.FailureRateLimited},
		{http.StatusUnauthorized, metrics.FailureAuth},
		{http.StatusForbidden, metrics.FailureAuth},
		{http.StatusBadRequest, metrics.FailureValidation},
		{http.StatusConflict, metrics.FailureValidation},
		{http.StatusInternalServerError, metrics.FailureUnknown},
	}
	for _, tc := range cases {
		status := tc.status
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		s := NewHTTPSender(srv.URL, "")
		ev := testEvent(1)
		ev.Payload = []byte(`{"v":1}`)
		err := s.Send(context.Background(), ev)
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := Classify(err); got != tc.class {
			t.Fatalf("status %d: class = %s, want %s", tc.status, got, tc.class)
		}
	}
}
