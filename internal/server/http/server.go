package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/pretyflaco/syncd/internal/auth"
	"github.com/pretyflaco/syncd/internal/metrics"
	"github.com/pretyflaco/syncd/internal/runtime"
	publishsvc "github.com/pretyflaco/syncd/internal/services/publish"
	subscribesvc "github.com/pretyflaco/syncd/internal/services/subscribe"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

type Server struct {
	rt       *runtime.Runtime
	pub      *publishsvc.Service
	sub      *subscribesvc.Service
	verifier *auth.Verifier
	reg      *metrics.Registry
	logger   logpkg.Logger
	srv      *http.Server
	lis      net.Listener
}

// Options collects the server's collaborators.
type Options struct {
	Runtime   *runtime.Runtime
	Publish   *publishsvc.Service
	Subscribe *subscribesvc.Service
	Verifier  *auth.Verifier
	Metrics   *metrics.Registry
	Logger    logpkg.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("http"))
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	mux := http.NewServeMux()
	s := &Server{
		rt:       opts.Runtime,
		pub:      opts.Publish,
		sub:      opts.Subscribe,
		verifier: opts.Verifier,
		reg:      reg,
		logger:   logger,
		srv:      &http.Server{Handler: cors(mux)},
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/publish", s.handlePublish)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/subscribe", s.handleSubscribeWS)
	mux.HandleFunc("/v1/subscribe/sse", s.handleSubscribeSSE)
	mux.HandleFunc("/v1/ack", s.handleAck)
	mux.HandleFunc("/v1/streams", s.handleStreams)
	mux.HandleFunc("/v1/streams/", s.handleStreamSubresource)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	s.logger.With(logpkg.Str("addr", l.Addr().String())).Info("http.listening")
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listener address, for tests using port 0.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorize verifies the bearer token when a verifier is configured. A nil
// verifier (tests, trusted gateways) yields an unbounded grant.
func (s *Server) authorize(r *http.Request) (*auth.Grant, error) {
	if s.verifier == nil {
		return &auth.Grant{Subject: "anonymous", UnboundedCompat: true}, nil
	}
	tok, ok := auth.BearerFromHeader(r.Header.Get("Authorization"))
	if !ok {
		s.reg.IncAuthFailure(metrics.AuthUnauthorized)
		return nil, auth.ErrUnauthorized
	}
	g, err := s.verifier.VerifyToken(tok)
	if err != nil {
		if sub, ok := auth.FailureSubtype(err); ok {
			s.reg.IncAuthFailure(sub)
		}
		return nil, err
	}
	return &g, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// authStatus maps auth errors onto 401/403.
func authStatus(err error) int {
	if errors.Is(err, auth.ErrForbidden) {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}
