package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/pretyflaco/syncd/internal/config"
	"github.com/pretyflaco/syncd/internal/metrics"
	"github.com/pretyflaco/syncd/internal/runtime"
	pebblestore "github.com/pretyflaco/syncd/internal/storage/pebble"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

func TestRunStartsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dir := t.TempDir()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			DataDir:  dir,
			HTTPAddr: "127.0.0.1:0",
			Fsync:    pebblestore.FsyncModeNever,
			Config:   cfgpkg.Default(),
		})
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestBuildForwarderWiring(t *testing.T) {
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfgpkg.Default(),
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	reg := metrics.New()
	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.FatalLevel))

	fwd, out, err := buildForwarder(rt, cfgpkg.Default().Outbox, reg, logger)
	if err != nil {
		t.Fatalf("buildForwarder: %v", err)
	}
	if fwd != nil || out != nil {
		t.Fatalf("forwarding must stay off without a URL")
	}

	cfg := cfgpkg.Default().Outbox
	cfg.ForwardURL = "http://127.0.0.1:1/v1/publish"
	cfg.ForwardToken = "tok"
	fwd, out, err = buildForwarder(rt, cfg, reg, logger)
	if err != nil {
		t.Fatalf("buildForwarder: %v", err)
	}
	if fwd == nil || out == nil {
		t.Fatalf("forward URL set but no sender/outbox built")
	}
	if out.Depth() != 0 {
		t.Fatalf("fresh outbox depth = %d", out.Depth())
	}
}

func TestGetenvDefault(t *testing.T) {
	old := getenv
	defer func() { getenv = old }()
	getenv = func(key string) string {
		if key == "SET" {
			return "v"
		}
		return ""
	}
	if got := getenvDefault("SET", "d"); got != "v" {
		t.Fatalf("got %q", got)
	}
	if got := getenvDefault("UNSET", "d"); got != "d" {
		t.Fatalf("got %q", got)
	}
}
