package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pretyflaco/syncd/internal/auth"
	cfgpkg "github.com/pretyflaco/syncd/internal/config"
	"github.com/pretyflaco/syncd/internal/metrics"
	"github.com/pretyflaco/syncd/internal/outbox"
	"github.com/pretyflaco/syncd/internal/runtime"
	httpserver "github.com/pretyflaco/syncd/internal/server/http"
	publishsvc "github.com/pretyflaco/syncd/internal/services/publish"
	subscribesvc "github.com/pretyflaco/syncd/internal/services/subscribe"
	pebblestore "github.com/pretyflaco/syncd/internal/storage/pebble"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// RequireAuth enables bearer-token verification on all endpoints.
	RequireAuth bool
}

// Run starts the HTTP server and retention trimmer and blocks until ctx is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = opts.Config.Server.HTTPAddr
	}
	storeDir := filepath.Join(opts.DataDir, "store")
	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	logCfg := &logpkg.Config{
		Level:  getenvDefault("SYNCD_LOG_LEVEL", "info"),
		Format: getenvDefault("SYNCD_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		procLogger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Pebble logs through the stdlib logger.
	logpkg.RedirectStdLog(procLogger)

	procLogger.Info("starting syncd server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("level", logCfg.Level),
		logpkg.Uint64("replay_budget", opts.Config.Streams.ReplayBudgetEvents),
	)

	reg := metrics.New()
	var verifier *auth.Verifier
	if opts.RequireAuth {
		verifier = auth.NewVerifier(opts.Config.Auth.ClockSkew, auth.NewDenylist())
		verifier.DenyUnbounded = !opts.Config.Auth.AllowUnboundedGrants
	}
	fwd, out, err := buildForwarder(rt, opts.Config.Outbox, reg, procLogger)
	if err != nil {
		return err
	}
	pub := publishsvc.New(rt, fwd, out, reg, procLogger.With(logpkg.Component("publish")))
	sub := subscribesvc.New(rt, reg, procLogger.With(logpkg.Component("subscribe")))
	hsrv := httpserver.New(httpserver.Options{
		Runtime:   rt,
		Publish:   pub,
		Subscribe: sub,
		Verifier:  verifier,
		Metrics:   reg,
		Logger:    procLogger.With(logpkg.Component("http")),
	})

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		err := hsrv.ListenAndServe(gctx, opts.HTTPAddr)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		runRetention(gctx, rt, opts.Config.Retention, procLogger.With(logpkg.Component("retention")))
		return nil
	})
	if out != nil {
		g.Go(func() error {
			out.Run(gctx)
			return nil
		})
	}
	err = g.Wait()
	hsrv.Close()
	return err
}

// buildForwarder wires the downstream mirror when a forward URL is
// configured. The outbox shares the runtime's store so queued deliveries
// survive restarts.
func buildForwarder(rt *runtime.Runtime, cfg cfgpkg.OutboxConfig, reg *metrics.Registry, logger logpkg.Logger) (outbox.Sender, *outbox.Outbox, error) {
	if cfg.ForwardURL == "" {
		return nil, nil, nil
	}
	fwd := outbox.NewHTTPSender(cfg.ForwardURL, cfg.ForwardToken)
	policy := outbox.RetryPolicy{
		Base:   cfg.RetryBase,
		Cap:    cfg.RetryCap,
		Factor: cfg.RetryFactor,
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = uint32(cfg.MaxAttempts)
	}
	out, err := outbox.Open(rt.DB(), fwd, reg, logger, policy)
	if err != nil {
		return nil, nil, err
	}
	logger.With(logpkg.Component("outbox")).Info("forwarding enabled",
		logpkg.Str("url", cfg.ForwardURL), logpkg.Int("queued", int(out.Depth())))
	return fwd, out, nil
}

// runRetention periodically trims entries older than the configured age
// from every open stream.
func runRetention(ctx context.Context, rt *runtime.Runtime, cfg cfgpkg.RetentionConfig, logger logpkg.Logger) {
	if cfg.MaxAge <= 0 || cfg.TrimInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.TrimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-cfg.MaxAge).UnixMilli()
		for _, streamID := range rt.OpenStreams() {
			log, err := rt.OpenLog(streamID)
			if err != nil {
				continue
			}
			n, err := log.TrimOlderThan(ctx, cutoff, cfg.TrimBatchSize, cfg.TrimThrottle)
			if err != nil {
				logger.With(logpkg.Stream(streamID), logpkg.Err(err)).Warn("retention.trim_failed")
				continue
			}
			if n > 0 {
				logger.With(logpkg.Stream(streamID), logpkg.Int("deleted", n)).Debug("retention.trim")
			}
		}
	}
}
