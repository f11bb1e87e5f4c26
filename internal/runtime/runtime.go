package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	cfgpkg "github.com/pretyflaco/syncd/internal/config"
	"github.com/pretyflaco/syncd/internal/eventlog"
	pebblestore "github.com/pretyflaco/syncd/internal/storage/pebble"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Metrics is an optional storage metrics hook.
	Metrics pebblestore.MetricsHook
}

// Runtime wires storage and config for a single-node instance.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config

	mu   sync.Mutex
	logs map[string]*eventlog.Log
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{db: db, config: opts.Config, logs: map[string]*eventlog.Log{}}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// OpenLog returns the event log for a stream, creating it implicitly on
// first use. The same *Log is returned for repeated calls.
func (r *Runtime) OpenLog(streamID string) (*eventlog.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.logs[streamID]; ok {
		return l, nil
	}
	l, err := eventlog.Open(r.db, streamID, eventlog.Options{
		ReplayBudget: r.config.Streams.ReplayBudgetEvents,
	})
	if err != nil {
		return nil, err
	}
	r.logs[streamID] = l
	return l, nil
}

// OpenStreams returns the ids of streams this runtime has opened.
func (r *Runtime) OpenStreams() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for id := range r.logs {
		out = append(out, id)
	}
	return out
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
