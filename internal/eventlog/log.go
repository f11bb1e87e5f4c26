package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/pretyflaco/syncd/internal/storage/pebble"
	"github.com/pretyflaco/syncd/internal/streamid"
)

// ErrSequenceConflict signals a publish that violates the single-writer
// append discipline: a gap past head, or a re-publish of an existing seq
// with a different payload. Non-retryable.
var ErrSequenceConflict = errors.New("eventlog: sequence conflict")

// ErrNotFound is returned for reads of missing entries.
var ErrNotFound = errors.New("eventlog: event not found")

// AppendOutcome describes the result of an Append.
type AppendOutcome int

const (
	// AppendApplied means the event was durably appended at head+1.
	AppendApplied AppendOutcome = iota
	// AppendDuplicate means the exact (seq, payload) was already
	// published; the call is a no-op success so the authority backend can
	// retry after an ambiguous failure.
	AppendDuplicate
)

// Options configures an opened Log.
type Options struct {
	// ReplayBudget bounds how far behind head a resume cursor may be
	// before it is classified stale. 0 means unbounded.
	ReplayBudget uint64
}

// TrimHook observes deleted ranges when retention trims run.
type TrimHook interface {
	ObserveTrim(streamID string, minSeq, maxSeq uint64)
}

type noopTrimHook struct{}

func (noopTrimHook) ObserveTrim(string, uint64, uint64) {}

// Log provides append and read operations for one stream.
type Log struct {
	db       *pebblestore.DB
	streamID string
	opts     Options

	mu        sync.Mutex
	headSeq   uint64
	oldestSeq uint64
	notifyCh  chan struct{}
	trimHook  TrimHook

	// trimMu serializes retention trims; the per-batch deletes run
	// outside mu so appends are not stalled behind them.
	trimMu sync.Mutex
}

// Open initializes a Log and loads head/oldest from metadata (if any).
func Open(db *pebblestore.DB, streamID string, opts Options) (*Log, error) {
	if streamID == "" {
		return nil, errors.New("eventlog: empty stream id")
	}
	l := &Log{db: db, streamID: streamID, opts: opts, notifyCh: make(chan struct{}), trimHook: noopTrimHook{}}
	meta, err := db.Get(KeyStreamMeta(streamID))
	if err == nil && len(meta) >= 16 {
		l.headSeq = binary.BigEndian.Uint64(meta[:8])
		l.oldestSeq = binary.BigEndian.Uint64(meta[8:16])
	} else if err != nil && !pebblestore.IsNotFound(err) {
		return nil, err
	}
	return l, nil
}

// SetTrimHook installs a hook observing retention trims.
func (l *Log) SetTrimHook(h TrimHook) {
	if h == nil {
		h = noopTrimHook{}
	}
	l.mu.Lock()
	l.trimHook = h
	l.mu.Unlock()
}

// StreamID returns the canonical stream id this log serves.
func (l *Log) StreamID() string { return l.streamID }

// Append appends one event at the given seq, enforcing the publish
// contract. Returns AppendDuplicate for an identical re-publish and
// ErrSequenceConflict for a gap or a payload mismatch at an existing seq.
func (l *Log) Append(ctx context.Context, seq uint64, kind string, payload []byte) (AppendOutcome, error) {
	if seq == 0 {
		return 0, fmt.Errorf("%w: seq must start at 1", ErrSequenceConflict)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if seq <= l.headSeq {
		return l.checkDuplicateLocked(seq, kind, payload)
	}
	if seq != l.headSeq+1 {
		return 0, fmt.Errorf("%w: stream %s expected seq %d, got %d",
			ErrSequenceConflict, l.streamID, l.headSeq+1, seq)
	}

	b := l.db.NewBatch()
	defer b.Close()

	val := EncodeRecord(time.Now().UnixMilli(), kind, payload)
	if err := b.Set(KeyEntry(l.streamID, seq), val, nil); err != nil {
		return 0, err
	}
	head := seq
	oldest := l.oldestSeq
	if oldest == 0 {
		oldest = 1
	}
	if err := b.Set(KeyStreamMeta(l.streamID), encodeMeta(head, oldest), nil); err != nil {
		return 0, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	l.headSeq = head
	l.oldestSeq = oldest

	// wake tailing subscribers
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return AppendApplied, nil
}

// checkDuplicateLocked classifies a re-publish of an already-covered seq.
// Entries below the retention floor are accepted as duplicates: they were
// published once, we just cannot compare payloads anymore.
func (l *Log) checkDuplicateLocked(seq uint64, kind string, payload []byte) (AppendOutcome, error) {
	if l.oldestSeq > 0 && seq < l.oldestSeq {
		return AppendDuplicate, nil
	}
	val, err := l.db.Get(KeyEntry(l.streamID, seq))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return AppendDuplicate, nil
		}
		return 0, err
	}
	dec, ok := DecodeRecord(val)
	if !ok {
		return 0, fmt.Errorf("eventlog: corrupt record at %s/%d", l.streamID, seq)
	}
	if PayloadChecksum(dec.Kind, dec.Payload) != PayloadChecksum(kind, payload) {
		return 0, fmt.Errorf("%w: stream %s seq %d re-published with different payload",
			ErrSequenceConflict, l.streamID, seq)
	}
	return AppendDuplicate, nil
}

// Window returns the current server-visible retention window.
func (l *Log) Window() streamid.Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	return streamid.Window{
		StreamID:     l.streamID,
		OldestSeq:    l.oldestSeq,
		HeadSeq:      l.headSeq,
		ReplayBudget: l.opts.ReplayBudget,
	}
}

// HeadSeq returns the seq of the newest appended event (0 if none).
func (l *Log) HeadSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headSeq
}

func encodeMeta(head, oldest uint64) []byte {
	var m [16]byte
	binary.BigEndian.PutUint64(m[:8], head)
	binary.BigEndian.PutUint64(m[8:16], oldest)
	return m[:]
}
