package eventlog

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
)

// TrimBelow deletes entries with seq < floor and advances the retention
// floor. The floor is published first, under the log lock, so resuming
// cursors below it are classified stale right away; the deletes then run
// in batches of up to batchLimit keys without the lock, with an optional
// throttle between commits, so appends and reads keep flowing during a
// large trim. Returns the number of deleted entries.
func (l *Log) TrimBelow(ctx context.Context, floor uint64, batchLimit int, throttle time.Duration) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	l.trimMu.Lock()
	defer l.trimMu.Unlock()

	l.mu.Lock()
	if floor == 0 || (l.oldestSeq > 0 && floor <= l.oldestSeq) {
		l.mu.Unlock()
		return 0, nil
	}
	// never trim past head+1: a fully trimmed stream keeps oldest=head+1
	if floor > l.headSeq+1 {
		floor = l.headSeq + 1
	}
	if err := l.db.Set(KeyStreamMeta(l.streamID), encodeMeta(l.headSeq, floor)); err != nil {
		l.mu.Unlock()
		return 0, err
	}
	l.oldestSeq = floor
	hook := l.trimHook
	l.mu.Unlock()

	// Everything below the floor is immutable and unreachable through the
	// window, so the deletes need no lock.
	low := KeyEntry(l.streamID, 0)
	hi := KeyEntry(l.streamID, floor)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	var minSeq, maxSeq uint64
	first := true
	ok := iter.First()
	for ok {
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			seq := entrySeq(iter.Key())
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			if first {
				minSeq = seq
				first = false
			}
			maxSeq = seq
			deleted++
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		if throttle > 0 && ok {
			time.Sleep(throttle)
		}
	}
	if !first {
		hook.ObserveTrim(l.streamID, minSeq, maxSeq)
	}
	return deleted, nil
}

// TrimOlderThan deletes entries whose write timestamp is below cutoffMs.
// It scans from the floor until the first entry at or past the cutoff,
// then delegates to TrimBelow.
func (l *Log) TrimOlderThan(ctx context.Context, cutoffMs int64, batchLimit int, throttle time.Duration) (int, error) {
	l.mu.Lock()
	low := KeyEntry(l.streamID, 0)
	hi := KeyEntry(l.streamID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		l.mu.Unlock()
		return 0, err
	}

	floor := uint64(0)
	for ok := iter.First(); ok; ok = iter.Next() {
		dec, okDec := DecodeRecord(iter.Value())
		if !okDec || dec.TsMs >= cutoffMs {
			break
		}
		floor = entrySeq(iter.Key()) + 1
	}
	iter.Close()
	l.mu.Unlock()

	if floor == 0 {
		return 0, nil
	}
	return l.TrimBelow(ctx, floor, batchLimit, throttle)
}
