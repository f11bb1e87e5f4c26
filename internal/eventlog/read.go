package eventlog

import (
	"github.com/cockroachdb/pebble"
)

// Event is a decoded stream event.
type Event struct {
	StreamID string `json:"stream_id"`
	Seq      uint64 `json:"seq"`
	Kind     string `json:"kind"`
	TsMs     int64  `json:"ts_ms"`
	Payload  []byte `json:"payload"`
}

// ReadOptions controls a forward scan.
type ReadOptions struct {
	// AfterSeq starts the scan at AfterSeq+1.
	AfterSeq uint64
	// Limit caps returned events; 0 means no cap.
	Limit int
}

// Read returns events with seq > AfterSeq in ascending order.
func (l *Log) Read(opts ReadOptions) ([]Event, error) {
	low := KeyEntry(l.streamID, opts.AfterSeq+1)
	hi := KeyEntry(l.streamID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]Event, 0, capHint(opts.Limit))
	for ok := iter.First(); ok; ok = iter.Next() {
		if opts.Limit > 0 && len(events) >= opts.Limit {
			break
		}
		seq := entrySeq(iter.Key())
		dec, okDec := DecodeRecord(iter.Value())
		if !okDec {
			// skip torn values rather than failing the whole scan
			continue
		}
		events = append(events, Event{
			StreamID: l.streamID,
			Seq:      seq,
			Kind:     dec.Kind,
			TsMs:     dec.TsMs,
			Payload:  dec.Payload,
		})
	}
	return events, nil
}

// GetEvent returns the single event at seq.
func (l *Log) GetEvent(seq uint64) (Event, error) {
	val, err := l.db.Get(KeyEntry(l.streamID, seq))
	if err != nil {
		return Event{}, ErrNotFound
	}
	dec, ok := DecodeRecord(val)
	if !ok {
		return Event{}, ErrNotFound
	}
	return Event{StreamID: l.streamID, Seq: seq, Kind: dec.Kind, TsMs: dec.TsMs, Payload: dec.Payload}, nil
}

func capHint(limit int) int {
	if limit > 0 && limit < 64 {
		return limit
	}
	return 64
}
