package eventlog

import (
	"encoding/binary"

	pebblestore "github.com/pretyflaco/syncd/internal/storage/pebble"
)

// AckCheckpoint records a consumer's durable progress server-side,
// idempotently. A seq at or below the stored position is ignored so
// at-least-once acks never regress the checkpoint.
func (l *Log) AckCheckpoint(consumer string, seq uint64) error {
	key := KeyAck(l.streamID, consumer)
	cur, err := l.db.Get(key)
	if err == nil && len(cur) >= 8 {
		if seq <= binary.BigEndian.Uint64(cur[:8]) {
			return nil
		}
	} else if err != nil && !pebblestore.IsNotFound(err) {
		return err
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return l.db.Set(key, b[:])
}

// GetAckCheckpoint loads the consumer's current server-side position.
func (l *Log) GetAckCheckpoint(consumer string) (uint64, bool) {
	cur, err := l.db.Get(KeyAck(l.streamID, consumer))
	if err != nil || len(cur) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(cur[:8]), true
}
