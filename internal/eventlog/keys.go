package eventlog

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - stream/{id}/m
// - stream/{id}/e/{seq_be8}
// - stream/{id}/ack/{consumer}

var (
	sep          = byte('/')
	streamPrefix = []byte("stream/")
	metaSuffix   = []byte("/m")
	entrySeg     = []byte("/e/")
	ackSeg       = []byte("/ack/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyStreamMeta builds the stream metadata key.
func KeyStreamMeta(streamID string) []byte {
	k := make([]byte, 0, len(streamID)+16)
	k = append(k, streamPrefix...)
	k = append(k, streamID...)
	k = append(k, metaSuffix...)
	return k
}

// KeyEntry builds the entry key with a big-endian seq for proper ordering.
func KeyEntry(streamID string, seq uint64) []byte {
	k := make([]byte, 0, len(streamID)+24)
	k = append(k, streamPrefix...)
	k = append(k, streamID...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// KeyAck builds the durable ack-checkpoint key for a consumer.
func KeyAck(streamID, consumer string) []byte {
	k := make([]byte, 0, len(streamID)+len(consumer)+16)
	k = append(k, streamPrefix...)
	k = append(k, streamID...)
	k = append(k, ackSeg...)
	k = append(k, consumer...)
	return k
}

// entrySeq extracts the seq from an entry key.
func entrySeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
