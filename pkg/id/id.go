// Package id generates 128-bit, lexicographically sortable identifiers
// used for outbox entries and subscription handles. Encoding is 16 bytes
// big-endian: [8 bytes unix ms][8 bytes per-process sequence], so ids sort
// by creation time when used as storage keys.
package id

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// ID is a sortable 16-byte identifier.
type ID [16]byte

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// String returns the id as lowercase hex.
func (i ID) String() string {
	const digits = "0123456789abcdef"
	out := make([]byte, 32)
	for j, v := range i {
		out[j*2] = digits[v>>4]
		out[j*2+1] = digits[v&0x0f]
	}
	return string(out)
}

// UnixMs returns the embedded creation time in milliseconds.
func (i ID) UnixMs() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// FromBytes reconstructs an ID from a 16-byte slice.
func FromBytes(b []byte) (ID, bool) {
	var out ID
	if len(b) != 16 {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds; swappable for tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. A backwards clock step reuses the last observed
// millisecond and bumps the sequence instead of going non-monotonic.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		if g.seq == math.MaxUint64 {
			for {
				ms = NowMs()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.seq = 0
		} else {
			g.seq++
		}
	} else {
		g.seq = 0
	}
	g.lastMs = ms

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(ms))
	binary.BigEndian.PutUint64(out[8:16], g.seq)
	return out
}
