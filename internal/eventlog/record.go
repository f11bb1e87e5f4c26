package eventlog

import (
	"encoding/binary"
	"hash/crc32"
)

// Record encoding: 8-byte BE write timestamp (ms) | varint kindLen | kind |
// payload | crc32c(ts|kind|payload). The checksum both guards against
// torn/corrupt values and serves as the payload identity for duplicate
// detection on re-publish.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord encodes a record value.
func EncodeRecord(tsMs int64, kind string, payload []byte) []byte {
	out := make([]byte, 0, 8+10+len(kind)+len(payload)+4)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(tsMs))
	out = append(out, ts[:]...)

	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(kind)))
	out = append(out, tmp[:n]...)
	out = append(out, kind...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, out)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

// Decoded is a decoded record value.
type Decoded struct {
	TsMs    int64
	Kind    string
	Payload []byte
}

// DecodeRecord decodes b, returning false on any corruption.
func DecodeRecord(b []byte) (Decoded, bool) {
	if len(b) < 8+1+4 {
		return Decoded{}, false
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Update(0, castagnoli, body) != expect {
		return Decoded{}, false
	}
	tsMs := int64(binary.BigEndian.Uint64(body[:8]))
	klen, n := binary.Uvarint(body[8:])
	if n <= 0 || 8+n+int(klen) > len(body) {
		return Decoded{}, false
	}
	kind := string(body[8+n : 8+n+int(klen)])
	payload := append([]byte(nil), body[8+n+int(klen):]...)
	return Decoded{TsMs: tsMs, Kind: kind, Payload: payload}, true
}

// PayloadChecksum computes the identity checksum used for duplicate
// detection: crc32c over kind and payload, excluding the timestamp so a
// retried publish with a fresh clock still matches.
func PayloadChecksum(kind string, payload []byte) uint32 {
	crc := crc32.Update(0, castagnoli, []byte(kind))
	return crc32.Update(crc, castagnoli, payload)
}
