// Package checkpoint persists per-stream apply watermarks on the client.
// A checkpoint freshly read from disk is the resume cursor after a restart,
// so writes are atomic: a torn file must never yield a bogus watermark.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormatVersion is written into every checkpoint file. Files claiming a
// newer version than we understand are treated as absent rather than
// misread.
const FormatVersion = 1

// Checkpoint records the highest contiguously applied sequence for one
// stream.
type Checkpoint struct {
	Version   int       `json:"version"`
	StreamID  string    `json:"stream_id"`
	Watermark uint64    `json:"watermark"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps one checkpoint file per stream under a directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Load returns the stored checkpoint for a stream. A missing, corrupt, or
// newer-versioned file reports ok=false; the caller starts from zero.
func (s *Store) Load(streamID string) (Checkpoint, bool, error) {
	b, err := os.ReadFile(s.path(streamID))
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		// Corrupt file: resume from scratch instead of failing startup.
		return Checkpoint{}, false, nil
	}
	if cp.Version > FormatVersion || cp.StreamID != streamID {
		return Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// Put persists a new watermark via write-to-temp-then-rename.
func (s *Store) Put(streamID string, watermark uint64) error {
	cp := Checkpoint{
		Version:   FormatVersion,
		StreamID:  streamID,
		Watermark: watermark,
		UpdatedAt: s.now().UTC(),
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	path := s.path(streamID)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Rewind lowers the watermark, used when the server's head is behind the
// local checkpoint after a backend restore. Raising via Rewind is refused.
func (s *Store) Rewind(streamID string, watermark uint64) error {
	cur, ok, err := s.Load(streamID)
	if err != nil {
		return err
	}
	if ok && watermark > cur.Watermark {
		return fmt.Errorf("checkpoint: rewind to %d above current %d", watermark, cur.Watermark)
	}
	return s.Put(streamID, watermark)
}

// Reset removes the checkpoint for a stream, as part of a rebootstrap.
func (s *Store) Reset(streamID string) error {
	err := os.Remove(s.path(streamID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// path maps a stream id to a filename; dots are safe, path separators and
// other hostile characters are not.
func (s *Store) path(streamID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, streamID)
	return filepath.Join(s.dir, name+".checkpoint.json")
}
