// Package pebblestore provides a thin wrapper around Pebble with fsync
// policy, batches, and minimal metrics hooks. It is the single durable
// store for the authoritative event log, the publish outbox, and
// server-side consumer checkpoints.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
package pebblestore
