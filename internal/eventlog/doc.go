// Package eventlog implements the authoritative per-stream event log.
//
// A stream is an ordered, append-only, single-writer sequence of events
// keyed by a strictly increasing seq. Append enforces the publish
// contract: seq must be exactly head+1, a re-publish of an existing seq
// with an identical payload is a duplicate no-op, and anything else is a
// sequence conflict. Retention trims move the window floor and are what
// eventually make resume cursors go stale.
//
// The log also persists server-side consumer checkpoints (ack positions)
// so non-owning consumers can record durable progress.
package eventlog
