// Package outbox implements the durable publish-side retry queue.
//
// When forwarding an appended event to the downstream transport fails,
// the event is queued here and retried with backoff. Failure classes are
// never conflated: validation failures are non-retryable and surface
// immediately, auth failures wait for a credential refresh signal, and
// network/rate-limited/unknown failures retry with bounded backoff.
// Queue depth and per-class counts are observable through the metrics
// registry so operators can tell "slow" from "stuck".
package outbox
