// Package publishsvc accepts producer events, appends them durably to the
// per-stream log, and forwards accepted events downstream. Forward failures
// are parked in the outbox so an accepted event is never lost.
package publishsvc
