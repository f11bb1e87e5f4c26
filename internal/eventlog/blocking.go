package eventlog

import (
	"context"
	"time"
)

// WaitForAppend blocks until the head advances past afterSeq, the timeout
// elapses, or ctx is cancelled. It returns true only when new events are
// readable. The head is re-checked under the same lock that rotates the
// notify channel, so an append racing the wait is never missed.
func (l *Log) WaitForAppend(ctx context.Context, afterSeq uint64, timeout time.Duration) bool {
	l.mu.Lock()
	ch := l.notifyCh
	head := l.headSeq
	l.mu.Unlock()
	if head > afterSeq {
		return true
	}

	if timeout <= 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
