package metrics

import "sync/atomic"

// FailureClass buckets publish/delivery failures for retry-policy routing
// and operator diagnosis.
type FailureClass string

const (
	FailureAuth        FailureClass = "auth"
	FailureRateLimited FailureClass = "rate_limited"
	FailureNetwork     FailureClass = "network"
	FailureValidation  FailureClass = "validation"
	FailureUnknown     FailureClass = "unknown"
)

// AuthFailure subtypes, surfaced distinctly so "bad token" and
// "token valid, wrong scope" alert separately.
type AuthFailure string

const (
	AuthUnauthorized AuthFailure = "unauthorized"
	AuthForbidden    AuthFailure = "forbidden"
	AuthInvalid      AuthFailure = "invalid"
	AuthExpired      AuthFailure = "expired"
	AuthNotYetValid  AuthFailure = "not_yet_valid"
	AuthRevoked      AuthFailure = "revoked"
)

// Registry holds the core's counters. All methods are safe for concurrent
// use; Snapshot returns a point-in-time copy for alerting.
type Registry struct {
	published     atomic.Uint64
	duplicates    atomic.Uint64
	failed        atomic.Uint64
	outboxDepth   atomic.Int64
	dropped       atomic.Uint64
	staleCursors  atomic.Uint64
	maxReplayLag  atomic.Uint64
	failuresAuth  atomic.Uint64
	failuresRate  atomic.Uint64
	failuresNet   atomic.Uint64
	failuresVal   atomic.Uint64
	failuresOther atomic.Uint64

	authUnauthorized atomic.Uint64
	authForbidden    atomic.Uint64
	authInvalid      atomic.Uint64
	authExpired      atomic.Uint64
	authNotYetValid  atomic.Uint64
	authRevoked      atomic.Uint64
}

// New returns an empty Registry.
func New() *Registry { return &Registry{} }

// IncPublished counts a successfully published event.
func (r *Registry) IncPublished() { r.published.Add(1) }

// IncDuplicate counts a duplicate-suppressed publish.
func (r *Registry) IncDuplicate() { r.duplicates.Add(1) }

// IncFailed counts a failed publish.
func (r *Registry) IncFailed() { r.failed.Add(1) }

// IncDropped counts a dropped message.
func (r *Registry) IncDropped() { r.dropped.Add(1) }

// IncStaleCursor counts a stale-cursor detection.
func (r *Registry) IncStaleCursor() { r.staleCursors.Add(1) }

// SetOutboxDepth records the current outbox depth.
func (r *Registry) SetOutboxDepth(n int64) { r.outboxDepth.Store(n) }

// AddOutboxDepth adjusts the current outbox depth by delta.
func (r *Registry) AddOutboxDepth(delta int64) { r.outboxDepth.Add(delta) }

// ObserveReplayLag records a replay lag sample, keeping the maximum observed.
func (r *Registry) ObserveReplayLag(lag uint64) {
	for {
		cur := r.maxReplayLag.Load()
		if lag <= cur || r.maxReplayLag.CompareAndSwap(cur, lag) {
			return
		}
	}
}

// IncFailure counts a failure in the given class.
func (r *Registry) IncFailure(class FailureClass) {
	switch class {
	case FailureAuth:
		r.failuresAuth.Add(1)
	case FailureRateLimited:
		r.failuresRate.Add(1)
	case FailureNetwork:
		r.failuresNet.Add(1)
	case FailureValidation:
		r.failuresVal.Add(1)
	default:
		r.failuresOther.Add(1)
	}
}

// IncAuthFailure counts an auth failure subtype.
func (r *Registry) IncAuthFailure(sub AuthFailure) {
	switch sub {
	case AuthUnauthorized:
		r.authUnauthorized.Add(1)
	case AuthForbidden:
		r.authForbidden.Add(1)
	case AuthInvalid:
		r.authInvalid.Add(1)
	case AuthExpired:
		r.authExpired.Add(1)
	case AuthNotYetValid:
		r.authNotYetValid.Add(1)
	case AuthRevoked:
		r.authRevoked.Add(1)
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Published           uint64            `json:"published"`
	DuplicateSuppressed uint64            `json:"duplicate_suppressed"`
	Failed              uint64            `json:"failed"`
	OutboxDepth         int64             `json:"outbox_depth"`
	Dropped             uint64            `json:"dropped"`
	StaleCursorEvents   uint64            `json:"stale_cursor_events"`
	MaxReplayLag        uint64            `json:"max_replay_lag"`
	Failures            map[string]uint64 `json:"failures"`
	AuthFailures        map[string]uint64 `json:"auth_failures"`
}

// Snapshot returns the current counter values.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Published:           r.published.Load(),
		DuplicateSuppressed: r.duplicates.Load(),
		Failed:              r.failed.Load(),
		OutboxDepth:         r.outboxDepth.Load(),
		Dropped:             r.dropped.Load(),
		StaleCursorEvents:   r.staleCursors.Load(),
		MaxReplayLag:        r.maxReplayLag.Load(),
		Failures: map[string]uint64{
			string(FailureAuth):        r.failuresAuth.Load(),
			string(FailureRateLimited): r.failuresRate.Load(),
			string(FailureNetwork):     r.failuresNet.Load(),
			string(FailureValidation):  r.failuresVal.Load(),
			string(FailureUnknown):     r.failuresOther.Load(),
		},
		AuthFailures: map[string]uint64{
			string(AuthUnauthorized): r.authUnauthorized.Load(),
			string(AuthForbidden):    r.authForbidden.Load(),
			string(AuthInvalid):      r.authInvalid.Load(),
			string(AuthExpired):      r.authExpired.Load(),
			string(AuthNotYetValid):  r.authNotYetValid.Load(),
			string(AuthRevoked):      r.authRevoked.Load(),
		},
	}
}
