// Package auth verifies token claims from the auth collaborator and
// derives subscribe grants from them. Failure subtypes are kept distinct
// (unauthorized/forbidden/invalid/expired/not-yet-valid/revoked) so
// "bad token" and "token valid, wrong scope" stay separable downstream.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pretyflaco/syncd/internal/metrics"
	"github.com/pretyflaco/syncd/internal/streamid"
)

var (
	// ErrUnauthorized means no usable token was presented.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrForbidden means the token is valid but does not grant the stream.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrInvalidToken means the claims are structurally unusable.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpired means the token expired outside the skew leeway.
	ErrExpired = errors.New("auth: token expired")
	// ErrNotYetValid means the token's not-before lies in the future.
	ErrNotYetValid = errors.New("auth: token not yet valid")
	// ErrRevoked means the token id is denylisted.
	ErrRevoked = errors.New("auth: token revoked")
)

// FailureSubtype maps a verification error to its metrics subtype.
func FailureSubtype(err error) (metrics.AuthFailure, bool) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return metrics.AuthUnauthorized, true
	case errors.Is(err, ErrForbidden):
		return metrics.AuthForbidden, true
	case errors.Is(err, ErrInvalidToken):
		return metrics.AuthInvalid, true
	case errors.Is(err, ErrExpired):
		return metrics.AuthExpired, true
	case errors.Is(err, ErrNotYetValid):
		return metrics.AuthNotYetValid, true
	case errors.Is(err, ErrRevoked):
		return metrics.AuthRevoked, true
	}
	return "", false
}

// Claims are the token claims consumed from the auth collaborator.
// Topics is the legacy alias for Streams, accepted for backward
// compatibility and mapped through streamid before use.
type Claims struct {
	Subject   string   `json:"sub"`
	Scopes    []string `json:"scopes"`
	Streams   []string `json:"streams,omitempty"`
	Topics    []string `json:"topics,omitempty"`
	IssuedAt  int64    `json:"iat"`
	NotBefore int64    `json:"nbf"`
	ExpiresAt int64    `json:"exp"`
	TokenID   string   `json:"jti"`
}

// Grant is the authorization derived from verified claims. An empty
// stream list puts the grant in unbounded-compatibility mode, a
// transitional shim that authorizes everything and must be logged on
// every use.
type Grant struct {
	Subject         string
	Scopes          map[string]struct{}
	Streams         map[string]struct{}
	UnboundedCompat bool
}

// Allows reports whether the grant authorizes the stream.
func (g Grant) Allows(streamID string) bool {
	if g.UnboundedCompat {
		return true
	}
	_, ok := g.Streams[streamID]
	return ok
}

// Denylist tracks revoked token ids.
type Denylist struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewDenylist returns an empty denylist.
func NewDenylist() *Denylist { return &Denylist{ids: map[string]struct{}{}} }

// Revoke adds a token id.
func (d *Denylist) Revoke(tokenID string) {
	d.mu.Lock()
	d.ids[tokenID] = struct{}{}
	d.mu.Unlock()
}

// Contains reports whether tokenID is revoked.
func (d *Denylist) Contains(tokenID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[tokenID]
	return ok
}

// Verifier validates claims with a configured clock-skew leeway.
type Verifier struct {
	Skew     time.Duration
	Denylist *Denylist
	Now      func() time.Time
	// DenyUnbounded rejects tokens that name no streams instead of
	// granting unbounded-compatibility. Set when the migration shim
	// is retired.
	DenyUnbounded bool
}

// NewVerifier builds a Verifier with the given leeway and denylist.
func NewVerifier(skew time.Duration, denylist *Denylist) *Verifier {
	if denylist == nil {
		denylist = NewDenylist()
	}
	return &Verifier{Skew: skew, Denylist: denylist, Now: time.Now}
}

// Verify validates the claims and derives a Grant. Legacy topic grants
// are translated to canonical stream ids here, at the boundary.
func (v *Verifier) Verify(claims *Claims) (Grant, error) {
	if claims == nil {
		return Grant{}, ErrUnauthorized
	}
	if claims.Subject == "" || claims.TokenID == "" {
		return Grant{}, ErrInvalidToken
	}
	now := v.Now()
	if claims.ExpiresAt > 0 && now.After(time.Unix(claims.ExpiresAt, 0).Add(v.Skew)) {
		return Grant{}, ErrExpired
	}
	if claims.NotBefore > 0 && now.Before(time.Unix(claims.NotBefore, 0).Add(-v.Skew)) {
		return Grant{}, ErrNotYetValid
	}
	if v.Denylist.Contains(claims.TokenID) {
		return Grant{}, ErrRevoked
	}

	g := Grant{
		Subject: claims.Subject,
		Scopes:  map[string]struct{}{},
		Streams: map[string]struct{}{},
	}
	for _, s := range claims.Scopes {
		g.Scopes[s] = struct{}{}
	}
	for _, s := range claims.Streams {
		g.Streams[s] = struct{}{}
	}
	for _, topic := range claims.Topics {
		g.Streams[streamid.MapTopic(topic)] = struct{}{}
	}
	if len(g.Streams) == 0 {
		if v.DenyUnbounded {
			return Grant{}, fmt.Errorf("%w: token names no streams", ErrForbidden)
		}
		g.UnboundedCompat = true
	}
	return g, nil
}
