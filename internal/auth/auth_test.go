package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/pretyflaco/syncd/internal/metrics"
)

func validClaims() *Claims {
	now := time.Now().Unix()
	return &Claims{
		Subject:   "user-1",
		Scopes:    []string{"sync:read"},
		Streams:   []string{"runtime.run.r1.events"},
		IssuedAt:  now - 60,
		NotBefore: now - 60,
		ExpiresAt: now + 3600,
		TokenID:   "tok-1",
	}
}

func newVerifierAt(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v := NewVerifier(30*time.Second, NewDenylist())
	v.Now = func() time.Time { return now }
	return v
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier(30*time.Second, nil)
	g, err := v.Verify(validClaims())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !g.Allows("runtime.run.r1.events") {
		t.Fatalf("granted stream not allowed")
	}
	if g.Allows("runtime.run.other.events") {
		t.Fatalf("ungranted stream allowed")
	}
	if g.UnboundedCompat {
		t.Fatalf("bounded grant flagged unbounded")
	}
}

func TestVerifyFailureSubtypes(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*Verifier, *Claims)
		want   error
		sub    metrics.AuthFailure
	}{
		{"missing subject", func(_ *Verifier, c *Claims) { c.Subject = "" }, ErrInvalidToken, metrics.AuthInvalid},
		{"missing jti", func(_ *Verifier, c *Claims) { c.TokenID = "" }, ErrInvalidToken, metrics.AuthInvalid},
		{"expired", func(_ *Verifier, c *Claims) { c.ExpiresAt = now.Add(-time.Hour).Unix() }, ErrExpired, metrics.AuthExpired},
		{"not yet valid", func(_ *Verifier, c *Claims) { c.NotBefore = now.Add(time.Hour).Unix() }, ErrNotYetValid, metrics.AuthNotYetValid},
		{"revoked", func(v *Verifier, c *Claims) { v.Denylist.Revoke(c.TokenID) }, ErrRevoked, metrics.AuthRevoked},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := newVerifierAt(t, now)
			claims := validClaims()
			c.mutate(v, claims)
			_, err := v.Verify(claims)
			if !errors.Is(err, c.want) {
				t.Fatalf("want %v, got %v", c.want, err)
			}
			sub, ok := FailureSubtype(err)
			if !ok || sub != c.sub {
				t.Fatalf("subtype = %s ok=%v, want %s", sub, ok, c.sub)
			}
		})
	}
}

func TestVerifySkewLeeway(t *testing.T) {
	now := time.Now()
	v := newVerifierAt(t, now)
	claims := validClaims()

	// expired 10s ago but inside the 30s leeway
	claims.ExpiresAt = now.Add(-10 * time.Second).Unix()
	if _, err := v.Verify(claims); err != nil {
		t.Fatalf("inside leeway should pass: %v", err)
	}

	// nbf 10s in the future, also inside leeway
	claims = validClaims()
	claims.NotBefore = now.Add(10 * time.Second).Unix()
	if _, err := v.Verify(claims); err != nil {
		t.Fatalf("nbf inside leeway should pass: %v", err)
	}
}

func TestVerifyNilClaimsUnauthorized(t *testing.T) {
	v := NewVerifier(0, nil)
	_, err := v.Verify(nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want unauthorized, got %v", err)
	}
}

func TestLegacyTopicsAliasMapped(t *testing.T) {
	v := NewVerifier(0, nil)
	claims := validClaims()
	claims.Streams = nil
	claims.Topics = []string{"run:r9:events"}
	g, err := v.Verify(claims)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !g.Allows("runtime.run.r9.events") {
		t.Fatalf("legacy topic grant not mapped to canonical id")
	}
	if g.UnboundedCompat {
		t.Fatalf("grant with topics should be bounded")
	}
}

func TestEmptyGrantIsUnboundedCompat(t *testing.T) {
	v := NewVerifier(0, nil)
	claims := validClaims()
	claims.Streams = nil
	g, err := v.Verify(claims)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !g.UnboundedCompat {
		t.Fatalf("empty stream grant should be unbounded-compat")
	}
	if !g.Allows("anything.at.all") {
		t.Fatalf("unbounded-compat should allow any stream")
	}
}

func TestDenyUnboundedRejectsStreamlessToken(t *testing.T) {
	v := NewVerifier(0, nil)
	v.DenyUnbounded = true
	claims := validClaims()
	claims.Streams = nil
	claims.Topics = nil
	if _, err := v.Verify(claims); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	// Bound tokens still verify.
	claims = validClaims()
	if _, err := v.Verify(claims); err != nil {
		t.Fatalf("bound token: %v", err)
	}
}
