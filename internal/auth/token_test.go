package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now().Unix()
	claims := Claims{
		Subject:   "device-1",
		Streams:   []string{"runtime.run.r1.events"},
		IssuedAt:  now,
		ExpiresAt: now + 3600,
		TokenID:   "tok-1",
	}
	tok, err := EncodeToken(claims)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	v := NewVerifier(30*time.Second, NewDenylist())
	g, err := v.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if g.Subject != "device-1" || !g.Allows("runtime.run.r1.events") {
		t.Fatalf("grant = %+v", g)
	}
}

func TestMintClaims(t *testing.T) {
	claims := MintClaims("svc-relay", []string{"publish"}, []string{"runtime.run.r1.events"}, time.Hour)
	if claims.TokenID == "" {
		t.Fatal("minted claims missing token id")
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		t.Fatalf("exp %d not after iat %d", claims.ExpiresAt, claims.IssuedAt)
	}
	tok, err := EncodeToken(claims)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	v := NewVerifier(30*time.Second, NewDenylist())
	g, err := v.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if g.UnboundedCompat || !g.Allows("runtime.run.r1.events") || g.Allows("runtime.run.r2.events") {
		t.Fatalf("grant = %+v", g)
	}

	// Revoking the minted id invalidates the token.
	v.Denylist.Revoke(claims.TokenID)
	if _, err := v.VerifyToken(tok); !errors.Is(err, ErrRevoked) {
		t.Fatalf("after revoke err = %v, want ErrRevoked", err)
	}
}

func TestParseTokenGarbage(t *testing.T) {
	for _, tok := range []string{"", "!!!not-base64!!!", "bm90LWpzb24"} {
		if _, err := ParseToken(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseToken(%q) err = %v, want ErrInvalidToken", tok, err)
		}
	}
}

func TestBearerFromHeader(t *testing.T) {
	if tok, ok := BearerFromHeader("Bearer abc123"); !ok || tok != "abc123" {
		t.Fatalf("got %q, %v", tok, ok)
	}
	if tok, ok := BearerFromHeader("bearer abc123"); !ok || tok != "abc123" {
		t.Fatalf("case-insensitive prefix: got %q, %v", tok, ok)
	}
	if _, ok := BearerFromHeader("Basic abc123"); ok {
		t.Fatalf("Basic scheme must not parse")
	}
	if _, ok := BearerFromHeader(""); ok {
		t.Fatalf("empty header must not parse")
	}
}
