package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Token wire format: base64url-encoded JSON claims. Integrity is the
// issuing gateway's job; this layer validates shape, lifetime, revocation,
// and stream bindings.

// MintClaims builds claims with a fresh token id and a lifetime of ttl.
// An empty streams list yields an unbounded-compatibility grant.
func MintClaims(subject string, scopes, streams []string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Subject:   subject,
		Scopes:    scopes,
		Streams:   streams,
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		TokenID:   uuid.NewString(),
	}
}

// EncodeToken serializes claims into a bearer token.
func EncodeToken(claims Claims) (string, error) {
	b, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ParseToken decodes a bearer token into claims without verifying them.
func ParseToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims Claims
	if err := json.Unmarshal(b, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

// VerifyToken parses and verifies a bearer token in one step.
func (v *Verifier) VerifyToken(token string) (Grant, error) {
	claims, err := ParseToken(token)
	if err != nil {
		return Grant{}, err
	}
	return v.Verify(claims)
}

// BearerFromHeader strips the Bearer prefix from an Authorization header.
func BearerFromHeader(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):]), true
	}
	return "", false
}
