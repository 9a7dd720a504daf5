// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vms-broker/vms/lib/clock"
)

// DefaultRevocationRetention is how long the ID of a revoked token
// without its own expiry stays blacklisted.
const DefaultRevocationRetention = time.Hour

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	PrivateKey ed25519.PrivateKey

	// Audience is stamped into every token and required on verify.
	Audience string

	// TTL bounds token lifetime. Zero issues tokens that live until
	// revoked.
	TTL time.Duration

	Policy Policy

	// RevocationRetention overrides DefaultRevocationRetention.
	RevocationRetention time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Issuer mints, verifies, and revokes tokens for one broker.
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	audience   string
	ttl        time.Duration
	policy     Policy
	retention  time.Duration
	blacklist  *Blacklist
	clock      clock.Clock
}

// NewIssuer validates config and returns an Issuer.
func NewIssuer(config IssuerConfig) (*Issuer, error) {
	if len(config.PrivateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("capability: issuer requires an Ed25519 private key")
	}
	if config.Audience == "" {
		return nil, errors.New("capability: issuer requires an audience")
	}
	if config.TTL < 0 {
		return nil, fmt.Errorf("capability: negative token TTL %v", config.TTL)
	}
	retention := config.RevocationRetention
	if retention <= 0 {
		retention = DefaultRevocationRetention
	}
	issuerClock := config.Clock
	if issuerClock == nil {
		issuerClock = clock.Real()
	}
	return &Issuer{
		privateKey: config.PrivateKey,
		publicKey:  config.PrivateKey.Public().(ed25519.PublicKey),
		audience:   config.Audience,
		ttl:        config.TTL,
		policy:     config.Policy,
		retention:  retention,
		blacklist:  NewBlacklist(),
		clock:      issuerClock,
	}, nil
}

// Issue mints a fresh token for clientName with the grants the policy
// allows it. The token expires after the configured TTL.
func (i *Issuer) Issue(clientName string) ([]byte, *Token, error) {
	return i.issue(clientName, i.ttl)
}

// IssueConnection mints a token bound to one connection. It never
// expires; the connection owner revokes it when the connection ends.
func (i *Issuer) IssueConnection(clientName string) ([]byte, *Token, error) {
	return i.issue(clientName, 0)
}

func (i *Issuer) issue(clientName string, ttl time.Duration) ([]byte, *Token, error) {
	now := i.clock.Now()
	token := &Token{
		Subject:  clientName,
		Audience: i.audience,
		Grants:   i.policy.GrantsFor(clientName),
		ID:       uuid.NewString(),
		IssuedAt: now.Unix(),
	}
	if ttl > 0 {
		token.ExpiresAt = now.Add(ttl).Unix()
	}
	tokenBytes, err := Mint(i.privateKey, token)
	if err != nil {
		return nil, nil, err
	}
	return tokenBytes, token, nil
}

// Verify checks signature, expiry, audience, and revocation.
func (i *Issuer) Verify(tokenBytes []byte) (*Token, error) {
	token, err := VerifyAt(i.publicKey, tokenBytes, i.clock.Now())
	if err != nil {
		return nil, err
	}
	if token.Audience != i.audience {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAudienceMismatch, token.Audience, i.audience)
	}
	if i.blacklist.IsRevoked(token.ID) {
		return nil, ErrTokenRevoked
	}
	return token, nil
}

// Revoke blacklists token. Safe to call more than once.
func (i *Issuer) Revoke(token *Token) {
	forgetAt := i.clock.Now().Add(i.retention)
	if token.ExpiresAt != 0 {
		forgetAt = time.Unix(token.ExpiresAt, 0)
	}
	i.blacklist.Revoke(token.ID, forgetAt)
}

// Allows reports whether token grants action.
func (i *Issuer) Allows(token *Token, action string) bool {
	return GrantsAllow(token.Grants, action)
}

// Cleanup drops blacklist entries that no longer need to be kept.
func (i *Issuer) Cleanup() int {
	return i.blacklist.Cleanup(i.clock.Now())
}

// PublicKey returns the verification key.
func (i *Issuer) PublicKey() ed25519.PublicKey {
	return i.publicKey
}
