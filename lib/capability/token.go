// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/vms-broker/vms/lib/codec"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize

// Actions checked by the broker.
const (
	// ActionPublish allows publishing payloads.
	ActionPublish = "vms/publish"

	// ActionOffer allows declaring the layers a publisher offers.
	ActionOffer = "vms/offer"

	// ActionSubscribe allows opening a subscriber stream.
	ActionSubscribe = "vms/subscribe"
)

// Grant is a set of action patterns (glob syntax).
type Grant struct {
	Actions []string `cbor:"1,keyasint"`
}

// Token is the signed payload of a capability token.
type Token struct {
	// Subject is the connecting client's name.
	Subject string `cbor:"1,keyasint"`

	// Audience is the broker instance the token is scoped to.
	Audience string `cbor:"2,keyasint"`

	Grants []Grant `cbor:"3,keyasint,omitempty"`

	// ID is unique per minted token and is what revocation tracks.
	ID string `cbor:"4,keyasint"`

	// IssuedAt is a Unix timestamp in seconds.
	IssuedAt int64 `cbor:"5,keyasint"`

	// ExpiresAt is a Unix timestamp in seconds. Zero means the token
	// lives until revoked, which is the normal case for tokens bound
	// to a connection.
	ExpiresAt int64 `cbor:"6,keyasint,omitempty"`
}

// Errors returned by Verify and related functions.
var (
	ErrTokenTooShort    = errors.New("capability: token too short for signature")
	ErrInvalidSignature = errors.New("capability: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("capability: token has expired")
	ErrAudienceMismatch = errors.New("capability: audience does not match")
	ErrTokenRevoked     = errors.New("capability: token has been revoked")
)

// Mint signs token and returns its wire bytes.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("capability: encoding token payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)
	return result, nil
}

// VerifyAt checks the signature and expiry of tokenBytes at now and
// returns the decoded token. Audience and revocation are the caller's
// concern; [Issuer.Verify] does all four.
func VerifyAt(publicKey ed25519.PublicKey, tokenBytes []byte, now time.Time) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - signatureSize
	payload := tokenBytes[:splitPoint]
	signature := tokenBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("capability: decoding token payload: %w", err)
	}

	if token.ExpiresAt != 0 && now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &token, nil
}

// GrantsAllow reports whether any grant matches action.
func GrantsAllow(grants []Grant, action string) bool {
	for _, grant := range grants {
		if MatchAnyPattern(grant.Actions, action) {
			return true
		}
	}
	return false
}
