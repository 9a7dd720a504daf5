// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"testing"
	"time"

	"github.com/vms-broker/vms/lib/clock"
)

func testIssuer(t *testing.T, config IssuerConfig) (*Issuer, *clock.FakeClock) {
	t.Helper()
	if config.PrivateKey == nil {
		_, private, err := GenerateKeypair()
		if err != nil {
			t.Fatalf("GenerateKeypair: %v", err)
		}
		config.PrivateKey = private
	}
	if config.Audience == "" {
		config.Audience = "vms-broker"
	}
	fakeClock := clock.Fake(testEpoch)
	config.Clock = fakeClock
	issuer, err := NewIssuer(config)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer, fakeClock
}

func TestNewIssuerValidation(t *testing.T) {
	_, private, _ := GenerateKeypair()
	if _, err := NewIssuer(IssuerConfig{Audience: "x"}); err == nil {
		t.Error("missing key should fail")
	}
	if _, err := NewIssuer(IssuerConfig{PrivateKey: private}); err == nil {
		t.Error("missing audience should fail")
	}
	if _, err := NewIssuer(IssuerConfig{PrivateKey: private, Audience: "x", TTL: -time.Second}); err == nil {
		t.Error("negative TTL should fail")
	}
}

func TestIssueEmbedsPolicyGrants(t *testing.T) {
	issuer, _ := testIssuer(t, IssuerConfig{Policy: Policy{Rules: []Rule{
		{Clients: []string{"maps/**"}, Actions: []string{ActionPublish, ActionOffer}},
		{Clients: []string{"**"}, Actions: []string{ActionSubscribe}},
	}}})

	_, mapsToken, err := issuer.Issue("maps/router")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for _, action := range []string{ActionPublish, ActionOffer, ActionSubscribe} {
		if !issuer.Allows(mapsToken, action) {
			t.Errorf("maps/router should be allowed %s", action)
		}
	}

	_, sensorToken, err := issuer.Issue("sensors/radar")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issuer.Allows(sensorToken, ActionPublish) {
		t.Error("sensors/radar should not be allowed to publish")
	}
	if !issuer.Allows(sensorToken, ActionSubscribe) {
		t.Error("sensors/radar should be allowed to subscribe")
	}
}

func TestIssueMintsUniqueTokens(t *testing.T) {
	issuer, _ := testIssuer(t, IssuerConfig{Policy: DefaultPolicy()})
	first, firstToken, _ := issuer.Issue("client")
	second, secondToken, _ := issuer.Issue("client")
	if string(first) == string(second) || firstToken.ID == secondToken.ID {
		t.Error("two issues for the same client must produce distinct tokens")
	}
	if firstToken.ExpiresAt != 0 {
		t.Errorf("zero TTL should issue non-expiring tokens, got ExpiresAt=%d", firstToken.ExpiresAt)
	}
}

func TestIssuerVerify(t *testing.T) {
	issuer, _ := testIssuer(t, IssuerConfig{Policy: DefaultPolicy()})
	tokenBytes, issued, err := issuer.Issue("client")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verified, err := issuer.Verify(tokenBytes)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.ID != issued.ID || verified.Subject != "client" {
		t.Errorf("verified = %+v, issued = %+v", verified, issued)
	}

	issuer.Revoke(verified)
	if _, err := issuer.Verify(tokenBytes); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("after revoke: err = %v, want ErrTokenRevoked", err)
	}
}

func TestIssuerVerifyAudience(t *testing.T) {
	_, private, _ := GenerateKeypair()
	brokerA, _ := testIssuer(t, IssuerConfig{PrivateKey: private, Audience: "broker-a"})
	brokerB, _ := testIssuer(t, IssuerConfig{PrivateKey: private, Audience: "broker-b"})

	tokenBytes, _, err := brokerA.Issue("client")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := brokerB.Verify(tokenBytes); !errors.Is(err, ErrAudienceMismatch) {
		t.Errorf("err = %v, want ErrAudienceMismatch", err)
	}
}

func TestIssuerTTL(t *testing.T) {
	issuer, fakeClock := testIssuer(t, IssuerConfig{TTL: 10 * time.Minute})
	tokenBytes, token, err := issuer.Issue("client")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token.ExpiresAt != testEpoch.Add(10*time.Minute).Unix() {
		t.Errorf("ExpiresAt = %d", token.ExpiresAt)
	}

	fakeClock.Advance(10 * time.Minute)
	if _, err := issuer.Verify(tokenBytes); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestIssueConnectionIgnoresTTL(t *testing.T) {
	issuer, fakeClock := testIssuer(t, IssuerConfig{TTL: 10 * time.Minute})
	tokenBytes, token, err := issuer.IssueConnection("client")
	if err != nil {
		t.Fatalf("IssueConnection: %v", err)
	}
	if token.ExpiresAt != 0 {
		t.Errorf("connection token ExpiresAt = %d, want 0", token.ExpiresAt)
	}

	fakeClock.Advance(24 * time.Hour)
	if _, err := issuer.Verify(tokenBytes); err != nil {
		t.Errorf("Verify after a day: %v", err)
	}
	issuer.Revoke(token)
	if _, err := issuer.Verify(tokenBytes); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("after revoke: err = %v, want ErrTokenRevoked", err)
	}
}

func TestIssuerCleanup(t *testing.T) {
	issuer, fakeClock := testIssuer(t, IssuerConfig{RevocationRetention: time.Minute})
	_, token, _ := issuer.Issue("client")
	issuer.Revoke(token)

	if removed := issuer.Cleanup(); removed != 0 {
		t.Errorf("Cleanup before retention removed %d", removed)
	}
	fakeClock.Advance(time.Minute)
	if removed := issuer.Cleanup(); removed != 1 {
		t.Errorf("Cleanup after retention removed %d, want 1", removed)
	}
}
