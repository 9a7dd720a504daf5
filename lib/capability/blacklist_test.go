// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"sync"
	"testing"
	"time"
)

func TestBlacklistRevokeAndCleanup(t *testing.T) {
	blacklist := NewBlacklist()
	blacklist.Revoke("short", testEpoch.Add(time.Minute))
	blacklist.Revoke("long", testEpoch.Add(time.Hour))

	if !blacklist.IsRevoked("short") || !blacklist.IsRevoked("long") {
		t.Fatal("revoked ids should be reported")
	}
	if blacklist.IsRevoked("never") {
		t.Error("unknown id reported revoked")
	}

	if removed := blacklist.Cleanup(testEpoch.Add(30 * time.Second)); removed != 0 {
		t.Errorf("early Cleanup removed %d", removed)
	}
	if removed := blacklist.Cleanup(testEpoch.Add(time.Minute)); removed != 1 {
		t.Errorf("Cleanup at first forget time removed %d, want 1", removed)
	}
	if blacklist.IsRevoked("short") {
		t.Error("short entry should be gone")
	}
	if blacklist.Len() != 1 {
		t.Errorf("Len() = %d, want 1", blacklist.Len())
	}
}

func TestBlacklistConcurrentAccess(t *testing.T) {
	blacklist := NewBlacklist()
	var wg sync.WaitGroup
	for index := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + index))
			blacklist.Revoke(id, testEpoch.Add(time.Hour))
			blacklist.IsRevoked(id)
		}()
	}
	wg.Wait()
	if blacklist.Len() != 16 {
		t.Errorf("Len() = %d, want 16", blacklist.Len())
	}
}
