// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"sync"
	"time"
)

// Blacklist is a thread-safe set of revoked token IDs. Each entry
// remembers when it may be forgotten: after the token's own expiry, or
// after a retention window for tokens that never expire.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Revoke adds tokenID. The entry is dropped by Cleanup once forgetAt
// has passed.
func (b *Blacklist) Revoke(tokenID string, forgetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[tokenID] = forgetAt
}

// IsRevoked reports whether tokenID has been revoked.
func (b *Blacklist) IsRevoked(tokenID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.entries[tokenID]
	return exists
}

// Cleanup removes entries whose forget time is at or before now and
// returns how many were removed.
func (b *Blacklist) Cleanup(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for tokenID, forgetAt := range b.entries {
		if !now.Before(forgetAt) {
			delete(b.entries, tokenID)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
