// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package publisherinfo assigns small integer ids to opaque publisher
// identity blobs.
//
// Ids are dense and sequential, starting at 0, in first-registration
// order. Registration is deduplicated by content: two byte-identical
// blobs always map to the same id regardless of which slice carried
// them. The registry only grows; there is no deletion, and nothing is
// persisted across restarts.
//
// Blobs are indexed by a BLAKE3 keyed hash so lookups stay O(1) in the
// number of registered publishers. The hash only narrows the search:
// equality is always confirmed byte-for-byte before an existing id is
// returned.
package publisherinfo

import (
	"bytes"
	"sync"

	"github.com/zeebo/blake3"
)

// digest is a 32-byte BLAKE3 keyed hash of an identity blob.
type digest [32]byte

// infoDomainKey is the BLAKE3 key for identity blob hashing: the ASCII
// domain name zero-padded to 32 bytes.
var infoDomainKey = [32]byte{
	'v', 'm', 's', '.', 'p', 'u', 'b', 'l', 'i', 's', 'h', 'e', 'r', '.',
	'i', 'n', 'f', 'o', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Registry maps identity blobs to publisher ids. Safe for concurrent
// use; the zero value is not usable, call [New].
type Registry struct {
	mu    sync.Mutex
	infos [][]byte
	// index maps a blob digest to every id whose blob has that digest.
	// More than one entry only happens on a hash collision.
	index map[digest][]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{index: make(map[digest][]int)}
}

// GetIDForInfo returns the id for info, registering it if no blob with
// equal content has been seen. The registry keeps its own copy of info.
func (r *Registry) GetIDForInfo(info []byte) int {
	key := hashInfo(info)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.index[key] {
		if bytes.Equal(r.infos[id], info) {
			return id
		}
	}

	id := len(r.infos)
	r.infos = append(r.infos, bytes.Clone(nonNil(info)))
	r.index[key] = append(r.index[key], id)
	return id
}

// GetPublisherInfo returns a copy of the blob registered under id. An
// unknown id yields an empty, non-nil slice.
func (r *Registry) GetPublisherInfo(id int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.infos) {
		return []byte{}
	}
	return bytes.Clone(r.infos[id])
}

// Len returns the number of distinct blobs registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.infos)
}

func hashInfo(info []byte) digest {
	hasher, err := blake3.NewKeyed(infoDomainKey[:])
	if err != nil {
		panic("publisherinfo: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(info)
	var result digest
	copy(result[:], hasher.Sum(nil))
	return result
}

// nonNil makes an empty registration distinguishable from "not found"
// in GetPublisherInfo's copy: bytes.Clone(nil) is nil.
func nonNil(info []byte) []byte {
	if info == nil {
		return []byte{}
	}
	return info
}
