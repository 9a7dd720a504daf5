// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability implements the unforgeable per-connection tokens
// that publisher clients present on every call.
//
// When a publisher connects, the broker mints a token naming the
// client and carrying the grants its policy allows. The client sends
// the raw token bytes back with each publish, offering, or query. A
// token is only honored while its connection is live: disconnecting
// revokes it.
//
// # Wire format
//
// A token is raw bytes: the CBOR-encoded [Token] followed by a 64-byte
// Ed25519 signature over those bytes.
//
//	[CBOR payload bytes] [64-byte Ed25519 signature]
//
// The split point is always len(token) - 64.
//
// # Grants
//
// Grants list action patterns using hierarchical glob syntax (see
// [MatchPattern]). A [Policy] maps client-name patterns to the actions
// they may perform; the [Issuer] embeds the matching grants at mint
// time so checks need no policy lookup.
//
// # Signing keys
//
// The Ed25519 signing key lives in the broker's state directory. It
// may be sealed at rest with an age X25519 identity, in which case the
// private key file holds age ciphertext instead of raw key bytes.
package capability
