// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package vms defines the data model shared by every part of the
// broker: layers, associated layers, subscription snapshots, layer
// offerings, and the [Subscriber] handle abstraction.
//
// All wire types carry `cbor` struct tags. They cross the broker's
// Unix socket as CBOR (see lib/codec) and are never serialized as JSON.
//
// A [Layer] is a comparable value and is used directly as a map key.
// Snapshot slices ([SubscriptionState.Layers],
// [SubscriptionState.AssociatedLayers], [AvailableLayers]) are always
// sorted, so two snapshots of the same logical state encode to
// identical bytes.
package vms
