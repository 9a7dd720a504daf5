// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package vms

// SubscriptionState is a versioned snapshot of every non-global
// subscription. SequenceNumber advances on each effective layer or
// publisher-scoped mutation. Global subscribers never appear here.
type SubscriptionState struct {
	SequenceNumber   int               `cbor:"sequence_number"`
	Layers           []Layer           `cbor:"layers"`
	AssociatedLayers []AssociatedLayer `cbor:"associated_layers"`
}

// LayerDependency declares a layer a publisher can produce and the
// layers it needs in order to produce it.
type LayerDependency struct {
	Layer        Layer   `cbor:"layer"`
	Dependencies []Layer `cbor:"dependencies,omitempty"`
}

// LayersOffering is the set of layers one publisher id offers.
type LayersOffering struct {
	PublisherID int               `cbor:"publisher_id"`
	Layers      []LayerDependency `cbor:"layers"`
}

// AvailableLayers is a versioned snapshot of which layers can
// currently be produced, and by which publishers.
type AvailableLayers struct {
	SequenceNumber   int               `cbor:"sequence_number"`
	AssociatedLayers []AssociatedLayer `cbor:"associated_layers"`
}

// Subscriber is a handle for a remote subscriber endpoint.
//
// Several handle values may wrap the same endpoint (a stream that is
// re-wrapped, a proxy rebuilt after decoding). Every registry
// operation compares handles by IdentityKey, never by the Go value.
type Subscriber interface {
	// IdentityKey returns the stable identity of the underlying
	// endpoint. Handles for the same endpoint return equal keys.
	IdentityKey() string

	// OnMessageReceived delivers one publication. A non-nil error
	// is a delivery failure for this subscriber only.
	OnMessageReceived(layer Layer, payload []byte) error
}

// SubscriberFunc adapts a function to the Subscriber interface under
// a fixed identity key. Useful for in-process subscribers.
type SubscriberFunc struct {
	Key     string
	Deliver func(layer Layer, payload []byte) error
}

// IdentityKey returns s.Key.
func (s SubscriberFunc) IdentityKey() string { return s.Key }

// OnMessageReceived calls s.Deliver. A nil Deliver accepts everything.
func (s SubscriberFunc) OnMessageReceived(layer Layer, payload []byte) error {
	if s.Deliver == nil {
		return nil
	}
	return s.Deliver(layer, payload)
}
