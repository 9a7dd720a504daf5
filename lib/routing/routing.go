// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package routing is the broker's subscription index.
//
// Subscribers register at three granularities:
//
//   - global ("passive"): every layer from every publisher
//   - layer: one layer, from any publisher
//   - layer from publisher: one layer, from one publisher id
//
// [Routing.GetSubscribersForLayerFromPublisher] returns the union of
// the three for a (layer, publisher) pair; that union is the fan-out
// target set for a publication.
//
// Every index is keyed by [vms.Subscriber.IdentityKey], so a handle
// re-wrapped around the same endpoint removes the original
// registration. A sequence number counts effective layer and
// publisher-scoped mutations. Global subscriptions never advance it and
// never appear in [Routing.GetSubscriptionState].
package routing

import (
	"slices"
	"strings"
	"sync"

	"github.com/vms-broker/vms/lib/vms"
)

type keySet map[string]struct{}

// Routing holds the subscription index. Safe for concurrent use.
type Routing struct {
	mu sync.RWMutex

	// handles maps an identity key to the first handle registered for
	// it. Entries are dropped once the key is in no set.
	handles map[string]vms.Subscriber

	passive  keySet
	layers   map[vms.Layer]keySet
	targeted map[vms.Layer]map[int]keySet

	sequenceNumber int
}

// New returns an empty index with sequence number 0.
func New() *Routing {
	return &Routing{
		handles:  make(map[string]vms.Subscriber),
		passive:  make(keySet),
		layers:   make(map[vms.Layer]keySet),
		targeted: make(map[vms.Layer]map[int]keySet),
	}
}

// AddSubscription subscribes s to every layer from every publisher.
// Reports whether s was newly added.
func (r *Routing) AddSubscription(s vms.Subscriber) bool {
	key := s.IdentityKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.passive[key]; exists {
		return false
	}
	r.passive[key] = struct{}{}
	r.retain(key, s)
	return true
}

// RemoveSubscription removes s's global subscription. Layer and
// publisher-scoped subscriptions are untouched.
func (r *Routing) RemoveSubscription(s vms.Subscriber) bool {
	key := s.IdentityKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.passive[key]; !exists {
		return false
	}
	delete(r.passive, key)
	r.release(key)
	return true
}

// AddLayerSubscription subscribes s to layer from any publisher.
func (r *Routing) AddLayerSubscription(s vms.Subscriber, layer vms.Layer) bool {
	key := s.IdentityKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.layers[layer]
	if !ok {
		set = make(keySet)
		r.layers[layer] = set
	}
	if _, exists := set[key]; exists {
		return false
	}
	set[key] = struct{}{}
	r.retain(key, s)
	r.sequenceNumber++
	return true
}

// RemoveLayerSubscription removes s's subscription to layer.
func (r *Routing) RemoveLayerSubscription(s vms.Subscriber, layer vms.Layer) bool {
	key := s.IdentityKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLayerLocked(key, layer)
}

// AddLayerFromPublisherSubscription subscribes s to layer as produced
// by publisherID only.
func (r *Routing) AddLayerFromPublisherSubscription(s vms.Subscriber, layer vms.Layer, publisherID int) bool {
	key := s.IdentityKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	publishers, ok := r.targeted[layer]
	if !ok {
		publishers = make(map[int]keySet)
		r.targeted[layer] = publishers
	}
	set, ok := publishers[publisherID]
	if !ok {
		set = make(keySet)
		publishers[publisherID] = set
	}
	if _, exists := set[key]; exists {
		return false
	}
	set[key] = struct{}{}
	r.retain(key, s)
	r.sequenceNumber++
	return true
}

// RemoveLayerFromPublisherSubscription removes s's subscription to
// layer from publisherID.
func (r *Routing) RemoveLayerFromPublisherSubscription(s vms.Subscriber, layer vms.Layer, publisherID int) bool {
	key := s.IdentityKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeTargetedLocked(key, layer, publisherID)
}

// RemoveDeadSubscriber drops every layer and publisher-scoped
// subscription held by s. The global subscription, if any, is kept.
// Each removal advances the sequence number. Reports whether anything
// was removed.
func (r *Routing) RemoveDeadSubscriber(s vms.Subscriber) bool {
	key := s.IdentityKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false

	// Collect first: the remove helpers prune empty entries from the
	// maps being walked.
	var layers []vms.Layer
	for layer, set := range r.layers {
		if _, exists := set[key]; exists {
			layers = append(layers, layer)
		}
	}
	for _, layer := range layers {
		if r.removeLayerLocked(key, layer) {
			removed = true
		}
	}

	type pair struct {
		layer       vms.Layer
		publisherID int
	}
	var pairs []pair
	for layer, publishers := range r.targeted {
		for publisherID, set := range publishers {
			if _, exists := set[key]; exists {
				pairs = append(pairs, pair{layer, publisherID})
			}
		}
	}
	for _, p := range pairs {
		if r.removeTargetedLocked(key, p.layer, p.publisherID) {
			removed = true
		}
	}

	return removed
}

// GetSubscribersForLayerFromPublisher returns every subscriber that
// should receive layer as published by publisherID: global subscribers,
// subscribers to layer, and subscribers to exactly (layer, publisherID).
// Each endpoint appears once. The result is ordered by identity key and
// taken under a single read lock.
func (r *Routing) GetSubscribersForLayerFromPublisher(layer vms.Layer, publisherID int) []vms.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	union := make(keySet, len(r.passive))
	for key := range r.passive {
		union[key] = struct{}{}
	}
	for key := range r.layers[layer] {
		union[key] = struct{}{}
	}
	for key := range r.targeted[layer][publisherID] {
		union[key] = struct{}{}
	}

	subscribers := make([]vms.Subscriber, 0, len(union))
	for key := range union {
		subscribers = append(subscribers, r.handles[key])
	}
	slices.SortFunc(subscribers, func(a, b vms.Subscriber) int {
		return strings.Compare(a.IdentityKey(), b.IdentityKey())
	})
	return subscribers
}

// HasLayerSubscriptions reports whether layer has at least one
// layer-level subscriber. Global subscribers do not count.
func (r *Routing) HasLayerSubscriptions(layer vms.Layer) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layers[layer]) > 0
}

// HasLayerFromPublisherSubscriptions reports whether (layer,
// publisherID) has at least one publisher-scoped subscriber. Global and
// layer-level subscribers do not count.
func (r *Routing) HasLayerFromPublisherSubscriptions(layer vms.Layer, publisherID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targeted[layer][publisherID]) > 0
}

// GetSubscriptionState returns a sorted snapshot of the current layer
// and publisher-scoped subscriptions.
func (r *Routing) GetSubscriptionState() vms.SubscriptionState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := vms.SubscriptionState{
		SequenceNumber:   r.sequenceNumber,
		Layers:           make([]vms.Layer, 0, len(r.layers)),
		AssociatedLayers: make([]vms.AssociatedLayer, 0, len(r.targeted)),
	}
	for layer := range r.layers {
		state.Layers = append(state.Layers, layer)
	}
	for layer, publishers := range r.targeted {
		associated := vms.AssociatedLayer{
			Layer:        layer,
			PublisherIDs: make([]int, 0, len(publishers)),
		}
		for publisherID := range publishers {
			associated.PublisherIDs = append(associated.PublisherIDs, publisherID)
		}
		state.AssociatedLayers = append(state.AssociatedLayers, associated)
	}
	vms.SortLayers(state.Layers)
	vms.SortAssociatedLayers(state.AssociatedLayers)
	return state
}

// SequenceNumber returns the current sequence number.
func (r *Routing) SequenceNumber() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sequenceNumber
}

func (r *Routing) removeLayerLocked(key string, layer vms.Layer) bool {
	set, ok := r.layers[layer]
	if !ok {
		return false
	}
	if _, exists := set[key]; !exists {
		return false
	}
	delete(set, key)
	if len(set) == 0 {
		delete(r.layers, layer)
	}
	r.sequenceNumber++
	r.release(key)
	return true
}

func (r *Routing) removeTargetedLocked(key string, layer vms.Layer, publisherID int) bool {
	publishers, ok := r.targeted[layer]
	if !ok {
		return false
	}
	set, ok := publishers[publisherID]
	if !ok {
		return false
	}
	if _, exists := set[key]; !exists {
		return false
	}
	delete(set, key)
	if len(set) == 0 {
		delete(publishers, publisherID)
		if len(publishers) == 0 {
			delete(r.targeted, layer)
		}
	}
	r.sequenceNumber++
	r.release(key)
	return true
}

// retain records s as the handle for key unless one is already known.
func (r *Routing) retain(key string, s vms.Subscriber) {
	if _, exists := r.handles[key]; !exists {
		r.handles[key] = s
	}
}

// release forgets the handle for key once no set references it.
func (r *Routing) release(key string) {
	if _, exists := r.passive[key]; exists {
		return
	}
	for _, set := range r.layers {
		if _, exists := set[key]; exists {
			return
		}
	}
	for _, publishers := range r.targeted {
		for _, set := range publishers {
			if _, exists := set[key]; exists {
				return
			}
		}
	}
	delete(r.handles, key)
}
