// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker ties the subscription index, the publisher identity
// registry and layer availability together behind one lock, and
// notifies listeners when subscription state or layer availability
// changes.
//
// Publishers see the broker through [Broker.AddPublisherListener]: a
// listener is told the new [vms.SubscriptionState] whenever the first
// subscription for a layer appears or the last one goes away.
// Subscribers see it through [Broker.AddAvailabilityListener]: a
// listener is told the new [vms.AvailableLayers] whenever a publisher's
// offering changes or a publisher disconnects.
//
// Listener callbacks always run outside the broker lock.
package broker

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/vms-broker/vms/lib/availability"
	"github.com/vms-broker/vms/lib/caller"
	"github.com/vms-broker/vms/lib/publisherinfo"
	"github.com/vms-broker/vms/lib/routing"
	"github.com/vms-broker/vms/lib/vms"
)

// PublisherListener receives subscription state changes.
type PublisherListener interface {
	OnSubscriptionChange(state vms.SubscriptionState)
}

// AvailabilityListener receives layer availability changes.
type AvailabilityListener interface {
	OnLayersAvailabilityChange(available vms.AvailableLayers)
}

// Broker is safe for concurrent use.
type Broker struct {
	logger *slog.Logger

	publisherListeners    listenerList[PublisherListener]
	availabilityListeners listenerList[AvailabilityListener]

	mu sync.Mutex

	routing      *routing.Routing
	publishers   *publisherinfo.Registry
	availability *availability.Availability

	// offerings holds each connected publisher's latest offering per
	// publisher id, keyed by the publisher's token id.
	offerings map[string]map[int]vms.LayersOffering

	// packages maps a subscriber identity key to the package name of
	// the caller that first subscribed it.
	packages map[string]string
}

// New returns an empty broker. A nil logger discards output.
func New(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broker{
		logger:       logger,
		routing:      routing.New(),
		publishers:   publisherinfo.New(),
		availability: availability.New(),
		offerings:    make(map[string]map[int]vms.LayersOffering),
		packages:     make(map[string]string),
	}
}

// AddPublisherListener registers listener for subscription changes.
func (b *Broker) AddPublisherListener(listener PublisherListener) {
	b.publisherListeners.add(listener)
}

// RemovePublisherListener unregisters listener. Unknown listeners are
// ignored.
func (b *Broker) RemovePublisherListener(listener PublisherListener) {
	b.publisherListeners.remove(listener)
}

// PublisherListenerCount reports how many publisher listeners are
// registered.
func (b *Broker) PublisherListenerCount() int {
	return b.publisherListeners.len()
}

// AddAvailabilityListener registers listener for availability changes.
func (b *Broker) AddAvailabilityListener(listener AvailabilityListener) {
	b.availabilityListeners.add(listener)
}

// RemoveAvailabilityListener unregisters listener.
func (b *Broker) RemoveAvailabilityListener(listener AvailabilityListener) {
	b.availabilityListeners.remove(listener)
}

// AddSubscription subscribes s to all layers from all publishers.
// Global subscriptions do not change subscription state, so no
// listener is notified.
func (b *Broker) AddSubscription(ctx context.Context, s vms.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routing.AddSubscription(s)
	b.recordPackageLocked(ctx, s)
}

// RemoveSubscription removes s's global subscription.
func (b *Broker) RemoveSubscription(s vms.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routing.RemoveSubscription(s)
}

// AddLayerSubscription subscribes s to layer from any publisher.
// Publishers are notified when this is the first layer-level
// subscription for layer.
func (b *Broker) AddLayerSubscription(ctx context.Context, s vms.Subscriber, layer vms.Layer) {
	b.mu.Lock()
	first := !b.routing.HasLayerSubscriptions(layer)
	b.routing.AddLayerSubscription(s, layer)
	b.recordPackageLocked(ctx, s)
	b.mu.Unlock()

	if first {
		b.notifySubscriptionChange()
	}
}

// RemoveLayerSubscription removes s's subscription to layer.
// Publishers are notified when no layer-level subscription for layer
// remains.
func (b *Broker) RemoveLayerSubscription(s vms.Subscriber, layer vms.Layer) {
	b.mu.Lock()
	if !b.routing.HasLayerSubscriptions(layer) {
		b.mu.Unlock()
		b.logger.Debug("removing subscription for a layer without subscribers", "layer", layer)
		return
	}
	b.routing.RemoveLayerSubscription(s, layer)
	remaining := b.routing.HasLayerSubscriptions(layer)
	b.mu.Unlock()

	if !remaining {
		b.notifySubscriptionChange()
	}
}

// AddLayerFromPublisherSubscription subscribes s to layer from one
// publisher. Publishers are notified unless layer already had a
// layer-level or matching publisher-scoped subscription.
func (b *Broker) AddLayerFromPublisherSubscription(ctx context.Context, s vms.Subscriber, layer vms.Layer, publisherID int) {
	b.mu.Lock()
	first := !b.routing.HasLayerSubscriptions(layer) &&
		!b.routing.HasLayerFromPublisherSubscriptions(layer, publisherID)
	b.routing.AddLayerFromPublisherSubscription(s, layer, publisherID)
	b.recordPackageLocked(ctx, s)
	b.mu.Unlock()

	if first {
		b.notifySubscriptionChange()
	}
}

// RemoveLayerFromPublisherSubscription removes s's subscription to
// layer from publisherID.
func (b *Broker) RemoveLayerFromPublisherSubscription(s vms.Subscriber, layer vms.Layer, publisherID int) {
	b.mu.Lock()
	if !b.routing.HasLayerFromPublisherSubscriptions(layer, publisherID) {
		b.mu.Unlock()
		b.logger.Debug("removing subscription for a layer without subscribers",
			"layer", layer, "publisher_id", publisherID)
		return
	}
	b.routing.RemoveLayerFromPublisherSubscription(s, layer, publisherID)
	remaining := b.routing.HasLayerSubscriptions(layer) ||
		b.routing.HasLayerFromPublisherSubscriptions(layer, publisherID)
	b.mu.Unlock()

	if !remaining {
		b.notifySubscriptionChange()
	}
}

// RemoveDeadSubscriber drops every layer and publisher-scoped
// subscription of a subscriber whose connection is gone, and forgets
// its package name. The global subscription is left to the caller.
func (b *Broker) RemoveDeadSubscriber(s vms.Subscriber) {
	b.mu.Lock()
	changed := b.routing.RemoveDeadSubscriber(s)
	delete(b.packages, s.IdentityKey())
	b.mu.Unlock()

	if changed {
		b.notifySubscriptionChange()
	}
}

// GetSubscribersForLayerFromPublisher returns the fan-out targets for
// a publication.
func (b *Broker) GetSubscribersForLayerFromPublisher(layer vms.Layer, publisherID int) []vms.Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routing.GetSubscribersForLayerFromPublisher(layer, publisherID)
}

// GetSubscriptionState returns the current subscription snapshot.
func (b *Broker) GetSubscriptionState() vms.SubscriptionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routing.GetSubscriptionState()
}

// GetPublisherID returns the id for a publisher info blob, assigning
// the next one if the content is new.
func (b *Broker) GetPublisherID(info []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishers.GetIDForInfo(info)
}

// GetPublisherInfo returns the blob registered for id, or an empty
// blob for an unknown id.
func (b *Broker) GetPublisherInfo(id int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishers.GetPublisherInfo(id)
}

// PublisherCount reports how many distinct publisher infos are
// registered.
func (b *Broker) PublisherCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishers.Len()
}

// SetPublisherLayersOffering records the offering a connected
// publisher (identified by its token id) makes for one publisher id,
// then notifies availability listeners.
func (b *Broker) SetPublisherLayersOffering(tokenID string, offering vms.LayersOffering) {
	b.mu.Lock()
	perPublisher := b.offerings[tokenID]
	if perPublisher == nil {
		perPublisher = make(map[int]vms.LayersOffering)
		b.offerings[tokenID] = perPublisher
	}
	perPublisher[offering.PublisherID] = offering
	b.updateAvailabilityLocked()
	b.mu.Unlock()

	b.notifyAvailabilityChange()
}

// RemoveDeadPublisher drops every offering made under tokenID, then
// notifies availability listeners.
func (b *Broker) RemoveDeadPublisher(tokenID string) {
	b.mu.Lock()
	delete(b.offerings, tokenID)
	b.updateAvailabilityLocked()
	b.mu.Unlock()

	b.notifyAvailabilityChange()
}

// GetAvailableLayers returns the current availability snapshot.
func (b *Broker) GetAvailableLayers() vms.AvailableLayers {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availability.GetAvailableLayers()
}

// GetPackageName returns the package name recorded for s when it
// subscribed, or [caller.UnknownPackage].
func (b *Broker) GetPackageName(s vms.Subscriber) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name, ok := b.packages[s.IdentityKey()]; ok {
		return name
	}
	return caller.UnknownPackage
}

func (b *Broker) recordPackageLocked(ctx context.Context, s vms.Subscriber) {
	key := s.IdentityKey()
	if _, exists := b.packages[key]; !exists {
		b.packages[key] = caller.FromContext(ctx).PackageName()
	}
}

// updateAvailabilityLocked feeds every live offering to the
// availability calculator in a stable order.
func (b *Broker) updateAvailabilityLocked() {
	var all []vms.LayersOffering
	tokenIDs := make([]string, 0, len(b.offerings))
	for tokenID := range b.offerings {
		tokenIDs = append(tokenIDs, tokenID)
	}
	slices.Sort(tokenIDs)
	for _, tokenID := range tokenIDs {
		perPublisher := b.offerings[tokenID]
		publisherIDs := make([]int, 0, len(perPublisher))
		for publisherID := range perPublisher {
			publisherIDs = append(publisherIDs, publisherID)
		}
		slices.Sort(publisherIDs)
		for _, publisherID := range publisherIDs {
			all = append(all, perPublisher[publisherID])
		}
	}
	b.availability.SetPublishersOffering(all)
	b.logger.Debug("layer availability updated", "offerings", len(all))
}

func (b *Broker) notifySubscriptionChange() {
	state := b.GetSubscriptionState()
	for _, listener := range b.publisherListeners.snapshot() {
		listener.OnSubscriptionChange(state)
	}
}

func (b *Broker) notifyAvailabilityChange() {
	available := b.GetAvailableLayers()
	for _, listener := range b.availabilityListeners.snapshot() {
		listener.OnLayersAvailabilityChange(available)
	}
}

// listenerList is a copy-on-write slice: readers take the current
// slice without locking, writers replace it.
type listenerList[T comparable] struct {
	mu      sync.Mutex
	current atomic.Pointer[[]T]
}

func (l *listenerList[T]) snapshot() []T {
	if current := l.current.Load(); current != nil {
		return *current
	}
	return nil
}

func (l *listenerList[T]) add(listener T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := append(slices.Clone(l.snapshot()), listener)
	l.current.Store(&next)
}

func (l *listenerList[T]) remove(listener T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.snapshot()
	index := slices.Index(current, listener)
	if index < 0 {
		return
	}
	next := slices.Delete(slices.Clone(current), index, index+1)
	l.current.Store(&next)
}

func (l *listenerList[T]) len() int {
	return len(l.snapshot())
}
