// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"crypto/subtle"
	"fmt"
	"sync/atomic"

	"github.com/vms-broker/vms/lib/capability"
	"github.com/vms-broker/vms/lib/vms"
)

// Session is the publish interface handed to one connected client. It
// is also that client's subscription-change listener on the broker.
type Session struct {
	service    *Service
	name       string
	tokenBytes []byte
	token      *capability.Token
	client     PublisherClient
	connected  atomic.Bool
}

// Name returns the client name the session was issued for.
func (s *Session) Name() string { return s.name }

// TokenID returns the id of the session's capability token.
func (s *Session) TokenID() string { return s.token.ID }

// Connected reports whether the session is still live.
func (s *Session) Connected() bool { return s.connected.Load() }

// Publish delivers payload on layer to every current subscriber of
// (layer, publisherID). Only authorization errors are returned. A nil
// layer is accepted and ignored.
func (s *Session) Publish(tokenBytes []byte, layer *vms.Layer, publisherID int, payload []byte) error {
	if err := s.authorize(tokenBytes, capability.ActionPublish); err != nil {
		return err
	}
	logger := s.service.logger
	logger.Debug("publishing", "layer", layer, "publisher_id", publisherID, "client", s.name)

	if layer == nil {
		return nil
	}
	size := len(payload)
	metrics := s.service.metrics

	subscribers := s.service.broker.GetSubscribersForLayerFromPublisher(*layer, publisherID)
	metrics.RecordPacket(*layer, size)

	if len(subscribers) == 0 {
		metrics.RecordFailure(FailureKey{Layer: *layer, Publisher: s.name}, size)
		return nil
	}

	for _, subscriber := range subscribers {
		if err := subscriber.OnMessageReceived(*layer, payload); err != nil {
			subscriberName := s.service.broker.GetPackageName(subscriber)
			metrics.RecordFailure(FailureKey{Layer: *layer, Publisher: s.name, Subscriber: subscriberName}, size)
			logger.Error("unable to publish to subscriber",
				"layer", *layer, "client", s.name, "subscriber", subscriberName, "error", err)
		}
	}
	return nil
}

// SetLayersOffering records which layers this client can publish for
// offering.PublisherID.
func (s *Session) SetLayersOffering(tokenBytes []byte, offering vms.LayersOffering) error {
	if err := s.authorize(tokenBytes, capability.ActionOffer); err != nil {
		return err
	}
	s.service.broker.SetPublisherLayersOffering(s.token.ID, offering)
	return nil
}

// GetSubscriptions returns the broker's current subscription state.
func (s *Session) GetSubscriptions(tokenBytes []byte) (vms.SubscriptionState, error) {
	if err := s.authorize(tokenBytes, ""); err != nil {
		return vms.SubscriptionState{}, err
	}
	return s.service.broker.GetSubscriptionState(), nil
}

// GetPublisherID returns the publisher id assigned to info.
func (s *Session) GetPublisherID(tokenBytes []byte, info []byte) (int, error) {
	if err := s.authorize(tokenBytes, ""); err != nil {
		return 0, err
	}
	return s.service.broker.GetPublisherID(info), nil
}

// OnSubscriptionChange forwards state to the client.
func (s *Session) OnSubscriptionChange(state vms.SubscriptionState) {
	if err := s.client.OnSubscriptionChange(state); err != nil {
		s.service.logger.Error("unable to send subscription state",
			"client", s.name, "sequence", state.SequenceNumber, "error", err)
	}
}

// authorize checks tokenBytes against the session. An empty action
// skips the grant check.
func (s *Session) authorize(tokenBytes []byte, action string) error {
	if subtle.ConstantTimeCompare(tokenBytes, s.tokenBytes) != 1 {
		return fmt.Errorf("%w: invalid publisher token", ErrUnauthorized)
	}
	if !s.connected.Load() {
		return fmt.Errorf("%w: publisher has been disconnected", ErrUnauthorized)
	}
	token, err := s.service.authority.Verify(tokenBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if action != "" && !s.service.authority.Allows(token, action) {
		return fmt.Errorf("%w: %q lacks %s", ErrUnauthorized, s.name, action)
	}
	return nil
}
