// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vms-broker/vms/lib/caller"
	"github.com/vms-broker/vms/lib/capability"
	"github.com/vms-broker/vms/lib/codec"
	"github.com/vms-broker/vms/lib/service"
	"github.com/vms-broker/vms/lib/vms"
)

// errSubscriberBroken is returned for writes after an earlier write
// failed. A partial CBOR frame leaves the stream undecodable, so the
// connection is closed on the first failure.
var errSubscriberBroken = errors.New("subscriber stream broken by an earlier write failure")

// streamSubscriber delivers publications and availability changes to
// the far end of a subscribe stream.
type streamSubscriber struct {
	id           string
	name         string
	compression  codec.Compression
	conn         net.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	encoder *codec.Encoder
	broken  bool
}

func newStreamSubscriber(name string, compression codec.Compression, conn net.Conn, writeTimeout time.Duration, logger *slog.Logger) *streamSubscriber {
	id := uuid.NewString()
	return &streamSubscriber{
		id:           id,
		name:         name,
		compression:  compression,
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger.With("subscriber", id, "name", name),
		encoder:      codec.NewEncoder(conn),
	}
}

func (s *streamSubscriber) IdentityKey() string { return s.id }

func (s *streamSubscriber) OnMessageReceived(layer vms.Layer, payload []byte) error {
	encoded, used, err := codec.Compress(payload, s.compression)
	if err != nil {
		return err
	}
	return s.write(vms.SubscriberFrame{
		Type:        vms.FrameMessage,
		Layer:       &layer,
		Payload:     encoded,
		Compression: string(used),
		Size:        len(payload),
	})
}

func (s *streamSubscriber) OnLayersAvailabilityChange(available vms.AvailableLayers) {
	if err := s.write(vms.SubscriberFrame{Type: vms.FrameAvailability, Available: &available}); err != nil {
		s.logger.Debug("availability push failed", "error", err)
	}
}

func (s *streamSubscriber) write(frame vms.SubscriberFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errSubscriberBroken
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		s.broken = true
		s.conn.Close()
		return fmt.Errorf("setting write deadline for %s frame: %w", frame.Type, err)
	}
	if err := s.encoder.Encode(frame); err != nil {
		s.broken = true
		s.conn.Close()
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// handleSubscribe registers a subscriber for the lifetime of its
// stream. Control frames change its subscriptions; every control frame
// is answered with an applied or error frame.
func (b *brokerServer) handleSubscribe(ctx context.Context, raw []byte, conn net.Conn) {
	var request vms.SubscribeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		service.WriteStreamAck(conn, vms.SubscribeAck{Error: fmt.Sprintf("invalid subscribe request: %v", err)})
		return
	}
	compression := b.defaultCompression
	if request.Compression != "" {
		parsed, err := codec.ParseCompression(request.Compression)
		if err != nil {
			service.WriteStreamAck(conn, vms.SubscribeAck{Error: err.Error()})
			return
		}
		compression = parsed
	}
	// The declared name is only a log label; the grant follows the
	// peer's credentials.
	packageName := caller.FromContext(ctx).PackageName()
	if !capability.GrantsAllow(b.policy.GrantsFor(packageName), capability.ActionSubscribe) {
		service.WriteStreamAck(conn, vms.SubscribeAck{
			Error: fmt.Sprintf("unauthorized: %q may not subscribe", packageName),
		})
		return
	}

	subscriber := newStreamSubscriber(request.Name, compression, conn, b.writeTimeout, b.logger)
	defer func() {
		b.broker.RemoveAvailabilityListener(subscriber)
		b.broker.RemoveDeadSubscriber(subscriber)
		b.broker.RemoveSubscription(subscriber)
		subscriber.logger.Info("subscriber disconnected")
	}()

	// The listener is live before the client sees the ack; holding the
	// write lock keeps any availability frame behind the ack.
	ack := vms.SubscribeAck{OK: true, SubscriberID: subscriber.id, Compression: string(compression)}
	subscriber.mu.Lock()
	b.broker.AddAvailabilityListener(subscriber)
	err := service.WriteStreamAck(conn, ack)
	subscriber.mu.Unlock()
	if err != nil {
		return
	}
	subscriber.logger.Info("subscriber connected", "compression", compression)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	decoder := codec.NewDecoder(conn)
	for {
		var control vms.SubscribeControl
		if err := decoder.Decode(&control); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				subscriber.logger.Debug("subscriber stream ended", "error", err)
			}
			return
		}

		frame := vms.SubscriberFrame{Type: vms.FrameApplied}
		if err := b.applyControl(ctx, subscriber, control); err != nil {
			frame = vms.SubscriberFrame{Type: vms.FrameError, Message: err.Error()}
		}
		if err := subscriber.write(frame); err != nil {
			return
		}
	}
}

func (b *brokerServer) applyControl(ctx context.Context, subscriber *streamSubscriber, control vms.SubscribeControl) error {
	var subscribe bool
	switch control.Op {
	case vms.OpSubscribe:
		subscribe = true
	case vms.OpUnsubscribe:
	default:
		return fmt.Errorf("unknown op %q", control.Op)
	}

	if control.Scope == vms.ScopeAll {
		if subscribe {
			b.broker.AddSubscription(ctx, subscriber)
		} else {
			b.broker.RemoveSubscription(subscriber)
		}
		return nil
	}

	if control.Scope != vms.ScopeLayer && control.Scope != vms.ScopePublisher {
		return fmt.Errorf("unknown scope %q", control.Scope)
	}
	if control.Layer == nil {
		return fmt.Errorf("scope %q requires a layer", control.Scope)
	}
	layer := *control.Layer

	if control.Scope == vms.ScopeLayer {
		if subscribe {
			b.broker.AddLayerSubscription(ctx, subscriber, layer)
		} else {
			b.broker.RemoveLayerSubscription(subscriber, layer)
		}
		return nil
	}

	if control.PublisherID < 0 {
		return fmt.Errorf("invalid publisher id %d", control.PublisherID)
	}
	if subscribe {
		b.broker.AddLayerFromPublisherSubscription(ctx, subscriber, layer, control.PublisherID)
	} else {
		b.broker.RemoveLayerFromPublisherSubscription(subscriber, layer, control.PublisherID)
	}
	return nil
}
