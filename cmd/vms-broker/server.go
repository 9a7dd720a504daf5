// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vms-broker/vms/lib/broker"
	"github.com/vms-broker/vms/lib/capability"
	"github.com/vms-broker/vms/lib/clock"
	"github.com/vms-broker/vms/lib/codec"
	"github.com/vms-broker/vms/lib/publisher"
	"github.com/vms-broker/vms/lib/service"
	"github.com/vms-broker/vms/lib/version"
	"github.com/vms-broker/vms/lib/vms"
)

// revocationCleanupInterval is how often expired blacklist entries are
// dropped.
const revocationCleanupInterval = time.Minute

type brokerOptions struct {
	Authority          publisher.Authority
	Policy             capability.Policy
	Clock              clock.Clock
	WriteTimeout       time.Duration
	DefaultCompression codec.Compression
	BinaryHash         string
	Logger             *slog.Logger
}

// brokerServer binds the broker and the publisher service to socket
// actions.
type brokerServer struct {
	broker             *broker.Broker
	publishers         *publisher.Service
	policy             capability.Policy
	clock              clock.Clock
	startedAt          time.Time
	writeTimeout       time.Duration
	defaultCompression codec.Compression
	binaryHash         string
	logger             *slog.Logger
}

func newBrokerServer(options brokerOptions) (*brokerServer, error) {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.WriteTimeout <= 0 {
		return nil, errors.New("write timeout must be positive")
	}
	if options.DefaultCompression == "" {
		options.DefaultCompression = codec.CompressionNone
	}

	routing := broker.New(options.Logger.With("component", "broker"))
	publishers, err := publisher.New(publisher.Config{
		Broker:    routing,
		Authority: options.Authority,
		Logger:    options.Logger.With("component", "publisher"),
	})
	if err != nil {
		return nil, err
	}

	return &brokerServer{
		broker:             routing,
		publishers:         publishers,
		policy:             options.Policy,
		clock:              options.Clock,
		startedAt:          options.Clock.Now(),
		writeTimeout:       options.WriteTimeout,
		defaultCompression: options.DefaultCompression,
		binaryHash:         options.BinaryHash,
		logger:             options.Logger,
	}, nil
}

func (b *brokerServer) registerActions(server *service.SocketServer) {
	server.Handle(vms.ActionStatus, b.handleStatus)
	server.Handle(vms.ActionDump, b.handleDump)
	server.Handle(vms.ActionGetPublisherInfo, b.handleGetPublisherInfo)
	server.Handle(vms.ActionAvailableLayers, b.handleAvailableLayers)

	// Token-authorized publisher calls.
	server.Handle(vms.ActionPublish, b.handlePublish)
	server.Handle(vms.ActionSetLayersOffering, b.handleSetLayersOffering)
	server.Handle(vms.ActionGetSubscriptions, b.handleGetSubscriptions)
	server.Handle(vms.ActionGetPublisherID, b.handleGetPublisherID)

	server.HandleStream(vms.ActionConnectPublisher, b.handleConnectPublisher)
	server.HandleStream(vms.ActionSubscribe, b.handleSubscribe)
}

// newRegistry returns a Prometheus registry with the publish metrics,
// broker gauges and the standard runtime collectors.
func (b *brokerServer) newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		b.publishers.Metrics(),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vms_connected_publishers",
			Help: "Publisher clients with an open connection.",
		}, func() float64 { return float64(b.publishers.ConnectedCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vms_registered_publisher_ids",
			Help: "Distinct publisher info blobs registered since start.",
		}, func() float64 { return float64(b.broker.PublisherCount()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func (b *brokerServer) runRevocationCleanup(ctx context.Context, issuer interface{ Cleanup() int }) {
	ticker := b.clock.NewTicker(revocationCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := issuer.Cleanup(); removed > 0 {
				b.logger.Debug("dropped expired revocations", "count", removed)
			}
		}
	}
}

func (b *brokerServer) handleStatus(ctx context.Context, raw []byte) (any, error) {
	return vms.StatusResponse{
		UptimeSeconds:        b.clock.Now().Sub(b.startedAt).Seconds(),
		Version:              version.Info(),
		BinaryHash:           b.binaryHash,
		ConnectedPublishers:  b.publishers.ConnectedCount(),
		RegisteredPublishers: b.broker.PublisherCount(),
		SubscriptionSequence: b.broker.GetSubscriptionState().SequenceNumber,
		AvailabilitySequence: b.broker.GetAvailableLayers().SequenceNumber,
	}, nil
}

func (b *brokerServer) handleDump(ctx context.Context, raw []byte) (any, error) {
	var report strings.Builder
	if err := b.publishers.Dump(&report); err != nil {
		return nil, err
	}

	snapshot := b.publishers.Metrics().Snapshot()
	response := vms.DumpResponse{
		Report:              report.String(),
		ConnectedPublishers: b.publishers.ConnectedCount(),
		Packets:             make([]vms.PacketCount, 0, len(snapshot.Packets)),
		Failures:            make([]vms.FailureCount, 0, len(snapshot.Failures)),
	}
	for _, stats := range snapshot.Packets {
		response.Packets = append(response.Packets, vms.PacketCount{
			Layer: stats.Layer,
			Count: stats.Count,
			Bytes: stats.Bytes,
		})
	}
	for _, stats := range snapshot.Failures {
		response.Failures = append(response.Failures, vms.FailureCount{
			Layer:      stats.Layer,
			Publisher:  stats.Publisher,
			Subscriber: stats.Subscriber,
			Count:      stats.Count,
			Bytes:      stats.Bytes,
		})
	}
	return response, nil
}

func (b *brokerServer) handleGetPublisherInfo(ctx context.Context, raw []byte) (any, error) {
	var request vms.GetPublisherInfoRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid get-publisher-info request: %w", err)
	}
	return vms.PublisherInfoResponse{Info: b.broker.GetPublisherInfo(request.PublisherID)}, nil
}

func (b *brokerServer) handleAvailableLayers(ctx context.Context, raw []byte) (any, error) {
	return b.broker.GetAvailableLayers(), nil
}

func (b *brokerServer) handlePublish(ctx context.Context, raw []byte) (any, error) {
	var request vms.PublishRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid publish request: %w", err)
	}
	session, err := b.publishers.Session(request.Token)
	if err != nil {
		return nil, err
	}
	return nil, session.Publish(request.Token, request.Layer, request.PublisherID, request.Payload)
}

func (b *brokerServer) handleSetLayersOffering(ctx context.Context, raw []byte) (any, error) {
	var request vms.SetLayersOfferingRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid set-layers-offering request: %w", err)
	}
	session, err := b.publishers.Session(request.Token)
	if err != nil {
		return nil, err
	}
	return nil, session.SetLayersOffering(request.Token, request.Offering)
}

func (b *brokerServer) handleGetSubscriptions(ctx context.Context, raw []byte) (any, error) {
	var request vms.TokenRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid get-subscriptions request: %w", err)
	}
	session, err := b.publishers.Session(request.Token)
	if err != nil {
		return nil, err
	}
	return session.GetSubscriptions(request.Token)
}

func (b *brokerServer) handleGetPublisherID(ctx context.Context, raw []byte) (any, error) {
	var request vms.GetPublisherIDRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid get-publisher-id request: %w", err)
	}
	session, err := b.publishers.Session(request.Token)
	if err != nil {
		return nil, err
	}
	publisherID, err := session.GetPublisherID(request.Token, request.PublisherInfo)
	if err != nil {
		return nil, err
	}
	return vms.PublisherIDResponse{PublisherID: publisherID}, nil
}
