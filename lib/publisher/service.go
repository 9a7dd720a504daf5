// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vms-broker/vms/lib/broker"
	"github.com/vms-broker/vms/lib/capability"
	"github.com/vms-broker/vms/lib/vms"
)

// ErrUnauthorized is returned for calls with a missing, stale, foreign
// or under-privileged token.
var ErrUnauthorized = errors.New("publisher: unauthorized")

// Broker is the routing collaborator the service fans out through.
// *broker.Broker satisfies it.
type Broker interface {
	GetSubscribersForLayerFromPublisher(layer vms.Layer, publisherID int) []vms.Subscriber
	GetSubscriptionState() vms.SubscriptionState
	AddPublisherListener(listener broker.PublisherListener)
	RemovePublisherListener(listener broker.PublisherListener)
	RemoveDeadPublisher(tokenID string)
	SetPublisherLayersOffering(tokenID string, offering vms.LayersOffering)
	GetPublisherID(info []byte) int
	GetPackageName(subscriber vms.Subscriber) string
}

// Authority mints, checks and revokes capability tokens.
// *capability.Issuer satisfies it. Tokens from IssueConnection must
// stay valid until revoked.
type Authority interface {
	IssueConnection(clientName string) ([]byte, *capability.Token, error)
	Verify(tokenBytes []byte) (*capability.Token, error)
	Revoke(token *capability.Token)
	Allows(token *capability.Token, action string) bool
}

// PublisherClient is the service's handle on one connected publisher.
type PublisherClient interface {
	// SetPublisherService hands the client its token and session. An
	// error aborts the connection.
	SetPublisherService(token []byte, session *Session) error

	// OnSubscriptionChange pushes a new subscription state. Errors are
	// logged and otherwise ignored.
	OnSubscriptionChange(state vms.SubscriptionState) error
}

// Config holds the service's collaborators. Broker and Authority are
// required.
type Config struct {
	Broker    Broker
	Authority Authority

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// Metrics defaults to a fresh store.
	Metrics *Metrics
}

// Service tracks connected publisher clients. Safe for concurrent use.
type Service struct {
	broker    Broker
	authority Authority
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	byName  map[string]*Session
	byToken map[string]*Session
}

// New creates a Service.
func New(config Config) (*Service, error) {
	if config.Broker == nil {
		return nil, errors.New("publisher: Broker is required")
	}
	if config.Authority == nil {
		return nil, errors.New("publisher: Authority is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Service{
		broker:    config.Broker,
		authority: config.Authority,
		logger:    logger,
		metrics:   metrics,
		byName:    make(map[string]*Session),
		byToken:   make(map[string]*Session),
	}, nil
}

// Metrics returns the service's metrics store.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// OnClientConnected issues a token for name, registers a session for
// it with the broker, and hands both to client. A previous connection
// under the same name is replaced and torn down.
func (s *Service) OnClientConnected(name string, client PublisherClient) error {
	tokenBytes, token, err := s.authority.IssueConnection(name)
	if err != nil {
		return fmt.Errorf("issuing token for %q: %w", name, err)
	}

	session := &Session{
		service:    s,
		name:       name,
		tokenBytes: tokenBytes,
		token:      token,
		client:     client,
	}
	session.connected.Store(true)

	s.mu.Lock()
	s.byToken[string(tokenBytes)] = session
	s.mu.Unlock()
	s.broker.AddPublisherListener(session)

	if err := client.SetPublisherService(tokenBytes, session); err != nil {
		s.mu.Lock()
		delete(s.byToken, string(tokenBytes))
		s.mu.Unlock()
		s.unregister(session)
		s.logger.Error("unable to configure publisher", "name", name, "error", err)
		return fmt.Errorf("configuring publisher %q: %w", name, err)
	}

	s.mu.Lock()
	previous := s.byName[name]
	s.byName[name] = session
	if previous != nil {
		delete(s.byToken, string(previous.tokenBytes))
	}
	s.mu.Unlock()

	if previous != nil {
		s.logger.Info("publisher reconnected, replacing previous session", "name", name)
		s.unregister(previous)
	}
	s.logger.Info("publisher connected", "name", name, "token_id", token.ID)
	return nil
}

// OnClientDisconnected tears down name's connection. Unknown names are
// ignored.
func (s *Service) OnClientDisconnected(name string) {
	s.mu.Lock()
	session := s.byName[name]
	if session != nil {
		delete(s.byName, name)
		delete(s.byToken, string(session.tokenBytes))
	}
	s.mu.Unlock()

	if session != nil {
		s.logger.Info("publisher disconnected", "name", name)
		s.unregister(session)
	}
}

// ReleaseClient disconnects name only if its current connection still
// belongs to client. Transports call this when a client's stream ends,
// which may happen after the name was already taken over by a newer
// connection.
func (s *Service) ReleaseClient(name string, client PublisherClient) {
	s.mu.Lock()
	session := s.byName[name]
	owned := session != nil && session.client == client
	s.mu.Unlock()

	if owned {
		s.OnClientDisconnected(name)
	}
}

// Session returns the connected session that owns tokenBytes.
func (s *Service) Session(tokenBytes []byte) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.byToken[string(tokenBytes)]
	if session == nil {
		return nil, fmt.Errorf("%w: unknown publisher token", ErrUnauthorized)
	}
	return session, nil
}

// ConnectedCount reports how many publisher clients are connected.
func (s *Service) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byName)
}

// Report formats.
const (
	packetCountFormat        = "Packet count for layer %s: %d\n"
	packetSizeFormat         = "Total packet size for layer %s: %d (bytes)\n"
	packetFailureCountFormat = "Total packet failure count for layer %s from %s to %s: %d\n"
	packetFailureSizeFormat  = "Total packet failure size for layer %s from %s to %s: %d (bytes)\n"
)

// Dump writes the metrics report to w. It does not modify metrics.
func (s *Service) Dump(w io.Writer) error {
	snapshot := s.metrics.Snapshot()
	connected := s.ConnectedCount()

	if _, err := fmt.Fprintf(w, "*PublisherService*\nConnected publishers: %d\n", connected); err != nil {
		return err
	}
	for _, stats := range snapshot.Packets {
		if _, err := fmt.Fprintf(w, packetCountFormat, stats.Layer, stats.Count); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, packetSizeFormat, stats.Layer, stats.Bytes); err != nil {
			return err
		}
	}
	for _, stats := range snapshot.Failures {
		if _, err := fmt.Fprintf(w, packetFailureCountFormat,
			stats.Layer, stats.Publisher, stats.Subscriber, stats.Count); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, packetFailureSizeFormat,
			stats.Layer, stats.Publisher, stats.Subscriber, stats.Bytes); err != nil {
			return err
		}
	}
	return nil
}

// Release disconnects every client and clears metrics. Used at
// shutdown.
func (s *Service) Release() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.byName))
	for _, session := range s.byName {
		sessions = append(sessions, session)
	}
	clear(s.byName)
	clear(s.byToken)
	s.mu.Unlock()

	for _, session := range sessions {
		s.unregister(session)
	}
	s.metrics.Reset()
}

// unregister marks session disconnected and removes everything it
// registered. Safe to call more than once.
func (s *Service) unregister(session *Session) {
	if !session.connected.CompareAndSwap(true, false) {
		return
	}
	s.broker.RemovePublisherListener(session)
	s.broker.RemoveDeadPublisher(session.token.ID)
	s.authority.Revoke(session.token)
}
