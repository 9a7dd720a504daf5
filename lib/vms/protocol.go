// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package vms

// Socket actions served by vms-broker.
const (
	ActionStatus            = "status"
	ActionDump              = "dump"
	ActionConnectPublisher  = "connect-publisher"
	ActionPublish           = "publish"
	ActionSetLayersOffering = "set-layers-offering"
	ActionGetSubscriptions  = "get-subscriptions"
	ActionGetPublisherID    = "get-publisher-id"
	ActionGetPublisherInfo  = "get-publisher-info"
	ActionAvailableLayers   = "available-layers"
	ActionSubscribe         = "subscribe"
)

// StatusResponse is the response to the "status" action.
type StatusResponse struct {
	UptimeSeconds        float64 `cbor:"uptime_seconds"`
	Version              string  `cbor:"version"`
	BinaryHash           string  `cbor:"binary_hash,omitempty"`
	ConnectedPublishers  int     `cbor:"connected_publishers"`
	RegisteredPublishers int     `cbor:"registered_publishers"`
	SubscriptionSequence int     `cbor:"subscription_sequence"`
	AvailabilitySequence int     `cbor:"availability_sequence"`
}

// PacketCount is one layer's publish totals.
type PacketCount struct {
	Layer Layer `cbor:"layer"`
	Count int64 `cbor:"count"`
	Bytes int64 `cbor:"bytes"`
}

// FailureCount is one delivery failure bucket. Subscriber is empty for
// publications that had no subscribers.
type FailureCount struct {
	Layer      Layer  `cbor:"layer"`
	Publisher  string `cbor:"publisher"`
	Subscriber string `cbor:"subscriber"`
	Count      int64  `cbor:"count"`
	Bytes      int64  `cbor:"bytes"`
}

// DumpResponse carries the metrics report both as text and as rows.
type DumpResponse struct {
	Report              string         `cbor:"report"`
	ConnectedPublishers int            `cbor:"connected_publishers"`
	Packets             []PacketCount  `cbor:"packets"`
	Failures            []FailureCount `cbor:"failures"`
}

// ConnectPublisherRequest opens a publisher stream. Name identifies
// the client in failure metrics; a second stream with the same name
// replaces the first.
type ConnectPublisherRequest struct {
	Name string `cbor:"name"`
}

// Publisher stream frame types.
const (
	FrameSession       = "session"
	FrameSubscriptions = "subscriptions"
	FrameError         = "error"
)

// PublisherFrame is pushed on a publisher stream after its ack:
//
//   - "session": Token is the connection's capability token
//   - "subscriptions": State is the new subscription snapshot
//   - "error": Message explains why the stream is ending
type PublisherFrame struct {
	Type    string             `cbor:"type"`
	Token   []byte             `cbor:"token,omitempty"`
	State   *SubscriptionState `cbor:"state,omitempty"`
	Message string             `cbor:"message,omitempty"`
}

// PublishRequest is the body of the "publish" action. A nil Layer is
// accepted and ignored.
type PublishRequest struct {
	Token       []byte `cbor:"token"`
	Layer       *Layer `cbor:"layer"`
	PublisherID int    `cbor:"publisher_id"`
	Payload     []byte `cbor:"payload"`
}

// SetLayersOfferingRequest is the body of "set-layers-offering".
type SetLayersOfferingRequest struct {
	Token    []byte         `cbor:"token"`
	Offering LayersOffering `cbor:"offering"`
}

// TokenRequest is the body of actions that carry only a token.
type TokenRequest struct {
	Token []byte `cbor:"token"`
}

// GetPublisherIDRequest is the body of "get-publisher-id".
type GetPublisherIDRequest struct {
	Token         []byte `cbor:"token"`
	PublisherInfo []byte `cbor:"publisher_info"`
}

// PublisherIDResponse is the response to "get-publisher-id".
type PublisherIDResponse struct {
	PublisherID int `cbor:"publisher_id"`
}

// GetPublisherInfoRequest is the body of "get-publisher-info".
type GetPublisherInfoRequest struct {
	PublisherID int `cbor:"publisher_id"`
}

// PublisherInfoResponse carries a registered info blob, empty for an
// unknown id.
type PublisherInfoResponse struct {
	Info []byte `cbor:"info"`
}

// SubscribeRequest opens a subscriber stream. Compression names the
// payload encoding for message frames; empty selects the broker
// default.
type SubscribeRequest struct {
	Name        string `cbor:"name"`
	Compression string `cbor:"compression,omitempty"`
}

// SubscribeAck is the first frame of a subscriber stream.
type SubscribeAck struct {
	OK           bool   `cbor:"ok"`
	Error        string `cbor:"error,omitempty"`
	SubscriberID string `cbor:"subscriber_id,omitempty"`
	Compression  string `cbor:"compression,omitempty"`
}

// Subscription control operations and scopes.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"

	ScopeAll       = "all"
	ScopeLayer     = "layer"
	ScopePublisher = "publisher"
)

// SubscribeControl is a frame the client sends on its subscriber
// stream. Layer is required for the layer and publisher scopes;
// PublisherID only for the publisher scope.
type SubscribeControl struct {
	Op          string `cbor:"op"`
	Scope       string `cbor:"scope"`
	Layer       *Layer `cbor:"layer,omitempty"`
	PublisherID int    `cbor:"publisher_id,omitempty"`
}

// Subscriber stream frame types. FrameError is shared with publisher
// streams; on a subscriber stream it answers a bad control frame and
// the stream continues.
const (
	FrameMessage      = "message"
	FrameAvailability = "availability"
	FrameApplied      = "applied"
)

// SubscriberFrame is pushed on a subscriber stream:
//
//   - "message": Payload, encoded per Compression, decodes to Size bytes
//   - "availability": Available is the new availability snapshot
//   - "applied": a control frame took effect
//   - "error": a control frame was rejected; Message says why
type SubscriberFrame struct {
	Type        string           `cbor:"type"`
	Layer       *Layer           `cbor:"layer,omitempty"`
	Payload     []byte           `cbor:"payload,omitempty"`
	Compression string           `cbor:"compression,omitempty"`
	Size        int              `cbor:"size,omitempty"`
	Available   *AvailableLayers `cbor:"available,omitempty"`
	Message     string           `cbor:"message,omitempty"`
}
