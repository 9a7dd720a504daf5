// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// vms-broker is the VMS publish/subscribe broker daemon.
//
// It serves the CBOR action protocol on a Unix socket. Publishers
// hold a connect-publisher stream open for as long as they are
// connected; the first pushed frame carries the capability token that
// authorizes their publish, set-layers-offering, get-subscriptions and
// get-publisher-id calls. Closing the stream disconnects the publisher
// and revokes the token.
//
// Subscribers hold a subscribe stream open and send control frames to
// change what they receive. Messages come back on the same stream,
// optionally compressed with lz4 or zstd. Closing the stream removes
// every subscription the subscriber held.
//
// Configuration is read from --config or VMS_CONFIG. When
// metrics_address is set, Prometheus metrics are served at /metrics.
package main
