// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the broker's transport scaffolding: a CBOR
// Unix socket server with action dispatch, the matching client, and a
// small HTTP server for the metrics endpoint.
//
// The socket protocol has two shapes. A request-response action reads
// one CBOR request and writes one [Response], then the connection
// closes. A stream action reads one CBOR request and then hands the
// connection to the handler, which writes a [StreamAck] as its first
// frame and keeps the connection for as long as it needs.
//
// Every request is a CBOR map with an "action" field. Authenticated
// calls also carry a "token" field; the handlers decide what to do
// with it.
//
// # Caller identity
//
// When the server is built with an [IdentityResolver], each accepted
// connection's peer credentials are resolved once and attached to the
// handler context with [caller.WithIdentity].
package service
