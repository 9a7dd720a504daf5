// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package publisher is the broker's publication fan-out service.
//
// Each connected publisher client gets a freshly issued capability
// token and a [Session] scoped to it. Every session call carries the
// token and is authorized before anything else happens: the token must
// be the session's own, the session must still be connected, the
// token must verify against the issuing [Authority], and, where the
// call needs one, the token must carry the action's grant. A rejected
// call returns [ErrUnauthorized] and has no other effect.
//
// [Session.Publish] resolves the subscriber set for (layer, publisher
// id) once and delivers to each subscriber in turn. A subscriber whose
// delivery fails is recorded in [Metrics] and skipped; the publisher
// never sees delivery errors.
//
// A disconnect does not cancel publications that have already passed
// authorization. They complete against the subscriber set they
// resolved, and later calls on the session are rejected.
package publisher
