// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for broker packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes (sun_path).
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests never call
// time.After directly. [DefaultTimeout] is the timeout most tests pass.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation: client names, subscriber ids, payload markers.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
