// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the VMS binaries: the
// raw stderr write used before the structured logger exists, and the
// exit that follows an unrecoverable error in main.
package process
