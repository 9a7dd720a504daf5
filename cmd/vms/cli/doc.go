// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree behind the vms binary: a [Command]
// dispatches on its first positional argument, parses its own pflag
// set, and suggests the nearest command or flag name on a typo.
package cli
