// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{"plain", errors.New("socket busy"), 1, "error: socket busy\n"},
		{"exit code", &ExitError{Code: 3, Err: errors.New("no broker")}, 3, "error: no broker\n"},
		{"wrapped", fmt.Errorf("dialing: %w", &ExitError{Code: 2, Err: errors.New("refused")}), 2, "error: refused\n"},
		{"silent", &ExitError{Code: 4}, 4, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			if code := report(&out, test.err); code != test.wantCode {
				t.Errorf("code = %d, want %d", code, test.wantCode)
			}
			if out.String() != test.wantText {
				t.Errorf("output = %q, want %q", out.String(), test.wantText)
			}
		})
	}
}
