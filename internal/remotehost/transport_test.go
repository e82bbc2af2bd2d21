/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"/home/builder/forge_slots/slot_0", "/home/builder/forge_slots/slot_0"},
		{"pr123@2022-02-15T10:12:13.780426", "pr123@2022-02-15T10:12:13.780426"},
		{"with space", "'with space'"},
		{"semi;colon", "'semi;colon'"},
		{"dollar$var", "'dollar$var'"},
		{"it's", `'it'"'"'s'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// The retry schedule is deterministic: 3s, then 6s, then give up.
func TestRetryPolicySchedule(t *testing.T) {
	policy := newRetryPolicy()

	if got := policy.NextBackOff(); got != 3*time.Second {
		t.Fatalf("first backoff = %v, want 3s", got)
	}
	if got := policy.NextBackOff(); got != 6*time.Second {
		t.Fatalf("second backoff = %v, want 6s", got)
	}
	if got := policy.NextBackOff(); got != backoff.Stop {
		t.Fatalf("third backoff = %v, want Stop", got)
	}
}
