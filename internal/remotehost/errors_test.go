/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"errors"
	"strings"
	"testing"
)

func TestSlotLockErrorWrapsContention(t *testing.T) {
	err := &SlotLockError{Host: "remote-host-001", Slot: 3, Err: ErrSlotContended}

	if !errors.Is(err, ErrSlotContended) {
		t.Fatal("contention sentinel should unwrap from SlotLockError")
	}
	if !strings.Contains(err.Error(), "slot 3") {
		t.Fatalf("error message %q should name the slot", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"lock error", &SlotLockError{Host: "h", Slot: 0, Err: ErrSlotContended}, true},
		{"read error", &SlotReadError{Host: "h", Slot: 0, Err: errors.New("io")}, true},
		{"write error", &SlotWriteError{Host: "h", Slot: 0, Err: errors.New("io")}, true},
		{"plain error", errors.New("something else"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Fatalf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
