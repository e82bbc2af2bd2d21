/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import "testing"

type fakeLeader struct {
	leading bool
}

func (f *fakeLeader) IsLeader() bool { return f.leading }

func TestShouldSweep(t *testing.T) {
	if !shouldSweep(nil) {
		t.Fatal("without leader election every replica sweeps")
	}
	if !shouldSweep(&fakeLeader{leading: true}) {
		t.Fatal("the leader sweeps")
	}
	if shouldSweep(&fakeLeader{leading: false}) {
		t.Fatal("followers must not sweep")
	}
}
