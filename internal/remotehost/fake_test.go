/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// fakeRemote emulates one remote machine: its slot files, its flock
// state, and a log of everything that ran on it.
type fakeRemote struct {
	mu    sync.Mutex
	home  string
	files map[string]string
	locks map[string]bool

	dials         int
	commands      []string
	flockAttempts []string

	mkdirExitCode int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		home:  "/home/builder",
		files: make(map[string]string),
		locks: make(map[string]bool),
	}
}

func (r *fakeRemote) Dial(ctx context.Context) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	return &fakeSession{remote: r}, nil
}

func (r *fakeRemote) setSlot(slotID int, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[fmt.Sprintf("/home/builder/forge_slots/slot_%d", slotID)] = content
}

func (r *fakeRemote) slotContent(slotID int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[fmt.Sprintf("/home/builder/forge_slots/slot_%d", slotID)]
}

// holdLockExternally simulates another pipeline holding a slot's
// flock.
func (r *fakeRemote) holdLockExternally(slotID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks[fmt.Sprintf("/home/builder/forge_slots/slot_%d.lock", slotID)] = true
}

func (r *fakeRemote) dialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

func (r *fakeRemote) commandLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *fakeRemote) flockAttemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flockAttempts)
}

func (r *fakeRemote) heldLocks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, held := range r.locks {
		if held {
			n++
		}
	}
	return n
}

type fakeSession struct {
	remote *fakeRemote
}

func (s *fakeSession) Run(cmd string) (Result, error) {
	r := s.remote
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)

	switch {
	case cmd == "pwd":
		return Result{Stdout: r.home}, nil

	case strings.HasPrefix(cmd, "mkdir -p "):
		return Result{ExitCode: r.mkdirExitCode}, nil

	case strings.HasPrefix(cmd, "touch "):
		// touch <path> && cat <path>
		fields := strings.Fields(cmd)
		path := fields[1]
		if _, ok := r.files[path]; !ok {
			r.files[path] = ""
		}
		return Result{Stdout: r.files[path]}, nil

	case strings.HasPrefix(cmd, "truncate -s 0 "):
		path := strings.TrimPrefix(cmd, "truncate -s 0 ")
		r.files[path] = ""
		return Result{}, nil

	case strings.HasPrefix(cmd, "echo "):
		// echo <data> > <path>
		rest := strings.TrimPrefix(cmd, "echo ")
		parts := strings.SplitN(rest, " > ", 2)
		if len(parts) != 2 {
			return Result{}, fmt.Errorf("unparseable write command %q", cmd)
		}
		r.files[parts[1]] = parts[0]
		return Result{}, nil
	}
	return Result{}, fmt.Errorf("unexpected command %q", cmd)
}

func (s *fakeSession) Hold(cmd string) (HeldCommand, error) {
	r := s.remote
	r.mu.Lock()
	defer r.mu.Unlock()

	if !strings.HasPrefix(cmd, "flock --conflict-exit-code 42 --nonblocking ") {
		return nil, fmt.Errorf("unexpected hold command %q", cmd)
	}
	fields := strings.Fields(cmd)
	lockPath := fields[len(fields)-2]
	r.flockAttempts = append(r.flockAttempts, lockPath)

	if r.locks[lockPath] {
		return &fakeHeld{conflict: true}, nil
	}
	r.locks[lockPath] = true
	return &fakeHeld{remote: r, lockPath: lockPath}, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeHeld struct {
	remote   *fakeRemote
	lockPath string
	conflict bool

	mu       sync.Mutex
	released bool
}

func (h *fakeHeld) WriteLine(line string) error {
	// Writes land in the channel buffer even when flock already
	// exited; the failure shows up on the read side.
	return nil
}

func (h *fakeHeld) ReadLine() (string, error) {
	if h.conflict {
		return "", io.EOF
	}
	return "verify lock", nil
}

func (h *fakeHeld) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		// The exit status is lost once the channel is torn down,
		// like a real SSH session reaped after Close.
		return -1
	}
	if h.conflict {
		return lockConflictExitCode
	}
	return 0
}

func (h *fakeHeld) Stderr() string { return "" }

func (h *fakeHeld) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	if h.remote != nil {
		h.remote.mu.Lock()
		delete(h.remote.locks, h.lockPath)
		h.remote.mu.Unlock()
	}
}

// newTestHost wires a host to a fake remote with retries disabled so
// failure paths don't sit in backoff sleeps.
func newTestHost(t *testing.T, remote *fakeRemote, slots int) *RemoteHost {
	t.Helper()
	return newNamedTestHost(t, remote, "remote-host-001", slots)
}

func newNamedTestHost(t *testing.T, remote *fakeRemote, hostname string, slots int) *RemoteHost {
	t.Helper()
	return NewRemoteHost(HostOptions{
		Hostname: hostname,
		Username: "builder",
		KeyFile:  "/path/to/key",
		Slots:    slots,
		Dial:     remote.Dial,
		Retry:    func() backoff.BackOff { return &backoff.StopBackOff{} },
	}, zerolog.Nop())
}
