/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// sshCommandTimeout bounds every blocking remote command.
	sshCommandTimeout = 30 * time.Second

	// Deterministic exponential backoff: 3s, 6s, 12s... with no
	// jitter, bounded by maxAttempts total tries.
	backoffInitialInterval = 3 * time.Second
	backoffMultiplier      = 2
	maxAttempts            = 3
)

// Result is the outcome of one completed remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is one SSH connection to a remote host. Run issues a
// command and blocks until it finishes; Hold starts a command that
// keeps running with its stdin attached, which is how a remote flock
// is held across the critical section.
type Session interface {
	Run(cmd string) (Result, error)
	Hold(cmd string) (HeldCommand, error)
	Close() error
}

// HeldCommand is a remote command started by Session.Hold. The
// command stays alive as long as its stdin is open; Release closes
// stdin, which is what lets go of the flock the command is holding.
type HeldCommand interface {
	// WriteLine sends one line to the remote command's stdin.
	WriteLine(line string) error
	// ReadLine reads one line echoed back by the remote command.
	ReadLine() (string, error)
	// ExitCode reaps the finished command and returns its exit
	// status. Only meaningful after WriteLine or ReadLine failed,
	// which implies the remote command already exited.
	ExitCode() int
	// Stderr returns whatever the command wrote to stderr so far.
	Stderr() string
	// Release closes stdin and tears the channel down. Safe to call
	// more than once.
	Release()
}

// DialFunc opens a new Session. Each call must produce an
// independent connection: the locking protocol relies on holding one
// session hostage while a second one does the slot file I/O.
type DialFunc func(ctx context.Context) (Session, error)

// newRetryPolicy returns the backoff schedule shared by transport
// connects and slot lock/unlock attempts.
func newRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitialInterval
	b.RandomizationFactor = 0 // deterministic, no jitter
	b.Multiplier = backoffMultiplier
	b.MaxInterval = backoffInitialInterval * 8
	b.MaxElapsedTime = 0
	// The constructor seeds the current interval from the library
	// default; Reset picks up InitialInterval.
	b.Reset()
	return backoff.WithMaxRetries(b, maxAttempts-1)
}

// shellQuote renders s as a single shell word, the same escaping the
// remote /bin/sh expects for slot paths and slot content.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\!*?[]()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
