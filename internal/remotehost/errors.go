/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"errors"
	"fmt"
)

// ErrSlotContended marks a lock attempt that lost to another holder
// (remote flock exited with the conflict code). It is wrapped inside
// a SlotLockError and is an ordinary try-elsewhere signal, never a
// hard failure.
var ErrSlotContended = errors.New("slot is locked by others")

// SlotLockError reports a failure to acquire or hold the advisory
// lock protecting a slot, including failure to open the SSH sessions
// the protocol needs.
type SlotLockError struct {
	Host string
	Slot int
	Err  error
}

func (e *SlotLockError) Error() string {
	msg := fmt.Sprintf("%s: failed to acquire lock on slot %d", e.Host, e.Slot)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SlotLockError) Unwrap() error { return e.Err }

// SlotReadError reports a failed read of a slot file.
type SlotReadError struct {
	Host string
	Slot int
	Err  error
}

func (e *SlotReadError) Error() string {
	msg := fmt.Sprintf("%s: cannot read content of slot %d", e.Host, e.Slot)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SlotReadError) Unwrap() error { return e.Err }

// SlotWriteError reports a failed write to a slot file.
type SlotWriteError struct {
	Host string
	Slot int
	Err  error
}

func (e *SlotWriteError) Error() string {
	msg := fmt.Sprintf("%s: cannot write data to slot %d", e.Host, e.Slot)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SlotWriteError) Unwrap() error { return e.Err }

// retryable reports whether err belongs to the protocol error
// categories worth another attempt: lock contention and slot I/O
// failures. Anything else aborts the retry loop immediately.
func retryable(err error) bool {
	var lockErr *SlotLockError
	var readErr *SlotReadError
	var writeErr *SlotWriteError
	return errors.As(err, &lockErr) || errors.As(err, &readErr) || errors.As(err, &writeErr)
}
