/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package remotehost shares the numbered build slots of SSH-reachable
// hosts among independent pipelines. There is no lock service: mutual
// exclusion comes from a remote flock held open over a dedicated SSH
// session while a second session manipulates the slot file. Stale
// leases have no TTL; the recovery job is the only thing allowed to
// break them.
package remotehost

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/volund_forge/internal/telemetry"
)

const (
	// defaultSlotsRelativePath is where slot files live under the
	// remote user's home directory unless config says otherwise.
	defaultSlotsRelativePath = "forge_slots"

	// lockConflictExitCode is what the remote flock exits with when
	// the lock is already held. Protocol-significant: it is the only
	// way contention is told apart from genuine failure.
	lockConflictExitCode = 42

	// lockSettleDelay gives the remote shell time to actually start
	// flock before we probe the channel.
	lockSettleDelay = 100 * time.Millisecond
)

// HostConfig is one host's entry in the per-platform pool mapping.
type HostConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Username   string `yaml:"username"`
	Auth       string `yaml:"auth"`
	Slots      int    `yaml:"slots"`
	SocketPath string `yaml:"socket_path"`
}

// HostOptions configures a RemoteHost.
type HostOptions struct {
	Hostname   string
	Username   string
	KeyFile    string
	Slots      int
	SocketPath string

	// SlotsDir overrides the slot directory. Relative paths are
	// resolved against the remote home directory; empty means the
	// default relative path.
	SlotsDir string

	// Dial overrides the transport, for tests. Defaults to a real
	// SSH dialer built from the fields above.
	Dial DialFunc

	// Retry overrides the protocol retry schedule, for tests.
	Retry func() backoff.BackOff
}

// RemoteHost is one SSH-reachable machine exposing Slots numbered
// build slots. All methods are safe for sequential use from multiple
// processes; cross-process exclusion is the remote flock's job.
type RemoteHost struct {
	Hostname   string
	Username   string
	KeyFile    string
	Slots      int
	SocketPath string

	dial   DialFunc
	retry  func() backoff.BackOff
	logger zerolog.Logger

	slotsDirOverride string
	mu               sync.Mutex
	slotsDir         string // resolved once, cached for the host's lifetime
}

// NewRemoteHost builds a host handle. No connection is made until the
// first operation.
func NewRemoteHost(opts HostOptions, logger zerolog.Logger) *RemoteHost {
	h := &RemoteHost{
		Hostname:         opts.Hostname,
		Username:         opts.Username,
		KeyFile:          opts.KeyFile,
		Slots:            opts.Slots,
		SocketPath:       opts.SocketPath,
		dial:             opts.Dial,
		retry:            opts.Retry,
		slotsDirOverride: opts.SlotsDir,
		logger:           logger.With().Str("host", opts.Hostname).Logger(),
	}
	if h.dial == nil {
		h.dial = defaultDialer(opts.Hostname, opts.Username, opts.KeyFile, logger)
	}
	if h.retry == nil {
		h.retry = newRetryPolicy
	}
	return h
}

// SlotsDir resolves the remote directory holding slot files. Resolved
// once via `pwd` and cached; an absolute override skips the probe.
func (h *RemoteHost) SlotsDir(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.slotsDir != "" {
		return h.slotsDir, nil
	}

	relative := h.slotsDirOverride
	if relative == "" {
		relative = defaultSlotsRelativePath
	}
	if path.IsAbs(relative) {
		h.slotsDir = relative
		return h.slotsDir, nil
	}

	res, err := h.run(ctx, "pwd")
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("resolve home directory: %w", remoteFailure(res))
	}
	h.slotsDir = path.Join(res.Stdout, relative)
	return h.slotsDir, nil
}

func (h *RemoteHost) slotPath(slotsDir string, slotID int) string {
	return path.Join(slotsDir, fmt.Sprintf("slot_%d", slotID))
}

func (h *RemoteHost) slotLockPath(slotsDir string, slotID int) string {
	return path.Join(slotsDir, fmt.Sprintf("slot_%d.lock", slotID))
}

func (h *RemoteHost) validSlotID(slotID int) bool {
	if slotID < 0 || slotID >= h.Slots {
		h.logger.Error().Int("slot", slotID).
			Msgf("invalid slot id, should be in [0, %d)", h.Slots)
		return false
	}
	return true
}

// run executes one command over a throwaway session.
func (h *RemoteHost) run(ctx context.Context, cmd string) (Result, error) {
	session, err := h.dial(ctx)
	if err != nil {
		return Result{}, err
	}
	defer session.Close()
	return session.Run(cmd)
}

// IsOperational probes the host by creating the slots directory. Used
// once at pool construction: hosts failing the probe never enter the
// pool.
func (h *RemoteHost) IsOperational(ctx context.Context) bool {
	slotsDir, err := h.SlotsDir(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("host is not operational")
		return false
	}
	res, err := h.run(ctx, "mkdir -p "+shellQuote(slotsDir))
	if err != nil {
		h.logger.Error().Err(err).Msg("host is not operational")
		return false
	}
	if res.ExitCode != 0 {
		h.logger.Error().Str("stderr", res.Stderr).Msg("cannot prepare slots directory")
		return false
	}
	return true
}

// IsFree reports whether a slot is currently free. This is an
// unlocked point-in-time read; the answer can be stale by the time
// the caller acts on it.
func (h *RemoteHost) IsFree(ctx context.Context, slotID int) bool {
	if !h.validSlotID(slotID) {
		return false
	}
	free, err := h.withSlot(ctx, slotID, func(slot *HostSlot) (bool, error) {
		return slot.IsFree()
	})
	if err != nil {
		h.logger.Warn().Err(err).Int("slot", slotID).Msg("failed to check slot state")
		return false
	}
	return free
}

// OwnerInSlot returns the owner id occupying a slot, or empty when
// the slot is free, unreadable, or out of range. Unlocked read.
func (h *RemoteHost) OwnerInSlot(ctx context.Context, slotID int) string {
	if !h.validSlotID(slotID) {
		return ""
	}
	data, err := h.SlotData(ctx, slotID)
	if err != nil {
		h.logger.Warn().Err(err).Int("slot", slotID).Msg("failed to read slot owner")
		return ""
	}
	return data.Owner
}

// SlotData reads a slot's decoded content without locking.
func (h *RemoteHost) SlotData(ctx context.Context, slotID int) (SlotData, error) {
	if !h.validSlotID(slotID) {
		return SlotData{}, fmt.Errorf("%s: invalid slot id %d", h.Hostname, slotID)
	}
	var data SlotData
	_, err := h.withSlot(ctx, slotID, func(slot *HostSlot) (bool, error) {
		d, err := slot.Data()
		data = d
		return false, err
	})
	return data, err
}

// withSlot runs fn against a HostSlot over a fresh read session.
func (h *RemoteHost) withSlot(ctx context.Context, slotID int, fn func(*HostSlot) (bool, error)) (bool, error) {
	slotsDir, err := h.SlotsDir(ctx)
	if err != nil {
		return false, err
	}
	session, err := h.dial(ctx)
	if err != nil {
		return false, err
	}
	defer session.Close()
	return fn(newHostSlot(h, session, slotID, h.slotPath(slotsDir, slotID)))
}

// AvailableSlots probes every slot and returns the free ones. The
// answer is a hint: slots can be taken between this read and a later
// lock attempt, and only the lock attempt is authoritative.
func (h *RemoteHost) AvailableSlots(ctx context.Context) []int {
	h.logger.Debug().Msg("retrieve list of available slots")
	var available []int
	for slotID := 0; slotID < h.Slots; slotID++ {
		if !h.IsFree(ctx, slotID) {
			h.logger.Debug().Int("slot", slotID).Msg("slot is not free")
			continue
		}
		available = append(available, slotID)
	}
	return available
}

// Lock leases a slot for owner. It returns false for out-of-range
// slots, occupied slots, contention, corruption, and exhausted
// retries; it never returns an error to the caller.
func (h *RemoteHost) Lock(ctx context.Context, slotID int, owner string) bool {
	if !h.validSlotID(slotID) {
		return false
	}

	locked := false
	err := h.retryLockedSlot(ctx, slotID, func(slot *HostSlot) error {
		ok, err := slot.Lock(owner)
		if err != nil {
			return err
		}
		locked = ok
		return nil
	})
	if err != nil {
		h.logger.Warn().Err(err).Int("slot", slotID).Str("owner", owner).
			Msg("failed to lock slot")
	}

	if locked {
		telemetry.SlotLockAttempts.WithLabelValues(h.Hostname, "locked").Inc()
		h.logger.Info().Int("slot", slotID).Str("owner", owner).Msg("slot is locked")
	} else {
		telemetry.SlotLockAttempts.WithLabelValues(h.Hostname, "failed").Inc()
		h.logger.Warn().Int("slot", slotID).Str("owner", owner).
			Msg("failed to lock slot for owner")
	}
	return locked
}

// Unlock releases owner's lease on a slot. Same boolean contract as
// Lock; releasing an already-free slot counts as success.
func (h *RemoteHost) Unlock(ctx context.Context, slotID int, owner string) bool {
	if !h.validSlotID(slotID) {
		return false
	}

	unlocked := false
	err := h.retryLockedSlot(ctx, slotID, func(slot *HostSlot) error {
		ok, err := slot.Unlock(owner)
		if err != nil {
			return err
		}
		unlocked = ok
		return nil
	})
	if err != nil {
		h.logger.Warn().Err(err).Int("slot", slotID).Str("owner", owner).
			Msg("failed to unlock slot")
	}

	if unlocked {
		h.logger.Info().Int("slot", slotID).Str("owner", owner).Msg("slot is unlocked")
	} else {
		h.logger.Warn().Int("slot", slotID).Str("owner", owner).
			Msg("failed to unlock slot for owner")
	}
	return unlocked
}

// retryLockedSlot wraps one dual-session protocol invocation in the
// bounded retry loop, retrying only on the protocol error types.
func (h *RemoteHost) retryLockedSlot(ctx context.Context, slotID int, fn func(*HostSlot) error) error {
	op := func() error {
		err := h.withLockedSlot(ctx, slotID, fn)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, h.retry())
}

// withLockedSlot is the dual-session critical section. One session is
// sacrificed to hold the remote flock for the whole scope; a second,
// independent session carries the slot file reads and writes. Both
// are torn down, and the flock released, on every exit path.
func (h *RemoteHost) withLockedSlot(ctx context.Context, slotID int, fn func(*HostSlot) error) error {
	slotsDir, err := h.SlotsDir(ctx)
	if err != nil {
		return &SlotLockError{Host: h.Hostname, Slot: slotID, Err: err}
	}

	// A session to run any commands, especially for reading and
	// writing the slot file.
	slotSession, err := h.dial(ctx)
	if err != nil {
		return &SlotLockError{Host: h.Hostname, Slot: slotID,
			Err: fmt.Errorf("failed to open SSH sessions: %w", err)}
	}
	defer slotSession.Close()

	// A dedicated session to keep the lock of the slot.
	lockSession, err := h.dial(ctx)
	if err != nil {
		return &SlotLockError{Host: h.Hostname, Slot: slotID,
			Err: fmt.Errorf("failed to open SSH sessions: %w", err)}
	}
	defer lockSession.Close()

	held, err := h.holdSlotLock(lockSession, slotsDir, slotID)
	if err != nil {
		return err
	}
	defer held.Release()

	return fn(newHostSlot(h, slotSession, slotID, h.slotPath(slotsDir, slotID)))
}

// holdSlotLock acquires the remote flock and keeps it held by leaving
// the blocking cat's stdin open. The write/read round trip verifies
// flock actually won; losing is reported through the conflict exit
// code.
func (h *RemoteHost) holdSlotLock(session Session, slotsDir string, slotID int) (HeldCommand, error) {
	cmd := fmt.Sprintf("flock --conflict-exit-code %d --nonblocking %s cat",
		lockConflictExitCode, shellQuote(h.slotLockPath(slotsDir, slotID)))

	h.logger.Info().Int("slot", slotID).Msg("acquiring lock on slot")
	held, err := session.Hold(cmd)
	if err != nil {
		return nil, &SlotLockError{Host: h.Hostname, Slot: slotID, Err: err}
	}

	// Give the remote shell a moment to exec flock.
	time.Sleep(lockSettleDelay)

	// Classify before Release: tearing the channel down first can
	// lose the exit status that tells contention apart from failure.
	if err := held.WriteLine("verify lock"); err != nil {
		failure := h.lockFailure(held, slotID, err)
		held.Release()
		return nil, failure
	}
	line, err := held.ReadLine()
	if err != nil || line == "" {
		failure := h.lockFailure(held, slotID, errors.New("no output from cat command"))
		held.Release()
		return nil, failure
	}

	// The session is now pinned under the flock until Release.
	return held, nil
}

// lockFailure classifies a failed acquisition by the held command's
// exit status.
func (h *RemoteHost) lockFailure(held HeldCommand, slotID int, cause error) error {
	if held.ExitCode() == lockConflictExitCode {
		telemetry.SlotContention.WithLabelValues(h.Hostname).Inc()
		h.logger.Debug().Int("slot", slotID).Msg("slot is locked by others")
		return &SlotLockError{Host: h.Hostname, Slot: slotID, Err: ErrSlotContended}
	}
	if stderr := held.Stderr(); stderr != "" {
		cause = fmt.Errorf("%s: %w", stderr, cause)
	}
	h.logger.Debug().Err(cause).Int("slot", slotID).Msg("failed to acquire lock on slot")
	return &SlotLockError{Host: h.Hostname, Slot: slotID, Err: cause}
}
