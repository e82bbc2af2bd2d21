/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HostSlot operates on one numbered slot's state file through an
// already-open session. Callers that intend to mutate the slot must
// reach it through RemoteHost's locking protocol; plain reads
// (IsFree, Data) are point-in-time snapshots with no guarantee.
type HostSlot struct {
	hostname string
	session  Session
	id       int
	path     string
	logger   zerolog.Logger
}

func newHostSlot(host *RemoteHost, session Session, slotID int, slotPath string) *HostSlot {
	return &HostSlot{
		hostname: host.Hostname,
		session:  session,
		id:       slotID,
		path:     slotPath,
		logger:   host.logger,
	}
}

// ID returns the slot number.
func (s *HostSlot) ID() int { return s.id }

// Data reads and decodes the slot file content.
func (s *HostSlot) Data() (SlotData, error) {
	content, err := s.read()
	if err != nil {
		return SlotData{}, err
	}
	return ParseSlotData(content), nil
}

func (s *HostSlot) read() (string, error) {
	// Touch the slot file first so it exists on a fresh host.
	quoted := shellQuote(s.path)
	res, err := s.session.Run(fmt.Sprintf("touch %s && cat %s", quoted, quoted))
	if err != nil {
		return "", &SlotReadError{Host: s.hostname, Slot: s.id, Err: err}
	}
	if res.ExitCode != 0 {
		return "", &SlotReadError{Host: s.hostname, Slot: s.id, Err: remoteFailure(res)}
	}
	return res.Stdout, nil
}

func (s *HostSlot) write(data string) error {
	// Empty the file by default.
	cmd := fmt.Sprintf("truncate -s 0 %s", shellQuote(s.path))
	if data != "" {
		cmd = fmt.Sprintf("echo %s > %s", shellQuote(data), shellQuote(s.path))
	}
	res, err := s.session.Run(cmd)
	if err != nil {
		return &SlotWriteError{Host: s.hostname, Slot: s.id, Err: err}
	}
	if res.ExitCode != 0 {
		return &SlotWriteError{Host: s.hostname, Slot: s.id, Err: remoteFailure(res)}
	}
	return nil
}

// IsFree reports whether the slot file is empty.
func (s *HostSlot) IsFree() (bool, error) {
	data, err := s.Data()
	if err != nil {
		return false, err
	}
	return data.IsEmpty(), nil
}

// IsValid reports whether the slot content parses.
func (s *HostSlot) IsValid() (bool, error) {
	data, err := s.Data()
	if err != nil {
		return false, err
	}
	return data.IsValid(), nil
}

// IsLockedBy reports whether owner currently holds this slot.
func (s *HostSlot) IsLockedBy(owner string) (bool, error) {
	data, err := s.Data()
	if err != nil {
		return false, err
	}
	return data.Owner == owner, nil
}

// Lock writes a lease for owner into the slot. It refuses, without
// error, when the slot is occupied or its content is corrupted.
func (s *HostSlot) Lock(owner string) (bool, error) {
	data, err := s.Data()
	if err != nil {
		return false, err
	}
	if !data.IsEmpty() {
		s.logger.Debug().Int("slot", s.id).Msg("slot is not free, unable to lock it")
		return false, nil
	}
	if !data.IsValid() {
		s.logger.Warn().Int("slot", s.id).
			Msg("slot contains invalid content, it's probably corrupted, unable to lock it")
		return false, nil
	}
	if err := s.write(NewSlotData(owner, time.Now()).String()); err != nil {
		return false, err
	}
	return true, nil
}

// Unlock clears the lease owner holds on this slot. Unlocking an
// already-free slot succeeds (double unlock happens when a pipeline's
// cleanup raced the recovery job); unlocking a corrupted slot or
// somebody else's lease is refused.
func (s *HostSlot) Unlock(owner string) (bool, error) {
	data, err := s.Data()
	if err != nil {
		return false, err
	}
	if data.IsEmpty() {
		s.logger.Warn().Int("slot", s.id).Msg("slot is free, skip unlocking")
		return true, nil
	}
	if !data.IsValid() {
		s.logger.Warn().Int("slot", s.id).
			Msg("slot contains invalid content, it's probably corrupted, unable to unlock it")
		return false, nil
	}
	if data.Owner != owner {
		s.logger.Warn().Int("slot", s.id).Str("owner", data.Owner).
			Msgf("cannot unlock slot, it's not locked by %s", owner)
		return false, nil
	}
	if err := s.write(""); err != nil {
		return false, err
	}
	return true, nil
}

func remoteFailure(res Result) error {
	if res.Stderr != "" {
		return fmt.Errorf("exit code %d: %s", res.ExitCode, res.Stderr)
	}
	return fmt.Errorf("exit code %d", res.ExitCode)
}
