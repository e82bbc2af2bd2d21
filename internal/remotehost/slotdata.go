/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"fmt"
	"strings"
	"time"
)

// slotSeparator joins the owner id and the lease timestamp inside a
// slot file. Owner ids must not contain it; this is a documented
// precondition on callers, not validated at write time.
const slotSeparator = "@"

// timestampLayout matches the format written into slot files: UTC
// wall-clock time without a zone offset, microsecond precision.
const timestampLayout = "2006-01-02T15:04:05.999999"

// Accepted layouts when validating slot content. Slots written by
// older deployments may carry a zone offset.
var timestampParseLayouts = []string{
	timestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// SlotData is the decoded content of one slot file. A free slot has
// both fields empty; an occupied slot has both set. Any other
// combination fails IsValid.
type SlotData struct {
	Owner     string
	Timestamp string
}

// NewSlotData builds occupied slot data for owner, stamped with now.
func NewSlotData(owner string, now time.Time) SlotData {
	return SlotData{
		Owner:     owner,
		Timestamp: now.UTC().Format(timestampLayout),
	}
}

// ParseSlotData decodes raw slot file content. It never fails; call
// IsValid to find out whether the content actually made sense.
func ParseSlotData(content string) SlotData {
	if content == "" {
		return SlotData{}
	}
	parts := strings.Split(content, slotSeparator)
	return SlotData{
		Owner:     parts[0],
		Timestamp: strings.Join(parts[1:], ""),
	}
}

// IsEmpty reports whether the slot is free.
func (d SlotData) IsEmpty() bool {
	return d.Owner == "" && d.Timestamp == ""
}

// IsValid reports whether the content is either free or a well-formed
// owner/timestamp pair.
func (d SlotData) IsValid() bool {
	if d.IsEmpty() {
		return true
	}
	if d.Owner == "" || strings.Contains(d.Owner, slotSeparator) {
		return false
	}
	_, err := d.Time()
	return err == nil
}

// Time parses the lease timestamp.
func (d SlotData) Time() (time.Time, error) {
	for _, layout := range timestampParseLayouts {
		if t, err := time.Parse(layout, d.Timestamp); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid slot timestamp %q", d.Timestamp)
}

// String encodes the slot data back into file content: empty for a
// free slot, "owner@timestamp" otherwise.
func (d SlotData) String() string {
	if d.IsEmpty() {
		return ""
	}
	return d.Owner + slotSeparator + d.Timestamp
}
