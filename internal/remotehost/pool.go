/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"context"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
)

// Pool is the set of enabled, operational hosts serving one
// platform's allocation requests. Built once from config, never
// mutated afterwards.
type Pool struct {
	hosts  []*RemoteHost
	logger zerolog.Logger
}

// NewPool wraps an explicit host list.
func NewPool(hosts []*RemoteHost, logger zerolog.Logger) *Pool {
	return &Pool{hosts: hosts, logger: logger}
}

// PoolFromConfig builds a pool from one platform's host mapping.
// Disabled hosts are skipped; each remaining host is probed and only
// kept when operational.
func PoolFromConfig(ctx context.Context, hosts map[string]HostConfig, slotsDir string, logger zerolog.Logger) *Pool {
	// Stable iteration keeps construction-time logs deterministic.
	hostnames := make([]string, 0, len(hosts))
	for hostname := range hosts {
		hostnames = append(hostnames, hostname)
	}
	sort.Strings(hostnames)

	var pool []*RemoteHost
	for _, hostname := range hostnames {
		attr := hosts[hostname]
		if !attr.Enabled {
			continue
		}
		slots := attr.Slots
		if slots <= 0 {
			slots = 1
		}
		host := NewRemoteHost(HostOptions{
			Hostname:   hostname,
			Username:   attr.Username,
			KeyFile:    attr.Auth,
			Slots:      slots,
			SocketPath: attr.SocketPath,
			SlotsDir:   slotsDir,
		}, logger)
		if !host.IsOperational(ctx) {
			continue
		}
		pool = append(pool, host)
	}
	return NewPool(pool, logger)
}

// Hosts returns the pool members.
func (p *Pool) Hosts() []*RemoteHost { return p.hosts }

// LockedResource is the capability returned by a successful
// allocation: the lease on one slot of one host. Releasing it is
// idempotent and only valid for the original owner.
type LockedResource struct {
	Host  *RemoteHost
	Slot  int
	Owner string
}

// Unlock releases the lease.
func (r *LockedResource) Unlock(ctx context.Context) bool {
	return r.Host.Unlock(ctx, r.Slot, r.Owner)
}

// LockResource leases one slot somewhere in the pool for owner.
//
// Free-slot lists are gathered first as a hint, shuffled per host so
// concurrent claimants don't collide in the same order, and hosts are
// tried most-idle first (free/total ratio). Correctness does not rest
// on the hint: only the flock-guarded Lock decides, and a slot taken
// in between simply fails over to the next candidate. A nil result
// means the pool is saturated, which is an expected outcome under
// contention, not an error.
func (p *Pool) LockResource(ctx context.Context, owner string) *LockedResource {
	if len(p.hosts) == 0 {
		p.logger.Error().Msg("there is no available remote host in pool")
		return nil
	}

	type candidate struct {
		host  *RemoteHost
		slots []int
	}
	var candidates []candidate
	for _, host := range p.hosts {
		available := host.AvailableSlots(ctx)
		if len(available) == 0 {
			p.logger.Info().Str("host", host.Hostname).Msg("no available slots")
			continue
		}
		p.logger.Info().Str("host", host.Hostname).Ints("slots", available).
			Msg("available slots")
		rand.Shuffle(len(available), func(i, j int) {
			available[i], available[j] = available[j], available[i]
		})
		candidates = append(candidates, candidate{host: host, slots: available})
	}

	if len(candidates) == 0 {
		p.logger.Error().Str("owner", owner).
			Msg("there is no remote host slot available")
		return nil
	}

	// Most idle hosts first, by free/total ratio.
	sort.SliceStable(candidates, func(i, j int) bool {
		ri := float64(len(candidates[i].slots)) / float64(candidates[i].host.Slots)
		rj := float64(len(candidates[j].slots)) / float64(candidates[j].host.Slots)
		return ri > rj
	})

	for _, c := range candidates {
		for _, slot := range c.slots {
			if c.host.Lock(ctx, slot, owner) {
				return &LockedResource{Host: c.host, Slot: slot, Owner: owner}
			}
		}
	}

	p.logger.Info().Str("owner", owner).Msg("cannot find remote host resource")
	return nil
}
