/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recovery releases slot leases whose owning pipeline run has
// already finished. Pipelines normally release their own slot; one
// that crashed before cleanup leaves a lease behind forever, since
// leases carry no TTL. This job is the only sanctioned way such
// leases are broken, and it runs out of band, never from the
// allocation path.
package recovery

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/friendsincode/volund_forge/internal/remotehost"
	"github.com/friendsincode/volund_forge/internal/telemetry"
)

// StatusChecker answers whether a pipeline run is still alive.
type StatusChecker interface {
	BuildRunning(ctx context.Context, owner string) (bool, error)
}

// Report summarizes one sweep.
type Report struct {
	SlotsScanned  int
	SlotsOccupied int
	SlotsReleased int
	ReleaseFailed int
	StatusErrors  int
}

// Job walks every platform pool and releases orphaned leases.
type Job struct {
	pools  map[string]*remotehost.Pool
	status StatusChecker
	logger zerolog.Logger
}

// New builds a recovery job over the given platform pools.
func New(pools map[string]*remotehost.Pool, status StatusChecker, logger zerolog.Logger) *Job {
	return &Job{
		pools:  pools,
		status: status,
		logger: logger.With().Str("component", "recovery").Logger(),
	}
}

// Run sweeps all pools once. A slot is released only when its owner
// is positively reported as not running; status lookup errors leave
// the slot untouched.
func (j *Job) Run(ctx context.Context) Report {
	var report Report

	platforms := make([]string, 0, len(j.pools))
	for platform := range j.pools {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	for _, platform := range platforms {
		for _, host := range j.pools[platform].Hosts() {
			j.logger.Info().Str("platform", platform).Str("host", host.Hostname).
				Msg("checking occupied slots")
			j.sweepHost(ctx, platform, host, &report)
		}
	}

	telemetry.RecoverySweeps.Inc()
	j.logger.Info().
		Int("scanned", report.SlotsScanned).
		Int("occupied", report.SlotsOccupied).
		Int("released", report.SlotsReleased).
		Int("release_failed", report.ReleaseFailed).
		Int("status_errors", report.StatusErrors).
		Msg("recovery sweep finished")
	return report
}

func (j *Job) sweepHost(ctx context.Context, platform string, host *remotehost.RemoteHost, report *Report) {
	for slot := 0; slot < host.Slots; slot++ {
		report.SlotsScanned++

		owner := host.OwnerInSlot(ctx, slot)
		if owner == "" {
			continue
		}
		report.SlotsOccupied++
		j.logger.Info().Str("host", host.Hostname).Int("slot", slot).Str("owner", owner).
			Msg("slot is occupied")

		running, err := j.status.BuildRunning(ctx, owner)
		if err != nil {
			report.StatusErrors++
			j.logger.Warn().Err(err).Str("owner", owner).
				Msg("cannot determine build status, leaving slot alone")
			continue
		}
		if running {
			continue
		}

		j.logger.Info().Str("host", host.Hostname).Int("slot", slot).Str("owner", owner).
			Msg("owner finished, will unlock slot")
		if host.Unlock(ctx, slot, owner) {
			report.SlotsReleased++
			telemetry.RecoverySlotsReleased.WithLabelValues(platform, host.Hostname).Inc()
		} else {
			report.ReleaseFailed++
		}
	}
}
