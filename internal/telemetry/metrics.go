/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds the process-wide prometheus metrics and the
// handler that exposes them.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SlotLockAttempts counts slot lock attempts per host, labelled
	// by outcome ("locked" or "failed").
	SlotLockAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volund_slot_lock_attempts_total",
		Help: "Slot lock attempts by host and outcome.",
	}, []string{"host", "result"})

	// SlotContention counts lock attempts lost to another holder
	// (remote flock conflict exit code).
	SlotContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volund_slot_contention_total",
		Help: "Slot lock attempts that lost to a concurrent holder.",
	}, []string{"host"})

	// RecoverySweeps counts completed recovery sweeps.
	RecoverySweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volund_recovery_sweeps_total",
		Help: "Completed recovery sweeps over all pools.",
	})

	// RecoverySlotsReleased counts orphaned leases released by the
	// recovery job.
	RecoverySlotsReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volund_recovery_slots_released_total",
		Help: "Orphaned slot leases released by the recovery job.",
	}, []string{"platform", "host"})

	// LeaderStatus reports whether this instance currently leads the
	// recovery daemon replica set (1) or follows (0).
	LeaderStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "volund_leader_status",
		Help: "Leader election status of this instance.",
	}, []string{"instance"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
