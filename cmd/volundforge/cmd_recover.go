/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/friendsincode/volund_forge/internal/buildstatus"
	"github.com/friendsincode/volund_forge/internal/leadership"
	"github.com/friendsincode/volund_forge/internal/logbuffer"
	"github.com/friendsincode/volund_forge/internal/logging"
	"github.com/friendsincode/volund_forge/internal/recovery"
	"github.com/friendsincode/volund_forge/internal/remotehost"
	"github.com/friendsincode/volund_forge/internal/telemetry"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Release slots whose owning pipeline run has finished",
	Long: "Sweep every pool for slot leases whose owner already finished " +
		"(typically because the pipeline crashed before its cleanup step) and " +
		"release them. Runs once by default; --watch keeps sweeping on an " +
		"interval and serves metrics.",
	RunE: runRecover,
}

var (
	recoverWatch    bool
	recoverInterval time.Duration
)

func init() {
	recoverCmd.Flags().BoolVar(&recoverWatch, "watch", false, "keep sweeping on an interval instead of running once")
	recoverCmd.Flags().DurationVar(&recoverInterval, "interval", 10*time.Minute, "sweep interval in watch mode")
}

func runRecover(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()

	if cfg.StatusAPI.URL == "" {
		return fmt.Errorf("status_api.url must be configured for recovery")
	}

	// In watch mode, capture recent log lines so /logz can serve them.
	var logs *logbuffer.Buffer
	if recoverWatch {
		logs = logbuffer.New(1000)
		logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logs, nil))
	}

	status := buildstatus.NewClient(cfg.StatusAPI.URL, cfg.StatusAPI.Timeout, logger)

	pools := make(map[string]*remotehost.Pool, len(cfg.Pools))
	for _, platform := range cfg.Platforms() {
		pools[platform] = remotehost.PoolFromConfig(ctx, cfg.Pools[platform], cfg.SlotsDir, logger)
	}
	job := recovery.New(pools, status, logger)

	if !recoverWatch {
		report := job.Run(ctx)
		if report.ReleaseFailed > 0 {
			return fmt.Errorf("%d orphaned slots could not be released", report.ReleaseFailed)
		}
		return nil
	}
	return watchRecover(ctx, job, logs)
}

// leaderChecker is the part of leadership.Election the sweep gate
// needs.
type leaderChecker interface {
	IsLeader() bool
}

// shouldSweep reports whether this replica may run the sweep. Without
// leader election every replica sweeps.
func shouldSweep(leader leaderChecker) bool {
	return leader == nil || leader.IsLeader()
}

// watchRecover runs the sweep on a fixed interval until interrupted,
// exposing metrics and health endpoints. With leader election
// enabled, follower replicas idle instead of sweeping.
func watchRecover(ctx context.Context, job *recovery.Job, logs *logbuffer.Buffer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var leader leaderChecker
	if cfg.LeaderElection.Enabled {
		election, err := leadership.NewElection(leadership.Config{
			RedisAddr:     cfg.LeaderElection.RedisAddr,
			RedisPassword: cfg.LeaderElection.RedisPassword,
			RedisDB:       cfg.LeaderElection.RedisDB,
			InstanceID:    cfg.LeaderElection.InstanceID,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize leader election: %w", err)
		}
		election.Start(ctx)
		defer func() {
			if err := election.Stop(); err != nil {
				logger.Error().Err(err).Msg("failed to stop leader election")
			}
		}()
		leader = election
	}

	router := chi.NewRouter()
	router.Handle("/metrics", telemetry.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/logz", func(w http.ResponseWriter, r *http.Request) {
		entries := logs.Query(logbuffer.QueryParams{
			Level: r.URL.Query().Get("level"),
			Limit: 200,
		})
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			logger.Error().Err(err).Msg("failed to encode log entries")
		}
	})
	server := &http.Server{Addr: cfg.MetricsBind, Handler: router}
	go func() {
		logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	ticker := time.NewTicker(recoverInterval)
	defer ticker.Stop()

	sweep := func() {
		if !shouldSweep(leader) {
			logger.Debug().Msg("not the leader, skipping sweep")
			return
		}
		job.Run(ctx)
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down recovery watch")
			return nil
		case <-ticker.C:
			sweep()
		}
	}
}
