/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/volund_forge/internal/remotehost"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Lease a build slot on a remote host",
	Long: "Lease one build slot for a pipeline run on the platform's host pool. " +
		"Prints the leased host, slot, and podman socket path on success.",
	RunE: runAcquire,
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release a previously leased build slot",
	RunE:  runRelease,
}

var (
	acquirePlatform string
	acquireOwner    string

	releasePlatform string
	releaseHostname string
	releaseSlot     int
	releaseOwner    string
)

func init() {
	acquireCmd.Flags().StringVar(&acquirePlatform, "platform", "", "platform pool to allocate from (required)")
	acquireCmd.Flags().StringVar(&acquireOwner, "owner", "", "pipeline run id taking the lease (default: generated)")
	_ = acquireCmd.MarkFlagRequired("platform")

	releaseCmd.Flags().StringVar(&releasePlatform, "platform", "", "platform pool the host belongs to (required)")
	releaseCmd.Flags().StringVar(&releaseHostname, "hostname", "", "host holding the slot (required)")
	releaseCmd.Flags().IntVar(&releaseSlot, "slot", -1, "slot id to release (required)")
	releaseCmd.Flags().StringVar(&releaseOwner, "owner", "", "pipeline run id that holds the lease (required)")
	_ = releaseCmd.MarkFlagRequired("platform")
	_ = releaseCmd.MarkFlagRequired("hostname")
	_ = releaseCmd.MarkFlagRequired("slot")
	_ = releaseCmd.MarkFlagRequired("owner")
}

func runAcquire(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()

	hosts, ok := cfg.Pools[acquirePlatform]
	if !ok {
		return fmt.Errorf("unknown platform %q", acquirePlatform)
	}

	owner := acquireOwner
	if owner == "" {
		owner = "manual-" + uuid.New().String()
	}

	pool := remotehost.PoolFromConfig(ctx, hosts, cfg.SlotsDir, logger)
	resource := pool.LockResource(ctx, owner)
	if resource == nil {
		return fmt.Errorf("no remote host slot available for %s on platform %s", owner, acquirePlatform)
	}

	fmt.Printf("host=%s slot=%d owner=%s socket_path=%s\n",
		resource.Host.Hostname, resource.Slot, resource.Owner, resource.Host.SocketPath)
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()

	host, err := hostFromConfig(releasePlatform, releaseHostname)
	if err != nil {
		return err
	}
	if !host.Unlock(ctx, releaseSlot, releaseOwner) {
		return fmt.Errorf("failed to release slot %d on %s for %s", releaseSlot, releaseHostname, releaseOwner)
	}
	return nil
}

// hostFromConfig builds a single host handle without the operability
// probe; release and status must reach hosts even when mkdir would
// fail.
func hostFromConfig(platform, hostname string) (*remotehost.RemoteHost, error) {
	hosts, ok := cfg.Pools[platform]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	attr, ok := hosts[hostname]
	if !ok {
		return nil, fmt.Errorf("unknown host %q on platform %s", hostname, platform)
	}
	slots := attr.Slots
	if slots <= 0 {
		slots = 1
	}
	return remotehost.NewRemoteHost(remotehost.HostOptions{
		Hostname:   hostname,
		Username:   attr.Username,
		KeyFile:    attr.Auth,
		Slots:      slots,
		SocketPath: attr.SocketPath,
		SlotsDir:   cfg.SlotsDir,
	}, logger), nil
}
