/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show slot occupancy across all platform pools",
	Long: "Read every configured slot without locking and print its owner and " +
		"lease age. Point-in-time snapshot; slots can change underneath.",
	RunE: runStatus,
}

var statusPlatform string

func init() {
	statusCmd.Flags().StringVar(&statusPlatform, "platform", "", "restrict to one platform pool")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()

	platforms := cfg.Platforms()
	if statusPlatform != "" {
		if _, ok := cfg.Pools[statusPlatform]; !ok {
			return fmt.Errorf("unknown platform %q", statusPlatform)
		}
		platforms = []string{statusPlatform}
	}

	for _, platform := range platforms {
		fmt.Printf("platform %s:\n", platform)
		for hostname, attr := range cfg.Pools[platform] {
			if !attr.Enabled {
				fmt.Printf("  %s: disabled\n", hostname)
				continue
			}
			host, err := hostFromConfig(platform, hostname)
			if err != nil {
				return err
			}
			for slot := 0; slot < host.Slots; slot++ {
				data, err := host.SlotData(ctx, slot)
				switch {
				case err != nil:
					fmt.Printf("  %s slot %d: unreadable (%v)\n", hostname, slot, err)
				case data.IsEmpty():
					fmt.Printf("  %s slot %d: free\n", hostname, slot)
				case !data.IsValid():
					fmt.Printf("  %s slot %d: CORRUPTED content, needs operator attention\n", hostname, slot)
				default:
					age := "unknown age"
					if t, err := data.Time(); err == nil {
						age = time.Since(t).Round(time.Second).String()
					}
					fmt.Printf("  %s slot %d: held by %s (%s)\n", hostname, slot, data.Owner, age)
				}
			}
		}
	}
	return nil
}
