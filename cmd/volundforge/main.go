/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/volund_forge/internal/config"
	"github.com/friendsincode/volund_forge/internal/logging"
	"github.com/friendsincode/volund_forge/internal/version"
)

var (
	logger  zerolog.Logger
	cfg     *config.Config
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "volundforge",
	Short: "Völund Forge - remote build host slot broker",
	Long: "Völund Forge leases build slots on a shared pool of SSH-reachable " +
		"remote hosts and recovers slots orphaned by crashed pipelines.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default $VOLUND_CONFIG or /etc/volund/config.yaml)")
	rootCmd.AddCommand(acquireCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it).
func loadConfig() error {
	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}
