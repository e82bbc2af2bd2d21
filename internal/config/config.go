/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/volund_forge/internal/remotehost"
)

// Config is the process configuration, read from a YAML file with a
// handful of environment overrides.
type Config struct {
	Environment string `yaml:"environment"`

	// SlotsDir overrides the remote slots directory. Relative paths
	// resolve against each host's home directory.
	SlotsDir string `yaml:"slots_dir"`

	// Pools maps platform -> hostname -> host attributes.
	Pools map[string]map[string]remotehost.HostConfig `yaml:"pools"`

	StatusAPI      StatusAPI      `yaml:"status_api"`
	MetricsBind    string         `yaml:"metrics_bind"`
	LeaderElection LeaderElection `yaml:"leader_election"`
}

// StatusAPI locates the orchestrator the recovery job asks about
// pipeline run liveness.
type StatusAPI struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LeaderElection configures the optional recovery daemon leader
// election.
type LeaderElection struct {
	Enabled       bool   `yaml:"enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	InstanceID    string `yaml:"instance_id"`
}

// DefaultPath returns the config file location, honoring
// VOLUND_CONFIG.
func DefaultPath() string {
	return getEnv("VOLUND_CONFIG", "/etc/volund/config.yaml")
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML config, applies env overrides and defaults,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Environment = getEnv("VOLUND_ENV", cfg.Environment)
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	cfg.MetricsBind = getEnv("VOLUND_METRICS_BIND", cfg.MetricsBind)
	if cfg.MetricsBind == "" {
		cfg.MetricsBind = "127.0.0.1:9000"
	}
	cfg.LeaderElection.RedisAddr = getEnv("VOLUND_REDIS_ADDR", cfg.LeaderElection.RedisAddr)
	if cfg.LeaderElection.RedisAddr == "" {
		cfg.LeaderElection.RedisAddr = "localhost:6379"
	}
	cfg.LeaderElection.RedisDB = getEnvInt("VOLUND_REDIS_DB", cfg.LeaderElection.RedisDB)
	if cfg.StatusAPI.Timeout == 0 {
		cfg.StatusAPI.Timeout = 30 * time.Second
	}

	if len(cfg.Pools) == 0 {
		return nil, fmt.Errorf("config defines no remote host pools")
	}
	for platform, hosts := range cfg.Pools {
		for hostname, attr := range hosts {
			if !attr.Enabled {
				continue
			}
			if attr.Username == "" {
				return nil, fmt.Errorf("pool %s host %s: username is required", platform, hostname)
			}
			if attr.Auth == "" {
				return nil, fmt.Errorf("pool %s host %s: auth key path is required", platform, hostname)
			}
		}
	}
	return cfg, nil
}

// Platforms lists the configured platforms in stable order.
func (c *Config) Platforms() []string {
	platforms := make([]string, 0, len(c.Pools))
	for platform := range c.Pools {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
