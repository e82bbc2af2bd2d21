/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
environment: staging
slots_dir: /var/lib/forge_slots
pools:
  x86_64:
    builder-01.example.com:
      enabled: true
      username: builder
      auth: /etc/volund/keys/builder-01
      slots: 4
      socket_path: /run/builder/remote.sock
    builder-02.example.com:
      enabled: false
  aarch64:
    builder-arm-01.example.com:
      enabled: true
      username: builder
      auth: /etc/volund/keys/builder-arm-01
status_api:
  url: https://orchestrator.example.com
  timeout: 10s
metrics_bind: 0.0.0.0:9100
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Environment != "staging" {
		t.Errorf("environment = %q, want staging", cfg.Environment)
	}
	if cfg.SlotsDir != "/var/lib/forge_slots" {
		t.Errorf("slots_dir = %q", cfg.SlotsDir)
	}
	if cfg.StatusAPI.Timeout != 10*time.Second {
		t.Errorf("status timeout = %v, want 10s", cfg.StatusAPI.Timeout)
	}
	if cfg.MetricsBind != "0.0.0.0:9100" {
		t.Errorf("metrics bind = %q", cfg.MetricsBind)
	}

	host := cfg.Pools["x86_64"]["builder-01.example.com"]
	if !host.Enabled || host.Username != "builder" || host.Slots != 4 {
		t.Errorf("unexpected host attributes: %+v", host)
	}
	if host.SocketPath != "/run/builder/remote.sock" {
		t.Errorf("socket_path = %q", host.SocketPath)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
pools:
  x86_64:
    builder-01.example.com:
      enabled: true
      username: builder
      auth: /key
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Environment != "production" {
		t.Errorf("default environment = %q, want production", cfg.Environment)
	}
	if cfg.MetricsBind != "127.0.0.1:9000" {
		t.Errorf("default metrics bind = %q", cfg.MetricsBind)
	}
	if cfg.StatusAPI.Timeout != 30*time.Second {
		t.Errorf("default status timeout = %v, want 30s", cfg.StatusAPI.Timeout)
	}
	if cfg.LeaderElection.RedisAddr != "localhost:6379" {
		t.Errorf("default redis addr = %q", cfg.LeaderElection.RedisAddr)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("VOLUND_ENV", "development")
	t.Setenv("VOLUND_METRICS_BIND", "127.0.0.1:19000")
	t.Setenv("VOLUND_REDIS_DB", "3")

	cfg, err := Parse([]byte(`
environment: production
pools:
  x86_64:
    builder-01.example.com:
      enabled: true
      username: builder
      auth: /key
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("environment = %q, want env override", cfg.Environment)
	}
	if cfg.MetricsBind != "127.0.0.1:19000" {
		t.Errorf("metrics bind = %q, want env override", cfg.MetricsBind)
	}
	if cfg.LeaderElection.RedisDB != 3 {
		t.Errorf("redis db = %d, want 3", cfg.LeaderElection.RedisDB)
	}
}

func TestParseRejectsEmptyPools(t *testing.T) {
	if _, err := Parse([]byte("environment: production\n")); err == nil {
		t.Fatal("config without pools should be rejected")
	}
}

func TestParseRejectsEnabledHostWithoutCredentials(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing username",
			`
pools:
  x86_64:
    builder-01.example.com:
      enabled: true
      auth: /key
`,
			"username is required",
		},
		{
			"missing auth",
			`
pools:
  x86_64:
    builder-01.example.com:
      enabled: true
      username: builder
`,
			"auth key path is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestParseAllowsDisabledHostWithoutCredentials(t *testing.T) {
	_, err := Parse([]byte(`
pools:
  x86_64:
    builder-01.example.com:
      enabled: true
      username: builder
      auth: /key
    retired.example.com:
      enabled: false
`))
	if err != nil {
		t.Fatalf("disabled host without credentials should be accepted: %v", err)
	}
}

func TestPlatforms(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got := cfg.Platforms()
	if len(got) != 2 || got[0] != "aarch64" || got[1] != "x86_64" {
		t.Fatalf("Platforms() = %v, want sorted [aarch64 x86_64]", got)
	}
}
