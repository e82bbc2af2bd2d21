/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package buildstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, NewClient(server.URL, 5*time.Second, zerolog.Nop())
}

func TestBuildRunning(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/pipeline-runs/pr123" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"finished": false}`))
	})

	running, err := client.BuildRunning(context.Background(), "pr123")
	if err != nil {
		t.Fatalf("BuildRunning failed: %v", err)
	}
	if !running {
		t.Fatal("unfinished run should report as running")
	}
}

func TestBuildFinished(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"finished": true}`))
	})

	running, err := client.BuildRunning(context.Background(), "pr123")
	if err != nil {
		t.Fatalf("BuildRunning failed: %v", err)
	}
	if running {
		t.Fatal("finished run should not report as running")
	}
}

func TestBuildUnknownCountsAsFinished(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	running, err := client.BuildRunning(context.Background(), "pr123")
	if err != nil {
		t.Fatalf("BuildRunning failed: %v", err)
	}
	if running {
		t.Fatal("unknown run should count as finished")
	}
}

func TestBuildStatusServerError(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := client.BuildRunning(context.Background(), "pr123"); err == nil {
		t.Fatal("server error must propagate, not decide liveness")
	}
}

func TestBuildStatusEscapesOwner(t *testing.T) {
	var gotPath string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"finished": true}`))
	})

	if _, err := client.BuildRunning(context.Background(), "pr/123"); err != nil {
		t.Fatalf("BuildRunning failed: %v", err)
	}
	if gotPath != "/api/v1/pipeline-runs/pr%2F123" {
		t.Fatalf("request path = %q, owner should be escaped", gotPath)
	}
}
