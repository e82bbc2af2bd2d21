/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package buildstatus asks the build orchestrator whether a pipeline
// run is still alive. The recovery job uses it to decide which slot
// leases are orphaned.
package buildstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client queries the orchestrator's pipeline run status API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient builds a status client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "buildstatus").Logger(),
	}
}

type runStatus struct {
	Finished bool `json:"finished"`
}

// BuildRunning reports whether the pipeline run identified by owner
// has not finished yet. A run the orchestrator no longer knows about
// counts as finished.
func (c *Client) BuildRunning(ctx context.Context, owner string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/pipeline-runs/%s", c.baseURL, url.PathEscape(owner))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("query build status for %s: %w", owner, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var status runStatus
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false, fmt.Errorf("decode build status for %s: %w", owner, err)
		}
		return !status.Finished, nil
	case http.StatusNotFound:
		c.logger.Warn().Str("owner", owner).Msg("pipeline run not found, treating as finished")
		return false, nil
	default:
		return false, fmt.Errorf("query build status for %s: unexpected status %d", owner, resp.StatusCode)
	}
}
