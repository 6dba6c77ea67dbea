// Package streamclient talks to the hosted adaptive-bitrate video provider.
// The session engine only needs to know whether a playback reference is
// ready; everything else about the provider stays behind this client.
package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PlaybackStatus is the provider's view of a stream reference.
type PlaybackStatus struct {
	Ref   string `json:"ref"`
	Ready bool   `json:"ready"`
	State string `json:"state"` // "ready", "preparing", "errored"
}

// Client for the streaming provider API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a provider client. An empty baseURL configures offline
// mode: every reference is treated as ready, which keeps development and
// test environments independent of the hosted provider.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// CheckPlayback asks the provider whether the stream reference is playable.
func (c *Client) CheckPlayback(ctx context.Context, ref string) (*PlaybackStatus, error) {
	if c.baseURL == "" {
		return &PlaybackStatus{Ref: ref, Ready: true, State: "ready"}, nil
	}

	url := fmt.Sprintf("%s/v1/playback/%s/status", c.baseURL, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to reach streaming provider", zap.String("ref", ref), zap.Error(err))
		return nil, fmt.Errorf("failed to reach streaming provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &PlaybackStatus{Ref: ref, Ready: false, State: "errored"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Streaming provider returned non-OK status",
			zap.String("ref", ref), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("streaming provider returned status %d", resp.StatusCode)
	}

	var status PlaybackStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	return &status, nil
}
