// Package client is a typed SDK for the vex admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"vex/pkg/coordinator"
)

// Client talks to a vex daemon's admin HTTP surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Options control Client behavior.
type Options struct {
	// Timeout is the per-request ceiling.
	Timeout time.Duration
}

// New returns a client for the daemon at baseURL (e.g. http://localhost:7700).
func New(baseURL string, opts *Options) *Client {
	timeout := 30 * time.Second
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// RegisterInstance adds a remote instance to the coordinator.
func (c *Client) RegisterInstance(ctx context.Context, inst coordinator.DatabaseInstance) error {
	return c.do(ctx, http.MethodPost, "/v1/instances", inst, nil)
}

// UnregisterInstance removes an instance.
func (c *Client) UnregisterInstance(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/instances/"+url.PathEscape(id), nil, nil)
}

// ListInstances returns all registered instances.
func (c *Client) ListInstances(ctx context.Context) ([]coordinator.DatabaseInstance, error) {
	var out []coordinator.DatabaseInstance
	err := c.do(ctx, http.MethodGet, "/v1/instances", nil, &out)
	return out, err
}

// InstanceStatus reports the status of one instance.
func (c *Client) InstanceStatus(ctx context.Context, id string) (coordinator.InstanceStatus, error) {
	var out struct {
		Status coordinator.InstanceStatus `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/instances/"+url.PathEscape(id)+"/status", nil, &out)
	return out.Status, err
}

// SyncRequest configures a sync triggered through the API.
type SyncRequest struct {
	Direction       string `json:"direction,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	BatchSize       int    `json:"batch_size,omitempty"`
	TimeoutMs       int64  `json:"timeout_ms,omitempty"`
	ForceFullSync   bool   `json:"force_full_sync,omitempty"`
	NamespaceFilter string `json:"namespace_filter,omitempty"`
}

// SyncInstance runs a sync against one instance.
func (c *Client) SyncInstance(ctx context.Context, id string, req SyncRequest) (coordinator.SyncResult, error) {
	var out coordinator.SyncResult
	err := c.do(ctx, http.MethodPost, "/v1/instances/"+url.PathEscape(id)+"/sync", req, &out)
	return out, err
}

// SyncAll syncs every online instance and returns per-instance results.
func (c *Client) SyncAll(ctx context.Context, req SyncRequest) (map[string]coordinator.SyncResult, error) {
	out := make(map[string]coordinator.SyncResult)
	err := c.do(ctx, http.MethodPost, "/v1/sync", req, &out)
	return out, err
}

// Insert writes a vector through the replication coordinator.
func (c *Client) Insert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	body := map[string]any{"id": id, "vector": vector, "metadata": metadata}
	return c.do(ctx, http.MethodPost, "/v1/vectors", body, nil)
}

// Delete removes a vector from the primary and all replicas.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/vectors/"+url.PathEscape(id), nil, nil)
}

// Stats returns the coordinator's activity snapshot.
func (c *Client) Stats(ctx context.Context) (coordinator.Stats, error) {
	var out coordinator.Stats
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &out)
	return out, err
}

// Config returns the coordinator's runtime configuration.
func (c *Client) Config(ctx context.Context) (coordinator.Config, error) {
	var out coordinator.Config
	err := c.do(ctx, http.MethodGet, "/v1/config", nil, &out)
	return out, err
}

// UpdateConfig replaces the coordinator's runtime configuration.
func (c *Client) UpdateConfig(ctx context.Context, cfg coordinator.Config) (coordinator.Config, error) {
	var out coordinator.Config
	err := c.do(ctx, http.MethodPut, "/v1/config", cfg, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
