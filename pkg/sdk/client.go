// Package sdk is the Go client for the LogTide API.
//
// Embed it in a service to ship logs and manage detection packs without
// hand-rolling HTTP calls:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL:  "https://logtide.yourcompany.com",
//	    TenantID: "acme-corp",
//	})
//
//	ids, err := client.Ingest(ctx, "checkout", []sdk.Log{
//	    {Service: "payments", Level: "error", Message: "card declined"},
//	})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the LogTide API endpoint (required).
	BaseURL string

	// TenantID identifies your organization (required).
	TenantID string

	// Timeout bounds each API call (default 30s).
	Timeout time.Duration

	// HTTPClient overrides the transport; nil uses a default client.
	HTTPClient *http.Client
}

// Client is the LogTide API client. Safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a client from the configuration.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, httpClient: httpClient}
}

// Ingest ships a batch of logs for a project and returns the assigned
// log ids in input order. The batch is all-or-nothing.
func (c *Client) Ingest(ctx context.Context, projectID string, logs []Log) ([]string, error) {
	var resp IngestResult
	err := c.do(ctx, "POST", "/api/logs", map[string]interface{}{
		"projectId": projectID,
		"logs":      logs,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// ListPacks returns the detection catalog with the tenant's activation
// state merged in.
func (c *Client) ListPacks(ctx context.Context) ([]Pack, error) {
	var out []Pack
	if err := c.do(ctx, "GET", "/api/packs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnablePack activates a detection pack, optionally with per-rule
// threshold overrides.
func (c *Client) EnablePack(ctx context.Context, packID string, thresholds map[string]Threshold) error {
	var body interface{}
	if len(thresholds) > 0 {
		body = map[string]interface{}{"thresholds": thresholds}
	}
	return c.do(ctx, "POST", "/api/packs/"+packID+"/enable", body, nil)
}

// DisablePack deactivates a detection pack.
func (c *Client) DisablePack(ctx context.Context, packID string) error {
	return c.do(ctx, "POST", "/api/packs/"+packID+"/disable", nil, nil)
}

// UpdateThresholds replaces the per-rule overrides of an enabled pack.
func (c *Client) UpdateThresholds(ctx context.Context, packID string, thresholds map[string]Threshold) error {
	return c.do(ctx, "PUT", "/api/packs/"+packID+"/thresholds",
		map[string]interface{}{"thresholds": thresholds}, nil)
}

// ListIncidents returns the tenant's incidents, newest first. limit <= 0
// uses the server default.
func (c *Client) ListIncidents(ctx context.Context, limit int) ([]Incident, error) {
	path := "/api/incidents"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out []Incident
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetIncidentStatus moves an incident through its lifecycle.
func (c *Client) SetIncidentStatus(ctx context.Context, incidentID, status string) error {
	return c.do(ctx, "PATCH", "/api/incidents/"+incidentID+"/status",
		map[string]string{"status": status}, nil)
}

// do runs one JSON round trip and decodes either the result or the
// server's structured error.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("logtide-sdk: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("logtide-sdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.config.TenantID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logtide-sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("logtide-sdk: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			apiErr.Status = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("logtide-sdk: unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("logtide-sdk: parse response: %w", err)
		}
	}
	return nil
}
