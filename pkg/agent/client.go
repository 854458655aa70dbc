package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/capture"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
)

// Client represents an agent client
type Client struct {
	config     ClientConfig
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new agent client
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tlsConfig, err := config.LoadClientTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS config: %w", err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultClientConfig().Timeout
	}

	return &Client{
		config:  config,
		baseURL: config.BaseURL(),
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
			Timeout:   timeout,
		},
	}, nil
}

// Get fetches an endpoint path such as "runs?limit=5" and returns the body
func (c *Client) Get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	body, _, err := c.do(req, http.StatusOK)
	return body, err
}

// do sends req and fails unless the status is one of accept
func (c *Client) do(req *http.Request, accept ...int) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	for _, code := range accept {
		if resp.StatusCode == code {
			return body, resp.StatusCode, nil
		}
	}
	return nil, resp.StatusCode, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

// CheckHealth checks if the agent is healthy
func (c *Client) CheckHealth(ctx context.Context) error {
	body, err := c.Get(ctx, "health")
	if err != nil {
		return err
	}
	if string(body) != "OK\n" {
		return fmt.Errorf("unexpected health response: %s", string(body))
	}
	return nil
}

// SysInfo returns the agent host description
func (c *Client) SysInfo(ctx context.Context) (*SysInfo, error) {
	var info SysInfo
	if err := c.getJSON(ctx, "sysinfo", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListRuns lists runs on the agent matching filter
func (c *Client) ListRuns(ctx context.Context, filter db.RunFilter) ([]*db.Run, error) {
	q := url.Values{}
	if filter.Capture != "" {
		q.Set("capture", filter.Capture)
	}
	if filter.Grade != "" {
		q.Set("grade", filter.Grade)
	}
	if filter.Success != nil {
		q.Set("success", strconv.FormatBool(*filter.Success))
	}
	if filter.StartTime != nil {
		q.Set("since", time.Since(*filter.StartTime).Round(time.Second).String())
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	endpoint := "runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var runs []*db.Run
	if err := c.getJSON(ctx, endpoint, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns a run with its results and runts
func (c *Client) GetRun(ctx context.Context, id int64) (*db.RunExport, error) {
	var export db.RunExport
	if err := c.getJSON(ctx, fmt.Sprintf("runs/%d", id), &export); err != nil {
		return nil, err
	}
	return &export, nil
}

// Report returns the HTML report of a run
func (c *Client) Report(ctx context.Context, id int64) ([]byte, error) {
	return c.Get(ctx, fmt.Sprintf("runs/%d/report", id))
}

// AnalyzeOptions qualify an uploaded capture
type AnalyzeOptions struct {
	Format  string
	Grade   string
	Voltage float64
}

// Analyze uploads a capture for analysis. A capture the agent could not
// analyze returns the recorded run together with an error
func (c *Client) Analyze(ctx context.Context, path string, opts AnalyzeOptions) (*db.RunExport, error) {
	if opts.Format == "" {
		opts.Format = "csv"
	}
	if source, err := capture.Get(opts.Format); err == nil {
		if ext, ok := source.(interface{ Info() capture.SourceInfo }); ok && ext.Info().Channels == 1 {
			return nil, fmt.Errorf("format %q carries one channel and cannot be uploaded", opts.Format)
		}
	}

	f, err := os.Open(path) // #nosec G304 -- user-specified capture file
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer func() { _ = f.Close() }()

	q := url.Values{}
	q.Set("format", opts.Format)
	q.Set("name", filepath.Base(path))
	if opts.Grade != "" {
		q.Set("grade", opts.Grade)
	}
	if opts.Voltage > 0 {
		q.Set("voltage", strconv.FormatFloat(opts.Voltage, 'g', -1, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze?"+q.Encode(), f)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	body, status, err := c.do(req, http.StatusCreated, http.StatusUnprocessableEntity)
	if err != nil {
		return nil, err
	}

	var export db.RunExport
	if err := json.Unmarshal(body, &export); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if status == http.StatusUnprocessableEntity {
		reason := "unknown error"
		if export.Run != nil && export.Run.Error != "" {
			reason = export.Run.Error
		}
		return &export, fmt.Errorf("analysis failed: %s", reason)
	}
	return &export, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v interface{}) error {
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
