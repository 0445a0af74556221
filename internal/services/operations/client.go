// Package operations provides a client for the automation gateway's job-start API.
package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/models"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	DefaultPreCheckPath = "/api/operations/pre-check"
	DefaultExecutePath  = "/api/operations/execute"
)

// Client starts backend jobs. It implements interfaces.OperationStarter.
type Client struct {
	baseURL      string
	preCheckPath string
	executePath  string
	httpClient   *http.Client
	logger       arbor.ILogger
	limiter      *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithPaths overrides the job-start endpoints. Empty values keep the defaults.
func WithPaths(preCheckPath, executePath string) ClientOption {
	return func(c *Client) {
		if preCheckPath != "" {
			c.preCheckPath = preCheckPath
		}
		if executePath != "" {
			c.executePath = executePath
		}
	}
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		preCheckPath: DefaultPreCheckPath,
		executePath:  DefaultExecutePath,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewClientFromConfig creates a client from the [backend] config section.
func NewClientFromConfig(cfg common.BackendConfig, logger arbor.ILogger) *Client {
	return NewClient(cfg.BaseURL,
		WithHTTPClient(&http.Client{Timeout: common.ParseDuration(cfg.Timeout, DefaultTimeout)}),
		WithRateLimit(cfg.RateLimit),
		WithPaths(cfg.PreCheckPath, cfg.ExecutePath),
		WithLogger(logger),
	)
}

// APIError represents a non-2xx reply from the gateway.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// StartPreCheck submits a pre-check job.
func (c *Client) StartPreCheck(ctx context.Context, req models.OperationRequest) (*models.JobStartResponse, error) {
	resp, err := c.post(ctx, c.preCheckPath, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start pre-check: %w", err)
	}
	return resp, nil
}

// StartExecute submits the reviewed operation.
func (c *Client) StartExecute(ctx context.Context, req models.ExecuteRequest) (*models.JobStartResponse, error) {
	resp, err := c.post(ctx, c.executePath, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start execute: %w", err)
	}
	return resp, nil
}

// post sends body as JSON and decodes a job-start reply.
func (c *Client) post(ctx context.Context, path string, body interface{}) (*models.JobStartResponse, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Debug().
			Str("url", c.baseURL+path).
			Msg("Gateway job-start request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
			Endpoint:   path,
		}
	}

	var result models.JobStartResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.JobID == "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "response carried no job_id", Endpoint: path}
	}

	if c.logger != nil {
		c.logger.Info().
			Str("job_id", result.JobID).
			Str("channel", result.Channel).
			Str("endpoint", path).
			Msg("Gateway accepted job")
	}

	return &result, nil
}

// errorMessage pulls "detail" or "message" out of a JSON error body, else returns the body text
func errorMessage(body []byte) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if s, ok := parsed[key].(string); ok && s != "" {
				return s
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response"
	}
	return text
}
