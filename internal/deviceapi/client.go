package deviceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cogmote/puremote/internal/device"
)

const (
	// DefaultPort is the port the device agent listens on
	DefaultPort = 9012

	// DefaultTimeout is the per-request timeout. Probes rely on it being short.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxRetries applies to listing requests only; GetDevice never retries
	DefaultMaxRetries = 1

	// DefaultRetryDelay is the initial delay between retry attempts
	DefaultRetryDelay = 250 * time.Millisecond

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 2 * time.Second

	// maxBodySize caps how much of a response body is read
	maxBodySize = 4 << 20
)

// API paths served by the device agent.
const (
	PathDevice      = "/api/device"
	PathExperiments = "/api/exps"
	PathBroadcast   = "/api/broadcast/data"
)

// Client talks to the HTTP API of device agents. One Client serves any
// number of devices; the address is passed per call.
type Client struct {
	// Port is the agent port (default 9012)
	Port int

	// HTTPClient is the underlying HTTP client; its Timeout bounds each request
	HTTPClient *http.Client

	// MaxRetries is the maximum number of retry attempts for listing requests
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts
	RetryDelay time.Duration

	// MaxRetryDelay is the maximum delay for exponential backoff
	MaxRetryDelay time.Duration

	// UseExponentialBackoff doubles RetryDelay after each failed attempt
	UseExponentialBackoff bool
}

// NewClient creates a client with the default port, timeout and retry policy.
func NewClient() *Client {
	return &Client{
		Port:                  DefaultPort,
		HTTPClient:            &http.Client{Timeout: DefaultTimeout},
		MaxRetries:            DefaultMaxRetries,
		RetryDelay:            DefaultRetryDelay,
		MaxRetryDelay:         DefaultMaxRetryDelay,
		UseExponentialBackoff: true,
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// SetRetry configures retry behavior
func (c *Client) SetRetry(maxRetries int, retryDelay time.Duration) {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
}

// BaseURL returns the agent base URL for a device address.
func (c *Client) BaseURL(address string) string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return "http://" + net.JoinHostPort(address, strconv.Itoa(port))
}

// URL joins the agent base URL with an API path.
func (c *Client) URL(address, path string) string {
	return c.BaseURL(address) + path
}

// StreamURL returns the event-stream endpoint of a named channel.
func (c *Client) StreamURL(address, channel string) string {
	return c.URL(address, PathBroadcast+"/"+url.PathEscape(channel))
}

// GetDevice fetches the device descriptor. It makes exactly one attempt so
// that a probe costs at most one timeout. The body must be a JSON object.
func (c *Client) GetDevice(ctx context.Context, address string) (*device.Details, error) {
	var details *device.Details
	if err := c.getJSON(ctx, address, PathDevice, &details); err != nil {
		return nil, err
	}
	if details == nil {
		return nil, NewParseError(address, "empty device descriptor", nil)
	}
	return details, nil
}

// GetExperiments lists the experiments registered on a device.
func (c *Client) GetExperiments(ctx context.Context, address string) ([]device.ExperimentRecord, error) {
	var records []device.ExperimentRecord
	err := c.withRetry(ctx, func() error {
		return c.getJSON(ctx, address, PathExperiments, &records)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetChannels lists the broadcast channel names a device advertises.
func (c *Client) GetChannels(ctx context.Context, address string) ([]string, error) {
	var body device.BroadcastChannels
	err := c.withRetry(ctx, func() error {
		return c.getJSON(ctx, address, PathBroadcast, &body)
	})
	if err != nil {
		return nil, err
	}
	return body.Endpoints, nil
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// MaxRetries is exhausted.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	currentDelay := c.RetryDelay

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(currentDelay):
			}

			if c.UseExponentialBackoff {
				currentDelay *= 2
				if currentDelay > c.MaxRetryDelay {
					currentDelay = c.MaxRetryDelay
				}
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}

	return lastErr
}

// getJSON performs a single GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, address, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(address, path), nil)
	if err != nil {
		return NewNetworkError(address, "failed to create GET request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return NewNetworkError(address, fmt.Sprintf("GET %s failed", path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return NewHTTPError(address, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return NewNetworkError(address, "failed to read response body", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewParseError(address, fmt.Sprintf("failed to parse %s response", path), err)
	}

	return nil
}
