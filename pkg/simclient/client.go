// Package simclient is the HTTP client for the downstream simulation
// engine. It supports SOCKS5 and HTTP/HTTPS proxies for deployments
// where the engine sits behind an egress gateway.
package simclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// DefaultTimeout bounds a single engine call end to end.
	DefaultTimeout = 15 * time.Second

	// UserAgent identifies this gateway to the engine.
	UserAgent = "Bastion/1.0"

	maxResponseBytes = 4 << 20
)

// RunRequest is the payload forwarded to the engine's run endpoint.
type RunRequest struct {
	RequestID string          `json:"request_id,omitempty"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Scenario  string          `json:"scenario"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// RunResponse is the engine's reply.
type RunResponse struct {
	SimulationID string          `json:"simulation_id"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// EngineError is a non-2xx reply from the engine.
type EngineError struct {
	StatusCode int
	Body       string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("simulation engine returned %d: %s", e.StatusCode, e.Body)
}

// Client calls the simulation engine over HTTP.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New builds a Client for baseURL. proxyURL may be empty, or a
// socks5://, http:// or https:// URL with optional userinfo.
func New(baseURL, proxyURL string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc, err := newHTTPClient(proxyURL, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{baseURL: baseURL, hc: hc}, nil
}

// Run submits a simulation and waits for the engine's reply.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", UserAgent)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("simulation engine call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &EngineError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out RunResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return &out, nil
}

// newHTTPClient builds an http.Client honoring the proxy URL scheme.
func newHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	if proxyURL == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsed.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		return &http.Client{
			Transport: &http.Transport{Dial: dialer.Dial},
			Timeout:   timeout,
		}, nil
	case "http", "https":
		return &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
			Timeout:   timeout,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
}
