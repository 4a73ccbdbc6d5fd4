package ayrshare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"postdeck/pkg/clients"
	"postdeck/pkg/logging"
)

// Client talks to the Ayrshare social distribution API. All calls are made
// with the workspace's profile key unless the method says otherwise.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	execCfg    clients.HTTPExecutorConfig
	executor   failsafe.Executor[*http.Response]
	logger     logging.Logger
}

// APIError is returned for non-2xx responses from the distribution API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ayrshare API error: status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying. Server errors
// and rate limits are transient; everything else is a definitive answer
// from the provider.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Definitive reports whether the provider has conclusively rejected the
// request. Retrying a definitive failure will not change the outcome.
func (e *APIError) Definitive() bool {
	return !e.Transient()
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithExecutorConfig overrides the HTTP executor settings (for example to
// attach a circuit breaker).
func WithExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.execCfg = cfg
	}
}

// NewClient creates an Ayrshare API client authenticated with the account
// API key. Per-workspace calls additionally pass the workspace profile key.
//
// The HTTP layer does not retry: every caller owns its own retry decision.
// The provisioner bounds external call volume with its retry policy, and
// read paths degrade to cached or local data instead of retrying.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    "https://api.ayrshare.com/api",
		apiKey:     apiKey,
		httpClient: clients.NewHTTPClient(15 * time.Second),
		execCfg: clients.HTTPExecutorConfig{
			MaxRetries: 0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.executor = clients.NewHTTPExecutor(c.execCfg)
	return c
}

// Profile is a provider-side sub-account holding a workspace's social
// connections.
type Profile struct {
	Title      string `json:"title"`
	RefID      string `json:"refId"`
	ProfileKey string `json:"profileKey"`
}

// HistoryItem is one provider-side post record.
type HistoryItem struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Post      string         `json:"post"`
	Platforms []string       `json:"platforms"`
	Created   time.Time      `json:"created"`
	PostIDs   []PlatformPost `json:"postIds,omitempty"`
	Errors    []any          `json:"errors,omitempty"`
}

// PlatformPost holds the per-platform identifiers assigned when a post
// went live.
type PlatformPost struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
	PostURL  string `json:"postUrl,omitempty"`
	Status   string `json:"status,omitempty"`
}

type historyResponse struct {
	History []HistoryItem `json:"history"`
	Status  string        `json:"status"`
}

// CreateProfile provisions a new provider profile for a workspace. The
// returned ProfileKey is the credential for all subsequent per-workspace
// calls.
func (c *Client) CreateProfile(ctx context.Context, title string) (*Profile, error) {
	body := map[string]string{"title": title}
	var profile Profile
	if err := c.doRequest(ctx, http.MethodPost, "/profiles", "", body, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// DeleteProfile removes a provider profile and disconnects all of its
// social accounts.
func (c *Client) DeleteProfile(ctx context.Context, profileKey string) error {
	body := map[string]string{"profileKey": profileKey}
	return c.doRequest(ctx, http.MethodDelete, "/profiles", "", body, nil)
}

// GetHistory fetches the provider-side post history for a workspace
// profile, most recent first.
func (c *Client) GetHistory(ctx context.Context, profileKey string, lastDays int) ([]HistoryItem, error) {
	path := "/history"
	if lastDays > 0 {
		path += "?lastDays=" + url.QueryEscape(fmt.Sprintf("%d", lastDays))
	}
	var resp historyResponse
	if err := c.doRequest(ctx, http.MethodGet, path, profileKey, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// GetAnalytics fetches per-platform analytics for a published post. The
// returned map is keyed by platform name with raw provider metric objects
// as values.
func (c *Client) GetAnalytics(ctx context.Context, profileKey, postID string) (map[string]json.RawMessage, error) {
	body := map[string]string{"id": postID}
	var raw map[string]json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, "/analytics/post", profileKey, body, &raw); err != nil {
		return nil, err
	}
	// The envelope carries non-platform keys alongside platform metrics.
	delete(raw, "status")
	delete(raw, "id")
	return raw, nil
}

// DeletePost removes a post from the provider and the connected platforms.
func (c *Client) DeletePost(ctx context.Context, profileKey, postID string) error {
	body := map[string]string{"id": postID}
	return c.doRequest(ctx, http.MethodDelete, "/post", profileKey, body, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path, profileKey string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		// Fresh reader per attempt so a retrying executor resends the
		// full body.
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		if profileKey != "" {
			req.Header.Set("Profile-Key", profileKey)
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if c.logger != nil {
			c.logger.WithFields(logging.Fields{
				"method": method,
				"path":   path,
				"status": resp.StatusCode,
			}).Warn("Ayrshare API request failed")
		}
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
