// Package steamapi implements spec.md's §4.H component: batched Steam Web
// API profile/ban lookups and per-player friends-list lookups, plus the
// friend-graph maintenance rules that follow from them. The HTTP surface
// is plain JSON over net/http (GetPlayerSummaries, GetPlayerBans,
// GetFriendList) — a different Steam surface than the binary CM protocol
// the pack's steamapi.API wraps, so only its functional-options
// http.Client wrapper shape is reused here, not any protobuf transport.
package steamapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const baseURL = "https://api.steampowered.com"

// Client issues Steam Web API requests for a fixed API key.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

type clientConfig struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client constructed by New.
type Option func(*clientConfig) error

// WithHTTPClient overrides the http.Client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(cfg *clientConfig) error {
		if httpClient == nil {
			return errors.New("httpClient should be non-nil")
		}
		cfg.httpClient = httpClient
		return nil
	}
}

// WithBaseURL overrides the Steam Web API origin, used by tests to point
// at an httptest.Server.
func WithBaseURL(base string) Option {
	return func(cfg *clientConfig) error {
		if base == "" {
			return errors.New("baseURL should be non-empty")
		}
		cfg.baseURL = base
		return nil
	}
}

// New constructs a Client for apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	cfg := clientConfig{baseURL: baseURL}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{httpClient: cfg.httpClient, apiKey: apiKey, baseURL: cfg.baseURL}, nil
}

func (c *Client) get(path string, query url.Values, out any) error {
	query.Set("key", c.apiKey)
	query.Set("format", "json")
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())

	resp, err := c.httpClient.Get(u)
	if err != nil {
		return fmt.Errorf("steamapi: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("steamapi: %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("steamapi: decode %s response: %w", path, err)
	}
	return nil
}
