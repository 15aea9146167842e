package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var _ Gateway = (*Client)(nil)

// Client talks to the identity provider over its REST surface.
type Client struct {
	base         string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
}

// ClientOption configures Client behavior.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPollInterval overrides the auth-event poll cadence.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewClient creates a provider client with sensible defaults.
func NewClient(base, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		base:         base,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pollInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSession asks the provider for the current live session.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/session", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var session Session
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			return nil, fmt.Errorf("%w: decode session: %v", ErrUnavailable, err)
		}
		return &session, nil
	case http.StatusNoContent, http.StatusNotFound, http.StatusUnauthorized:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

// RefreshSession exchanges the refresh token for a new token triple.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (Token, error) {
	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/session/refresh", body)
	if err != nil {
		return Token{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("%w: refresh status %d", ErrUnavailable, resp.StatusCode)
	}
	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return Token{}, fmt.Errorf("%w: decode token: %v", ErrUnavailable, err)
	}
	if !token.Valid() {
		return Token{}, fmt.Errorf("%w: incomplete token", ErrUnavailable)
	}
	return token, nil
}

// SignOut terminates the provider-side session.
func (c *Client) SignOut(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/session/signout", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: signout status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// SubscribeAuthEvents polls the provider's event feed and fans events into
// the returned channel. The channel is closed when the context ends.
func (c *Client) SubscribeAuthEvents(ctx context.Context) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		var cursor uint64
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				events, next, err := c.fetchEvents(ctx, cursor)
				if err != nil {
					continue
				}
				cursor = next
				for _, evt := range events {
					select {
					case out <- evt:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

func (c *Client) fetchEvents(ctx context.Context, after uint64) ([]Event, uint64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/session/events?after="+strconv.FormatUint(after, 10), nil)
	if err != nil {
		return nil, after, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, after, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, after, fmt.Errorf("%w: events status %d", ErrUnavailable, resp.StatusCode)
	}
	var payload struct {
		Events []Event `json:"events"`
		Next   uint64  `json:"next"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, after, fmt.Errorf("%w: decode events: %v", ErrUnavailable, err)
	}
	return payload.Events, payload.Next, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}
