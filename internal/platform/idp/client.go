// Package idp is a client for the identity provider's backend REST API
// (Clerk-compatible): user lookup, listing and role-claim updates.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("user not found at identity provider")

// APIError is a non-2xx response from the provider.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity provider %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Retryable reports whether the same call may succeed later.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Observer receives one callback per API call.
type Observer func(op string, status int, elapsed time.Duration)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithObserver(o Observer) Option {
	return func(cl *Client) { cl.observe = o }
}

type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	observe   Observer
}

func NewClient(baseURL, secretKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		observe:   func(string, int, time.Duration) {},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetUser fetches one user. A missing user returns ErrNotFound.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.do(ctx, "get_user", http.MethodGet, "/v1/users/"+url.PathEscape(id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns one page of users ordered by the provider's default
// (creation time, newest first).
func (c *Client) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var users []User
	if err := c.do(ctx, "list_users", http.MethodGet, "/v1/users?"+q.Encode(), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateRole merges {"role": role} into the user's public metadata.
func (c *Client) UpdateRole(ctx context.Context, id, role string) error {
	body := map[string]any{"public_metadata": map[string]any{"role": role}}
	return c.do(ctx, "update_role", http.MethodPatch, "/v1/users/"+url.PathEscape(id)+"/metadata", body, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		return fmt.Errorf("identity provider %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.observe(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
