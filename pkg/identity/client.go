// Package identity wraps the identity-service HTTP API used to validate
// patients during booking.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nqluong/appointment-microservice-sub001/pkg/backoff"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
)

const (
	responseBodyReadLimit int64 = 1024

	// RolePatient is the identity-service role a booking patient must hold.
	RolePatient = "PATIENT"
)

var errBaseURLRequired = errors.New("identity service base url is required")

// Client calls the identity service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retry      backoff.Policy
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryPolicy overrides the default retry schedule.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient builds the identity client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      backoff.DefaultPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return client, nil
}

// UserStatus is the subset of the identity profile booking cares about.
type UserStatus struct {
	UserID   uuid.UUID `json:"userId"`
	Active   bool      `json:"active"`
	Role     string    `json:"role"`
	FullName string    `json:"fullName"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
}

// GetUserStatus fetches the activation state and role for the given user.
// Transient failures are retried; a 404 maps to CodeNotFound.
func (c *Client) GetUserStatus(ctx context.Context, userID uuid.UUID) (*UserStatus, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "identity client not configured")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user ID is required")
	}

	endpoint := fmt.Sprintf("%s/api/v1/users/%s/status", c.baseURL, url.PathEscape(userID.String()))

	var status UserStatus
	err := backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.getJSON(ctx, endpoint, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build identity request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute identity request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeValidation, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "identity request rejected")
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "identity request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode identity response")
	}
	return nil
}
