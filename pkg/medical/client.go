// Package medical wraps the medical-service HTTP API used to validate
// doctors during booking.
package medical

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
	"github.com/shopspring/decimal"

	"github.com/nqluong/appointment-microservice-sub001/pkg/backoff"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

var errBaseURLRequired = errors.New("medical service base url is required")

// Client calls the medical service.
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

// NewClient builds the medical client for the given base URL.
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

// DoctorStatus is the approval snapshot returned by the medical service.
type DoctorStatus struct {
	DoctorID      uuid.UUID       `json:"doctorId"`
	Approved      bool            `json:"approved"`
	FullName      string          `json:"fullName"`
	Email         string          `json:"email"`
	SpecialtyName string          `json:"specialtyName"`
	Fee           decimal.Decimal `json:"fee"`
}

// AppointmentWindow identifies a candidate appointment window for overlap checks.
type AppointmentWindow struct {
	DoctorID  uuid.UUID `json:"doctorId"`
	Date      string    `json:"date"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
}

// GetDoctorStatus fetches the approval state for the given doctor.
func (c *Client) GetDoctorStatus(ctx context.Context, doctorID uuid.UUID) (*DoctorStatus, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "medical client not configured")
	}
	if doctorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "doctor ID is required")
	}

	endpoint := fmt.Sprintf("%s/api/v1/doctors/%s/status", c.baseURL, url.PathEscape(doctorID.String()))

	var status DoctorStatus
	err := backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.getJSON(ctx, endpoint, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// HasOverlappingAppointment reports whether the doctor already has a confirmed
// appointment overlapping the given window.
func (c *Client) HasOverlappingAppointment(ctx context.Context, window AppointmentWindow) (bool, error) {
	if c == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "medical client not configured")
	}
	if window.DoctorID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "doctor ID is required")
	}

	query := url.Values{}
	query.Set("date", window.Date)
	query.Set("startTime", window.StartTime)
	query.Set("endTime", window.EndTime)
	endpoint := fmt.Sprintf(
		"%s/api/v1/doctors/%s/appointments/overlap?%s",
		c.baseURL,
		url.PathEscape(window.DoctorID.String()),
		query.Encode(),
	)

	var result struct {
		Overlap bool `json:"overlap"`
	}
	err := backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.getJSON(ctx, endpoint, &result)
	})
	if err != nil {
		return false, err
	}
	return result.Overlap, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build medical request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute medical request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, "doctor not found")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeValidation, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "medical request rejected")
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "medical request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode medical response")
	}
	return nil
}
