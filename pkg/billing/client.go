// Package billing wraps the payment-service HTTP API used to create
// checkout sessions after a saga completes.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nqluong/appointment-microservice-sub001/pkg/backoff"
	pkgerrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

var errBaseURLRequired = errors.New("billing service base url is required")

// Client calls the payment service.
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

// NewClient builds the billing client for the given base URL.
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

// PaymentSessionRequest describes the checkout session to create.
type PaymentSessionRequest struct {
	AppointmentID uuid.UUID       `json:"appointmentId"`
	PatientID     uuid.UUID       `json:"patientId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
}

// PaymentSession holds the hosted checkout URL returned by the payment service.
type PaymentSession struct {
	SessionID  string `json:"sessionId"`
	PaymentURL string `json:"paymentUrl"`
}

// CreatePaymentSession creates a hosted checkout session for the appointment.
func (c *Client) CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (*PaymentSession, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing client not configured")
	}
	if req.AppointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "appointment ID is required")
	}
	if req.PatientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patient ID is required")
	}
	if req.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}

	endpoint := fmt.Sprintf("%s/api/v1/payments/sessions", c.baseURL)
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal payment session request")
	}

	var session PaymentSession
	err = backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.postJSON(ctx, endpoint, payload, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build billing request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute billing request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeValidation, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "billing request rejected")
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "billing request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode billing response")
	}
	return nil
}
