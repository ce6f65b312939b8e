package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrPaymentService signals the checkout provider was unreachable or
// returned a non-success status.
var ErrPaymentService = errors.New("payment: provider request failed")

// CheckoutRequest describes a one-time payment to collect. Amounts are in
// minor units; the provider never exposes card data to this service.
type CheckoutRequest struct {
	AmountCents int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

// CheckoutSession is the provider's handle for a started checkout.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// VerificationResult reports the settled state of a checkout session.
type VerificationResult struct {
	Paid        bool              `json:"paid"`
	AmountCents int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

// Client talks to the hosted checkout provider over HTTP.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckoutSession starts a hosted checkout and returns the URL the
// payer is redirected to.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if req.AmountCents <= 0 {
		return CheckoutSession{}, fmt.Errorf("payment: invalid amount %d", req.AmountCents)
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	var session CheckoutSession
	if err := c.post(ctx, "/v1/checkout/sessions", req, &session); err != nil {
		return CheckoutSession{}, err
	}
	if session.SessionID == "" || session.URL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: incomplete session response", ErrPaymentService)
	}
	return session, nil
}

// VerifySession retrieves the settled state of a session. Callers decide what
// an unpaid result means; transport and provider failures wrap ErrPaymentService.
func (c *Client) VerifySession(ctx context.Context, sessionID string) (VerificationResult, error) {
	if sessionID == "" {
		return VerificationResult{}, fmt.Errorf("payment: empty session id")
	}

	url := fmt.Sprintf("%s/v1/checkout/sessions/%s", c.baseURL, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("payment: build verify request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: %v", ErrPaymentService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return VerificationResult{}, fmt.Errorf("%w: status %d", ErrPaymentService, resp.StatusCode)
	}

	var result VerificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return VerificationResult{}, fmt.Errorf("payment: decode verify response: %w", err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("payment: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("payment: build request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrPaymentService, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payment: decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
	}
}
