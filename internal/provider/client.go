// Package provider implements the payment provider's REST API surface used
// by the settlement engine: the payment-split endpoint.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SplitItem is one recipient of a split: a provider wallet and a fixed
// amount in cents.
type SplitItem struct {
	WalletID        string `json:"walletId"`
	FixedValueCents int64  `json:"fixedValue"`
}

// SplitRequest asks the provider to divide a received payment between
// affiliate wallets.
type SplitRequest struct {
	ProviderPaymentID string
	Items             []SplitItem
}

// SplitResponse is the provider's acknowledgement of a split request.
type SplitResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	RawBody string `json:"-"`
}

// APIError is a non-2xx provider response. Transient errors (rate limit,
// provider-side failure) may be retried; everything else is a rejection.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the error is worth retrying
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient reports whether an error from the client may succeed on retry.
// Network-level failures are treated as transient.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return err != nil
}

// Client calls the provider's REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider API client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateSplit issues one multi-recipient split request against a received
// payment. The raw response body is preserved for the split ledger.
func (c *Client) CreateSplit(ctx context.Context, req *SplitRequest) (*SplitResponse, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("split request has no recipients")
	}

	body, err := json.Marshal(map[string]interface{}{
		"splits": req.Items,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal split request: %w", err)
	}

	url := fmt.Sprintf("%s/payments/%s/split", c.baseURL, req.ProviderPaymentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build split request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("access_token", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("split request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read split response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var splitResp SplitResponse
	if err := json.Unmarshal(respBody, &splitResp); err != nil {
		return nil, fmt.Errorf("malformed split response: %w", err)
	}
	splitResp.RawBody = string(respBody)

	return &splitResp, nil
}
