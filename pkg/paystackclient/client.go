/**
 * @description
 * This package provides a client for the Paystack transaction API. The
 * panel-service uses two endpoints: transaction initialize (to hand the user a
 * checkout URL for a wallet top-up) and transaction verify (the synchronous
 * reconciliation trigger after checkout).
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paystackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Paystack API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GatewayError represents a failed gateway call.
type GatewayError struct {
	Detail     string
	StatusCode int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("paystack error (status %d): %s", e.StatusCode, e.Detail)
}

// InitializeRequest is the payload for transaction initialize.
type InitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"` // in kobo
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
}

// InitializeResult carries the checkout handoff returned by the gateway.
type InitializeResult struct {
	AuthorizationURL string
	Reference        string
}

// VerifyResult is the normalized verify response for one payment reference.
type VerifyResult struct {
	Status    string
	Amount    int64 // in kobo
	Reference string
	UserID    string
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
		Metadata  struct {
			UserID string `json:"user_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// InitializeTransaction asks the gateway for a checkout URL.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initialize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/transaction/initialize", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create initialize request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	respBody, status, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp initializeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &GatewayError{Detail: "malformed initialize response", StatusCode: status}
	}
	if status < 200 || status >= 300 || resp.Data.AuthorizationURL == "" {
		log.Printf("level=warn component=paystack_client op=initialize status=%d msg=%q", status, resp.Message)
		return nil, &GatewayError{Detail: resp.Message, StatusCode: status}
	}

	return &InitializeResult{
		AuthorizationURL: resp.Data.AuthorizationURL,
		Reference:        resp.Data.Reference,
	}, nil
}

// VerifyTransaction fetches the gateway's view of one payment reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET",
		c.BaseURL+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.SecretKey)

	respBody, status, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp verifyResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &GatewayError{Detail: "malformed verify response", StatusCode: status}
	}
	if status < 200 || status >= 300 || resp.Data == nil {
		log.Printf("level=warn component=paystack_client op=verify reference=%s status=%d msg=%q", reference, status, resp.Message)
		return nil, &GatewayError{Detail: resp.Message, StatusCode: status}
	}

	return &VerifyResult{
		Status:    resp.Data.Status,
		Amount:    resp.Data.Amount,
		Reference: resp.Data.Reference,
		UserID:    resp.Data.Metadata.UserID,
	}, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, &GatewayError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &GatewayError{Detail: "failed to read response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	return body, resp.StatusCode, nil
}
