/**
 * @description
 * This package provides a client for the upstream SMM fulfillment provider's
 * v2-style API. The provider speaks form-encoded POST requests with an `action`
 * field and answers with loosely-typed JSON (numeric fields arrive as strings,
 * numbers, or are missing entirely depending on the endpoint). Everything is
 * normalized here, at the boundary, so the core never branches on response shape.
 *
 * @dependencies
 * - context, encoding/json, net/http, net/url, strconv: Standard Go libraries.
 */
package smmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gainfollowers/panel-service/internal/domain"
)

// Client is a client for the provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new provider API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ProviderError represents a failed provider call: a transport error, a non-2xx
// response, an error body, or a response missing the expected fields. The order
// coordinator treats all of these identically (refund path).
type ProviderError struct {
	Detail     string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Detail)
	}
	return "provider error: " + e.Detail
}

// OrderStatus is the normalized status payload for one provider order.
type OrderStatus struct {
	StatusText string
	Remains    int64
	Charge     float64
	StartCount int64
}

// flexInt tolerates provider numeric fields arriving as JSON numbers, quoted
// strings, or null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	// Some panels send counts as floats ("3572.0").
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(v)
	return nil
}

// flexFloat is the float analogue of flexInt.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexID tolerates order ids arriving as numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	*f = flexID(strings.Trim(strings.TrimSpace(string(data)), `"`))
	return nil
}

type rawServiceEntry struct {
	Service  flexID    `json:"service"`
	Name     string    `json:"name"`
	Category string    `json:"category"`
	Rate     flexFloat `json:"rate"`
	Min      flexInt   `json:"min"`
	Max      flexInt   `json:"max"`
}

type rawAddResponse struct {
	Order   flexID `json:"order"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type rawStatusResponse struct {
	Status     string    `json:"status"`
	StatusAlt  string    `json:"Status"`
	Remains    flexInt   `json:"remains"`
	RemainsAlt flexInt   `json:"Remains"`
	Charge     flexFloat `json:"charge"`
	StartCount flexInt   `json:"start_count"`
	Error      string    `json:"error"`
	Message    string    `json:"message"`
}

// ListServices fetches the provider's service catalog.
func (c *Client) ListServices(ctx context.Context) ([]domain.ServiceCatalogEntry, error) {
	body, err := c.post(ctx, url.Values{"action": {"services"}})
	if err != nil {
		return nil, err
	}

	var raw []rawServiceEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ProviderError{Detail: "malformed services response: " + err.Error()}
	}

	entries := make([]domain.ServiceCatalogEntry, 0, len(raw))
	for _, s := range raw {
		entries = append(entries, domain.ServiceCatalogEntry{
			ServiceID:      string(s.Service),
			Name:           s.Name,
			Category:       s.Category,
			RateUSDPer1000: float64(s.Rate),
			Min:            int64(s.Min),
			Max:            int64(s.Max),
		})
	}
	return entries, nil
}

// AddOrder places an order with the provider and returns the provider order id.
func (c *Client) AddOrder(ctx context.Context, serviceID, link string, quantity int64) (string, error) {
	body, err := c.post(ctx, url.Values{
		"action":   {"add"},
		"service":  {serviceID},
		"link":     {link},
		"quantity": {strconv.FormatInt(quantity, 10)},
	})
	if err != nil {
		return "", err
	}

	var raw rawAddResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", &ProviderError{Detail: "malformed add response: " + truncate(string(body), 200)}
	}
	if raw.Order == "" {
		detail := raw.Error
		if detail == "" {
			detail = raw.Message
		}
		if detail == "" {
			detail = "order id missing in response"
		}
		return "", &ProviderError{Detail: detail}
	}
	return string(raw.Order), nil
}

// GetOrderStatus fetches the raw status of a provider order.
func (c *Client) GetOrderStatus(ctx context.Context, providerOrderID string) (*OrderStatus, error) {
	body, err := c.post(ctx, url.Values{
		"action": {"status"},
		"order":  {providerOrderID},
	})
	if err != nil {
		return nil, err
	}

	var raw rawStatusResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ProviderError{Detail: "malformed status response: " + truncate(string(body), 200)}
	}
	if raw.Error != "" {
		return nil, &ProviderError{Detail: raw.Error}
	}

	statusText := raw.Status
	if statusText == "" {
		statusText = raw.StatusAlt
	}
	remains := int64(raw.Remains)
	if remains == 0 && raw.RemainsAlt != 0 {
		remains = int64(raw.RemainsAlt)
	}

	return &OrderStatus{
		StatusText: statusText,
		Remains:    remains,
		Charge:     float64(raw.Charge),
		StartCount: int64(raw.StartCount),
	}, nil
}

// post executes one form-encoded provider call and returns the response body.
func (c *Client) post(ctx context.Context, form url.Values) ([]byte, error) {
	form.Set("key", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ProviderError{Detail: "failed to create request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Context expiry (the caller's placement/status timeout) lands here and
		// is reported like any other provider failure.
		return nil, &ProviderError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Detail: "failed to read response: " + err.Error(), StatusCode: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := extractErrorDetail(body)
		log.Printf("level=warn component=smm_client action=%s status=%d detail=%q", form.Get("action"), resp.StatusCode, detail)
		return nil, &ProviderError{Detail: detail, StatusCode: resp.StatusCode}
	}

	return body, nil
}

func extractErrorDetail(body []byte) string {
	var raw struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		if raw.Error != "" {
			return raw.Error
		}
		if raw.Message != "" {
			return raw.Message
		}
	}
	return truncate(string(body), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
