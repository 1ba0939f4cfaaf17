// Package provider is the client for the upstream mail provider's REST
// API, used to fetch the full content of a message when the webhook
// payload omits the body.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// FullEmail is the provider's full-content representation of a message.
type FullEmail struct {
	ID      string   `json:"id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// Client calls the provider API with bearer authentication.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetEmail fetches the full content of a received message by id.
func (c *Client) GetEmail(ctx context.Context, emailID string) (*FullEmail, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("provider API key not configured")
	}

	url := fmt.Sprintf("%s/emails/%s", c.baseURL, emailID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for email %s", resp.StatusCode, emailID)
	}

	var full FullEmail
	if err := json.NewDecoder(resp.Body).Decode(&full); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	return &full, nil
}
