package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inference-ops-service/pkg/models"
)

// Client is a thin REST implementation of Gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) GetEndpoint(ctx context.Context, id string) (*models.EndpointState, error) {
	var endpoint models.EndpointState
	if err := c.do(ctx, http.MethodGet, "/endpoints/"+id, nil, &endpoint); err != nil {
		return nil, fmt.Errorf("failed to get endpoint %s: %w", id, err)
	}
	return &endpoint, nil
}

func (c *Client) GetEndpointMetrics(ctx context.Context, id string) (*models.EndpointMetrics, error) {
	var metrics models.EndpointMetrics
	if err := c.do(ctx, http.MethodGet, "/endpoints/"+id+"/metrics", nil, &metrics); err != nil {
		return nil, fmt.Errorf("failed to get metrics for endpoint %s: %w", id, err)
	}
	if metrics.Timestamp.IsZero() {
		metrics.Timestamp = time.Now()
	}
	return &metrics, nil
}

func (c *Client) GetEndpointHealth(ctx context.Context, id string) (*models.EndpointHealth, error) {
	var health models.EndpointHealth
	if err := c.do(ctx, http.MethodGet, "/endpoints/"+id+"/health", nil, &health); err != nil {
		return nil, fmt.Errorf("failed to get health for endpoint %s: %w", id, err)
	}
	return &health, nil
}

func (c *Client) UpdateEndpoint(ctx context.Context, id string, update models.EndpointUpdate) error {
	if err := c.do(ctx, http.MethodPatch, "/endpoints/"+id, update, nil); err != nil {
		return fmt.Errorf("failed to update endpoint %s: %w", id, err)
	}
	return nil
}

func (c *Client) RestartEndpoint(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/endpoints/"+id+"/restart", nil, nil); err != nil {
		return fmt.Errorf("failed to restart endpoint %s: %w", id, err)
	}
	return nil
}

func (c *Client) ListEndpoints(ctx context.Context) ([]models.EndpointState, error) {
	var endpoints []models.EndpointState
	if err := c.do(ctx, http.MethodGet, "/endpoints", nil, &endpoints); err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return endpoints, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
