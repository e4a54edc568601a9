package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/ports/adapter"
	"telegram-vpn-shop/internal/infra/metrics"
)

var _ adapter.ProvisioningClient = (*Client)(nil)

// Client talks to the VPN control-plane over its HTTP API. The remote side is
// stateless; upsert semantics per subscriber are a contract requirement on
// it, not something implemented here. No retries: retry policy belongs to
// the caller.
type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

// NewClient builds a control-plane client with a fixed per-call timeout.
func NewClient(baseURL, apiToken string, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		client:   &http.Client{Timeout: callTimeout},
	}
}

type upsertRequest struct {
	SubscriberID int64  `json:"subscriber_id"`
	ExpiresAt    string `json:"expires_at"`
	KeyHint      string `json:"key_hint,omitempty"`
}

type upsertResponse struct {
	KeyID     string `json:"key_id"`
	AccessURL string `json:"access_url"`
	Error     string `json:"error,omitempty"`
}

// AddOrUpdateUser creates or refreshes the subscriber's access record and
// returns the key material the control-plane issued.
func (c *Client) AddOrUpdateUser(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*adapter.KeyMaterial, error) {
	start := time.Now()
	km, err := c.upsert(ctx, subscriberID, expiresAt, keyHint)
	metrics.ObserveProvisionCall("upsert", time.Since(start).Milliseconds(), err == nil)
	return km, err
}

func (c *Client) upsert(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*adapter.KeyMaterial, error) {
	body, err := json.Marshal(upsertRequest{
		SubscriberID: subscriberID,
		ExpiresAt:    expiresAt.UTC().Format(time.RFC3339),
		KeyHint:      keyHint,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal upsert request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/users", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvisioning, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProvisioning, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: status %d", domain.ErrProvisioning, resp.StatusCode)
	}

	var out upsertResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProvisioning, err)
	}
	if out.Error != "" || out.KeyID == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrProvisioning, out.Error)
	}
	return &adapter.KeyMaterial{KeyID: out.KeyID, AccessURL: out.AccessURL}, nil
}

// RemoveUser drops the subscriber from the control-plane. A 404 counts as
// success: the desired state is "absent".
func (c *Client) RemoveUser(ctx context.Context, subscriberID int64) error {
	start := time.Now()
	url := fmt.Sprintf("%s/api/users/%d", c.baseURL, subscriberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	metrics.ObserveProvisionCall("remove", time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProvisioning, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: status %d", domain.ErrProvisioning, resp.StatusCode)
	}
	return nil
}

// HealthCheck reports whether the control-plane answers its ping endpoint.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ping", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
}
