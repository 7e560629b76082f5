// Package firewall talks to the external firewall control plane used for
// automated mitigation. The control plane is optional: an unconfigured
// deployment gets the Nop client and every mitigation degrades to a
// logged no-op.
package firewall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is the mitigation control plane surface consumed by the
// response orchestrator.
type Client interface {
	// Configured reports whether a real control plane is wired. Unconfigured
	// clients cause block/rate-limit actions to be skipped, not failed.
	Configured() bool

	// BlockIdentities blocks the given identities for the duration and
	// returns those accepted by the control plane. Blocking an already
	// blocked identity is a no-op, not an error.
	BlockIdentities(ctx context.Context, identities []string, duration time.Duration) ([]string, error)

	// ApplyTemporaryRateLimit tightens the global rate limit for the duration.
	ApplyTemporaryRateLimit(ctx context.Context, duration time.Duration) error
}

// HTTPClient drives a control plane over its HTTP admin API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a control plane client against baseURL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPClient) Configured() bool { return true }

// BlockIdentities posts the block list. The control plane treats repeat
// blocks as no-ops, so the call is safe to retry after an interruption.
func (c *HTTPClient) BlockIdentities(ctx context.Context, identities []string, duration time.Duration) ([]string, error) {
	if len(identities) == 0 {
		return nil, nil
	}

	payload := struct {
		Identities      []string `json:"identities"`
		DurationSeconds int      `json:"duration_seconds"`
	}{
		Identities:      identities,
		DurationSeconds: int(duration.Seconds()),
	}

	var result struct {
		Blocked []string `json:"blocked"`
	}
	if err := c.post(ctx, "/v1/blocks", payload, &result); err != nil {
		return nil, fmt.Errorf("failed to block identities: %w", err)
	}
	return result.Blocked, nil
}

// ApplyTemporaryRateLimit posts a global rate limit tightening.
func (c *HTTPClient) ApplyTemporaryRateLimit(ctx context.Context, duration time.Duration) error {
	payload := struct {
		DurationSeconds int `json:"duration_seconds"`
	}{
		DurationSeconds: int(duration.Seconds()),
	}
	if err := c.post(ctx, "/v1/rate-limit", payload, nil); err != nil {
		return fmt.Errorf("failed to apply rate limit: %w", err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// NopClient is the unconfigured control plane.
type NopClient struct{}

func (NopClient) Configured() bool { return false }

func (NopClient) BlockIdentities(context.Context, []string, time.Duration) ([]string, error) {
	return nil, nil
}

func (NopClient) ApplyTemporaryRateLimit(context.Context, time.Duration) error {
	return nil
}
