// Package headscale provides a minimal client for the Headscale REST API.
package headscale

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

	"github.com/hashicorp/go-cleanhttp"

	"github.com/lapnd/headplane/internal/config"
)

// ErrAPIKeyRequest indicates Headscale rejected or failed the API key mint.
var ErrAPIKeyRequest = errors.New("headscale API key request failed")

// apiTimeFormat is the expiration timestamp format Headscale accepts:
// UTC ISO 8601 with millisecond precision.
const apiTimeFormat = "2006-01-02T15:04:05.000Z"

// httpTimeout bounds every Headscale API call.
const httpTimeout = 15 * time.Second

// Client calls the Headscale API using the configured root API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Headscale API client from configuration.
func NewClient(cfg *config.HeadscaleConfig) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = httpTimeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

// createAPIKeyRequest is the body of POST /api/v1/apikey.
type createAPIKeyRequest struct {
	Expiration string `json:"expiration"`
}

// createAPIKeyResponse is the response of POST /api/v1/apikey.
type createAPIKeyResponse struct {
	APIKey string `json:"apiKey"`
}

// CreateAPIKey mints a new Headscale API key expiring at expiresAt. The
// expiry is sent as an absolute UTC timestamp so the key's lifetime matches
// the identity assertion it was derived from.
func (c *Client) CreateAPIKey(ctx context.Context, expiresAt time.Time) (string, error) {
	body, err := json.Marshal(createAPIKeyRequest{
		Expiration: formatExpiration(expiresAt),
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode request: %v", ErrAPIKeyRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/apikey", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPIKeyRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPIKeyRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: unexpected status %d: %s",
			ErrAPIKeyRequest, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out createAPIKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrAPIKeyRequest, err)
	}
	if out.APIKey == "" {
		return "", fmt.Errorf("%w: response contained no apiKey", ErrAPIKeyRequest)
	}

	return out.APIKey, nil
}

// formatExpiration renders an absolute timestamp in the API's wire format.
func formatExpiration(t time.Time) string {
	return t.UTC().Format(apiTimeFormat)
}
