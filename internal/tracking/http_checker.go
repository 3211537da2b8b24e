package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPStatusChecker queries the customs office API for declaration status.
type HTTPStatusChecker struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPStatusChecker creates a checker against the given API base URL.
func NewHTTPStatusChecker(baseURL string, log zerolog.Logger) *HTTPStatusChecker {
	return &HTTPStatusChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "clearance_api").Logger(),
	}
}

// CheckStatus fetches the current status for one declaration reference.
func (c *HTTPStatusChecker) CheckStatus(ctx context.Context, reference string) (string, error) {
	endpoint := fmt.Sprintf("%s/declarations/%s/status", c.baseURL, url.PathEscape(reference))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status API returned %d for %s", resp.StatusCode, reference)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}

	status := strings.ToLower(strings.TrimSpace(result.Status))
	switch status {
	case StatusPending, StatusUnderControl, StatusCleared:
		return status, nil
	default:
		return "", fmt.Errorf("unknown status %q for %s", result.Status, reference)
	}
}
