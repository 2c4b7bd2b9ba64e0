package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

const userAgent = "interviewd/1.0"

// WebhookClient posts JSON payloads to configured URLs.
type WebhookClient struct {
	client *http.Client
}

// NewWebhookClient creates a client whose requests time out after timeout.
func NewWebhookClient(timeout time.Duration) *WebhookClient {
	return &WebhookClient{client: &http.Client{Timeout: timeout}}
}

// PostWebhook sends payload once. Only 200, 201 and 202 count as delivered.
func (c *WebhookClient) PostWebhook(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", domain.ErrNotification, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", domain.ErrNotification, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post webhook: %w", domain.ErrNotification, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	default:
		return fmt.Errorf("%w: webhook returned %d", domain.ErrNotification, resp.StatusCode)
	}
}
