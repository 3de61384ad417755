package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookClient posts JSON documents to an external endpoint.
type WebhookClient struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookClient returns client wrapper. An empty url disables it.
func NewWebhookClient(url string, timeout time.Duration, logger *zap.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Enabled reports whether a url is configured.
func (c *WebhookClient) Enabled() bool {
	return c.url != ""
}

// Post sends body as JSON. Non-2xx answers are errors.
func (c *WebhookClient) Post(ctx context.Context, body interface{}) error {
	if c.url == "" {
		c.logger.Debug("webhook client disabled, skipping post")
		return nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("webhook request failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("webhook returned non-success", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("clients: webhook returned %d", resp.StatusCode)
	}
	return nil
}
