package data

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// WebhookClient posts protection events (IP blocks, breaker transitions)
// to an operator-configured endpoint. An empty URL disables delivery and
// events are only logged.
type WebhookClient struct {
	url     string
	hc      *http.Client
	logger  *log.Helper
	timeout time.Duration
}

// webhookPayload is the wire shape of one delivered event.
type webhookPayload struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Details   map[string]interface{} `json:"details"`
}

// NewWebhookClient creates a webhook client for url. url may be empty.
func NewWebhookClient(url string, timeout time.Duration, logger log.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookClient{
		url:     url,
		hc:      &http.Client{Timeout: timeout},
		logger:  log.NewHelper(logger),
		timeout: timeout,
	}
}

// Notify delivers one event asynchronously. Delivery is best effort:
// failures are logged and never propagate to the protection path.
func (c *WebhookClient) Notify(eventType string, details map[string]interface{}) {
	if c.url == "" {
		c.logger.Debugw("msg", "webhook disabled, event not delivered", "event", eventType)
		return
	}

	payload := webhookPayload{
		Event:     eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   details,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Errorw("msg", "failed to marshal webhook payload", "event", eventType, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			c.logger.Errorw("msg", "failed to build webhook request", "event", eventType, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			c.logger.Warnw("msg", "webhook delivery failed", "event", eventType, "error", err)
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			c.logger.Warnw("msg", "webhook endpoint rejected event", "event", eventType, "status", resp.StatusCode)
		}
	}()
}
