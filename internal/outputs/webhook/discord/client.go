package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bakkerme/dealwatch/internal/outputs/webhook"
)

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 512

// Discord allows roughly five webhook calls per two seconds.
const (
	defaultRate  = rate.Limit(2.5)
	defaultBurst = 5
)

// Client posts payloads to a single webhook URL.
type Client struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

func NewClient(url string, timeout time.Duration) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, webhook.ErrEmptyURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(defaultRate, defaultBurst),
	}, nil
}

// SetRateLimit replaces the outgoing rate limit. A zero limit disables it.
func (c *Client) SetRateLimit(limit rate.Limit, burst int) {
	if limit <= 0 {
		c.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(limit, burst)
}

func (c *Client) Post(ctx context.Context, payload webhook.Payload) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for webhook rate limit: %w", err)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &webhook.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
