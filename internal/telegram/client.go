// Package telegram registers the bot webhook with the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// ErrNotConfigured is returned when no bot token was supplied.
var ErrNotConfigured = errors.New("telegram: bot token not configured")

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Status      int
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Client wraps interactions with the Telegram Bot API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a new client. An empty baseURL selects DefaultAPIURL.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WebhookOptions are the setWebhook parameters this service uses.
type WebhookOptions struct {
	URL                string `json:"url"`
	SecretToken        string `json:"secret_token,omitempty"`
	DropPendingUpdates bool   `json:"drop_pending_updates,omitempty"`
}

// WebhookInfo is the subset of getWebhookInfo the CLI reports.
type WebhookInfo struct {
	URL                  string `json:"url" yaml:"url"`
	PendingUpdateCount   int    `json:"pending_update_count" yaml:"pending_update_count"`
	LastErrorDate        int64  `json:"last_error_date,omitempty" yaml:"last_error_date,omitempty"`
	LastErrorMessage     string `json:"last_error_message,omitempty" yaml:"last_error_message,omitempty"`
	HasCustomCertificate bool   `json:"has_custom_certificate" yaml:"has_custom_certificate"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SetWebhook points the bot at opts.URL. The URL must be absolute https.
func (c *Client) SetWebhook(ctx context.Context, opts WebhookOptions) error {
	u, err := url.Parse(opts.URL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("telegram: webhook url must be absolute https, got %q", opts.URL)
	}
	return c.call(ctx, "setWebhook", opts, nil)
}

// DeleteWebhook removes the current webhook.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": dropPending}, nil)
}

// GetWebhookInfo reports the webhook Telegram currently has on file.
func (c *Client) GetWebhookInfo(ctx context.Context) (WebhookInfo, error) {
	var info WebhookInfo
	err := c.call(ctx, "getWebhookInfo", struct{}{}, &info)
	return info, err
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	if c.token == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL embeds the token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("telegram: %s: %w", method, uerr.Err)
		}
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: %s: read response: %w", method, err)
	}
	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("telegram: %s returned status %d with undecodable body", method, resp.StatusCode)
	}
	if !decoded.OK {
		return &APIError{Method: method, Status: resp.StatusCode, Code: decoded.ErrorCode, Description: decoded.Description}
	}
	if result != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("telegram: %s: decode result: %w", method, err)
		}
	}
	return nil
}
