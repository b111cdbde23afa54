// Package slack holds the outbound Web API client and the inbound request
// verifier for the chat surface.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"liaison/internal/shared/logger"
)

const (
	defaultAPIBaseURL = "https://slack.com/api"
	httpTimeout       = 15 * time.Second
)

// Client posts messages through the Slack Web API and slash-command
// response URLs.
type Client struct {
	apiBaseURL string
	botToken   string
	httpClient *http.Client
	logger     logger.Interface
}

// NewClient creates a Web API client with the bot token.
func NewClient(botToken string, log logger.Interface) *Client {
	return &Client{
		apiBaseURL: defaultAPIBaseURL,
		botToken:   botToken,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     log.Named("slack.client"),
	}
}

// PostMessage sends a mrkdwn message to a channel or DM via
// chat.postMessage.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	payload := map[string]any{
		"channel": channel,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("chat.postMessage failed: %s", result.Error)
	}
	return nil
}

// Respond delivers a delayed slash-command reply through its response_url.
// Ephemeral responses are visible only to the invoking user.
func (c *Client) Respond(ctx context.Context, responseURL, text string, ephemeral bool) error {
	responseType := "in_channel"
	if ephemeral {
		responseType = "ephemeral"
	}
	body, err := json.Marshal(map[string]string{
		"response_type": responseType,
		"text":          text,
	})
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("response url status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
