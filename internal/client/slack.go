// Slack client for security notifications.
//
// Environment (see internal/config):
//   - SLACK_BOT_TOKEN: Slack Bot Token (xoxb-...)
//   - SLACK_CHANNEL_ID: Slack channel ID (C...)
//
// Notifications are optional; without both values the client reports
// IsConfigured() == false and callers skip it.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

var ErrSlackNotConfigured = errors.New("slack bot token or channel ID not configured")

type SlackClient struct {
	botToken   string
	channelID  string
	endpoint   string
	httpClient *http.Client
}

type SlackMessage struct {
	Channel     string            `json:"channel"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

type SlackOption func(*SlackClient)

// WithSlackEndpoint overrides the chat.postMessage URL.
func WithSlackEndpoint(url string) SlackOption {
	return func(c *SlackClient) {
		if url != "" {
			c.endpoint = url
		}
	}
}

func WithHTTPClient(hc *http.Client) SlackOption {
	return func(c *SlackClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewSlackClient(botToken, channelID string, opts ...SlackOption) *SlackClient {
	c := &SlackClient{
		botToken:  botToken,
		channelID: channelID,
		endpoint:  slackPostMessageURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SlackClient) IsConfigured() bool {
	return c != nil && c.botToken != "" && c.channelID != ""
}

// Post sends one attachment-style message to the configured channel.
func (c *SlackClient) Post(ctx context.Context, attachment SlackAttachment) error {
	if !c.IsConfigured() {
		return ErrSlackNotConfigured
	}
	_, err := c.send(ctx, SlackMessage{
		Channel:     c.channelID,
		Attachments: []SlackAttachment{attachment},
	})
	return err
}

func (c *SlackClient) send(ctx context.Context, msg SlackMessage) (*SlackResponse, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("slack API status %d", resp.StatusCode)
	}

	var slackResp SlackResponse
	if err := json.Unmarshal(body, &slackResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !slackResp.OK {
		return nil, fmt.Errorf("slack API error: %s", slackResp.Error)
	}
	return &slackResp, nil
}
