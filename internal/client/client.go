// Package client triggers bot actions through the plugin's REST routes.
//
// Every action that produces a streamed reply returns as soon as the plugin accepts it;
// the reply itself arrives as post updates on the event source.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 30 * time.Second

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.URL, e.StatusCode)
}

// SummarizeResult identifies the post created for a summary.
type SummarizeResult struct {
	PostID    string `json:"postid"`
	ChannelID string `json:"channelid"`
}

// ChannelSummaryRequest is the body of a summarize-since request.
type ChannelSummaryRequest struct {
	Since        int64  `json:"since"`
	PresetPrompt string `json:"preset_prompt"`
}

// Thread is one conversation the user had with a bot.
type Thread struct {
	ID         string `json:"ID"`
	Message    string `json:"Message"`
	ChannelID  string `json:"ChannelID"`
	Title      string `json:"Title"`
	ReplyCount int    `json:"ReplyCount"`
	UpdateAt   int64  `json:"UpdateAt"`
}

// Client calls the plugin REST routes as a platform user.
type Client struct {
	baseURL    string
	token      string
	userID     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithToken authenticates requests with a platform access token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithUserID sets the acting user header, for calls made from inside the platform's network.
func WithUserID(userID string) Option {
	return func(c *Client) {
		c.userID = userID
	}
}

// New creates a client for the plugin rooted at pluginURL, e.g. https://chat.example.com/plugins/mattermost-ai.
func New(pluginURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(pluginURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// React asks the bot to add an emoji reaction to a post.
func (c *Client) React(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodPost, c.postRoute(postID, "react"), nil, nil)
}

// Summarize asks the bot to summarize a thread and returns the post the summary streams into.
func (c *Client) Summarize(ctx context.Context, postID string) (*SummarizeResult, error) {
	var result SummarizeResult
	if err := c.do(ctx, http.MethodPost, c.postRoute(postID, "summarize"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Transcribe asks the bot to transcribe a recording attached to a post.
func (c *Client) Transcribe(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodPost, c.postRoute(postID, "transcribe"), nil, nil)
}

// SummarizeTranscription asks the bot to summarize a transcription post.
func (c *Client) SummarizeTranscription(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodPost, c.postRoute(postID, "summarize_transcription"), nil, nil)
}

// Stop cancels an in-progress generation. The stream then ends with a cancel control.
func (c *Client) Stop(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodPost, c.postRoute(postID, "stop"), nil, nil)
}

// Regenerate restarts generation for a bot post. Subscribers see a fresh stream.
func (c *Client) Regenerate(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodPost, c.postRoute(postID, "regenerate"), nil, nil)
}

// Feedback records a thumbs up or down on a bot post.
func (c *Client) Feedback(ctx context.Context, postID string, positive bool) error {
	kind := "negative"
	if positive {
		kind = "positive"
	}
	return c.do(ctx, http.MethodPost, c.postRoute(postID, "feedback/"+kind), nil, nil)
}

// SummarizeChannelSince asks the bot to summarize a channel's messages since a unix-millis timestamp.
// The returned string is the id of the post the summary streams into.
func (c *Client) SummarizeChannelSince(ctx context.Context, channelID string, since int64, presetPrompt string) (string, error) {
	var result struct {
		PostID string `json:"postid"`
	}
	body := ChannelSummaryRequest{Since: since, PresetPrompt: presetPrompt}
	route := c.baseURL + "/channel/" + url.PathEscape(channelID) + "/since"
	if err := c.do(ctx, http.MethodPost, route, body, &result); err != nil {
		return "", err
	}
	return result.PostID, nil
}

// AIThreads lists the acting user's bot conversations.
func (c *Client) AIThreads(ctx context.Context) ([]Thread, error) {
	var threads []Thread
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/ai_threads", nil, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

func (c *Client) postRoute(postID, action string) string {
	return c.baseURL + "/post/" + url.PathEscape(postID) + "/" + action
}

// do sends the request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, route string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, route, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		req.Header.Set("Mattermost-User-Id", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, URL: route, Message: errorMessage(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", route, err)
	}
	return nil
}

// errorMessage extracts a platform app error message, falling back to the raw body.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var appErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &appErr) == nil && appErr.Message != "" {
		return appErr.Message
	}
	return strings.TrimSpace(string(data))
}
