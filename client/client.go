// Package client talks to a chat memory server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	chatmemory "github.com/toheedhamid/chat-application"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Body       chatmemory.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("chat memory server returned %d: %s: %s", e.StatusCode, e.Body.Error, e.Body.Message)
	}
	return fmt.Sprintf("chat memory server returned %d: %s", e.StatusCode, e.Body.Error)
}

// Client calls the chat memory endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	extractor  *ReplyExtractor
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithReplyExtractor replaces the extractor used by Chat.
func WithReplyExtractor(e *ReplyExtractor) Option {
	return func(cl *Client) {
		cl.extractor = e
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + chatmemory.ChatMemoryPath,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		extractor:  NewReplyExtractor(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChatReply is the result of Chat.
type ChatReply struct {
	ConversationID string
	Reply          string
	HistoryCount   int
	Warning        string
}

// Chat sends one user message. An empty conversationID lets the server
// generate one; it is returned in the reply.
func (c *Client) Chat(ctx context.Context, conversationID, message string) (ChatReply, error) {
	body, err := c.post(ctx, chatmemory.Request{
		ConversationID: conversationID,
		Message:        message,
		Action:         chatmemory.ActionChat,
	})
	if err != nil {
		return ChatReply{}, err
	}

	reply, err := c.extractor.Extract(body)
	if err != nil {
		return ChatReply{}, err
	}

	result := ChatReply{ConversationID: conversationID, Reply: reply}

	// Workflow front ends wrap the reply in other shapes; only the service's
	// own envelope carries the counters.
	var resp chatmemory.Response
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.ConversationID != "" {
			result.ConversationID = resp.ConversationID
		}
		result.HistoryCount = resp.HistoryCount
		result.Warning = resp.Warning
	}
	return result, nil
}

// History fetches the stored transcript.
func (c *Client) History(ctx context.Context, conversationID string) (chatmemory.Response, error) {
	return c.do(ctx, chatmemory.Request{ConversationID: conversationID, Action: chatmemory.ActionGet})
}

// Clear deletes the stored transcript.
func (c *Client) Clear(ctx context.Context, conversationID string) (chatmemory.Response, error) {
	return c.do(ctx, chatmemory.Request{ConversationID: conversationID, Action: chatmemory.ActionClear})
}

func (c *Client) do(ctx context.Context, req chatmemory.Request) (chatmemory.Response, error) {
	body, err := c.post(ctx, req)
	if err != nil {
		return chatmemory.Response{}, err
	}

	var resp chatmemory.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return chatmemory.Response{}, fmt.Errorf("failed to decode %s response: %w", req.Action, err)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, req chatmemory.Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat memory server: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode}
		if err := json.Unmarshal(body, &apiErr.Body); err != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}

	return body, nil
}
