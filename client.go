// Package chatsync is a client-side chat synchronization engine.
//
// It keeps a locally consistent view of one user's conversations and
// messages by folding remote fetches, optimistic local mutations and
// realtime pushes into a single serialized state machine.
//
// Example:
//
//	client := chatsync.NewClient(token, chatsync.WithBaseURL("https://chat.example.com"))
//	rt := chatsync.NewRealtimeClient("https://chat.example.com", &chatsync.RealtimeConfig{Token: token})
//	sess, _ := chatsync.Open(ctx, &chatsync.SessionConfig{UserID: me, Remote: client, Transport: rt})
//	defer sess.Close()
//
//	sess.Coordinator().LoadConversations(ctx)
//	sess.Coordinator().SendMessage(ctx, convID, &chatsync.SendMessageParams{Type: chatsync.ContentText, Content: "hi"})
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:3000"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP implementation of RemoteStore.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ RemoteStore = (*Client)(nil)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new chat API client authenticated with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

// Result is the response envelope of every chat API call.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided value.
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.logger.Debug("chat api request",
		"method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// do performs a request and unwraps the envelope. Non-ok responses become
// *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any, query url.Values) (*Result, error) {
	data, status, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[Result](data)
	if err != nil {
		if status >= 400 {
			return nil, &APIError{Code: "HTTP_ERROR", Message: http.StatusText(status), Status: status}
		}
		return nil, err
	}
	if !res.OK || status >= 400 {
		apiErr := res.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "HTTP_ERROR", Message: http.StatusText(status)}
		}
		apiErr.Status = status
		return nil, apiErr
	}
	return res, nil
}

// call performs a request and decodes its data into a T.
func call[T any](ctx context.Context, c *Client, method, path string, body any, query url.Values) (*T, error) {
	res, err := c.do(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	var out T
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return &out, nil
}

func conversationPath(id string, rest ...string) string {
	p := "/api/chat/conversations/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func messagePath(conversationID, messageID string, rest ...string) string {
	return conversationPath(conversationID, append([]string{"messages", url.PathEscape(messageID)}, rest...)...)
}

func limitQuery(q url.Values, limit int) url.Values {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// ============================================================================
// Conversations
// ============================================================================

func (c *Client) ListConversations(ctx context.Context, opts *PageOptions) (*ConversationPage, error) {
	q := url.Values{}
	if opts != nil {
		limitQuery(q, opts.Limit)
		if opts.Cursor != "" {
			q.Set("cursor", opts.Cursor)
		}
	}
	return call[ConversationPage](ctx, c, http.MethodGet, "/api/chat/conversations", nil, q)
}

func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	return call[Conversation](ctx, c, http.MethodGet, conversationPath(conversationID), nil, nil)
}

func (c *Client) CreateConversation(ctx context.Context, params *CreateConversationParams) (*Conversation, error) {
	return call[Conversation](ctx, c, http.MethodPost, "/api/chat/conversations", params, nil)
}

func (c *Client) UpdateConversation(ctx context.Context, conversationID string, params *UpdateConversationParams) (*Conversation, error) {
	return call[Conversation](ctx, c, http.MethodPatch, conversationPath(conversationID), params, nil)
}

func (c *Client) ArchiveConversation(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "archive"), nil, nil)
	return err
}

func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "leave"), nil, nil)
	return err
}

func (c *Client) AddParticipant(ctx context.Context, conversationID string, params *AddParticipantParams) (*Conversation, error) {
	return call[Conversation](ctx, c, http.MethodPost, conversationPath(conversationID, "participants"), params, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	return call[Conversation](ctx, c, http.MethodDelete,
		conversationPath(conversationID, "participants", url.PathEscape(userID)), nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "read"), nil, nil)
	return err
}

// ============================================================================
// Messages
// ============================================================================

func (c *Client) ListMessages(ctx context.Context, conversationID string, opts *MessagePageOptions) (*MessagePage, error) {
	q := url.Values{}
	if opts != nil {
		limitQuery(q, opts.Limit)
		if opts.Before != "" {
			q.Set("before", opts.Before)
		}
	}
	return call[MessagePage](ctx, c, http.MethodGet, conversationPath(conversationID, "messages"), nil, q)
}

func (c *Client) SendMessage(ctx context.Context, conversationID string, params *SendMessageParams) (*Message, error) {
	return call[Message](ctx, c, http.MethodPost, conversationPath(conversationID, "messages"), params, nil)
}

func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, content string) (*Message, error) {
	body := map[string]string{"content": content}
	return call[Message](ctx, c, http.MethodPatch, messagePath(conversationID, messageID), body, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	_, err := c.do(ctx, http.MethodDelete, messagePath(conversationID, messageID), nil, nil)
	return err
}

func (c *Client) ToggleReaction(ctx context.Context, conversationID, messageID, emoji string) ([]Reaction, error) {
	body := map[string]string{"emoji": emoji}
	out, err := call[struct {
		Reactions []Reaction `json:"reactions"`
	}](ctx, c, http.MethodPost, messagePath(conversationID, messageID, "reactions"), body, nil)
	if err != nil {
		return nil, err
	}
	return out.Reactions, nil
}

func (c *Client) TogglePin(ctx context.Context, conversationID, messageID string) (bool, error) {
	out, err := call[struct {
		Pinned bool `json:"pinned"`
	}](ctx, c, http.MethodPost, messagePath(conversationID, messageID, "pin"), nil, nil)
	if err != nil {
		return false, err
	}
	return out.Pinned, nil
}

func (c *Client) ForwardMessage(ctx context.Context, messageID, targetConversationID string) (*Message, error) {
	body := map[string]string{"conversationId": targetConversationID}
	return call[Message](ctx, c, http.MethodPost,
		"/api/chat/messages/"+url.PathEscape(messageID)+"/forward", body, nil)
}

func (c *Client) SearchMessages(ctx context.Context, params *SearchParams) ([]Message, error) {
	q := url.Values{}
	q.Set("q", params.Query)
	if params.ConversationID != "" {
		q.Set("conversationId", params.ConversationID)
	}
	limitQuery(q, params.Limit)
	out, err := call[struct {
		Messages []Message `json:"messages"`
	}](ctx, c, http.MethodGet, "/api/chat/messages/search", nil, q)
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// ============================================================================
// Presence
// ============================================================================

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	out, err := call[struct {
		UserIDs []string `json:"userIds"`
	}](ctx, c, http.MethodGet, "/api/chat/presence", nil, nil)
	if err != nil {
		return nil, err
	}
	return out.UserIDs, nil
}
