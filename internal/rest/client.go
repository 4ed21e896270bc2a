// Package rest is the authenticated gateway to the portal backend. Every
// messaging operation in the core goes through it: conversation listing,
// counterpart suggestion, history fetch, sends and unread counts.
package rest

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

	"github.com/kariuki-john/remas-mobile/internal/identity"
	"go.uber.org/zap"
)

// Client talks to the portal REST API with a bearer token.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  identity.TokenSource
	logger  *zap.Logger
}

// NewClient creates a gateway against baseURL. The token source is consulted
// per request so a re-login is picked up without rebuilding the client.
func NewClient(baseURL string, tokens identity.TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		logger:  logger,
	}
}

// envelope is the backend's usual response wrapper. Some endpoints return
// bare values instead; decode handles both.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return decode(raw, out)
}

// decode unwraps an enveloped payload into out, falling back to a direct
// decode for endpoints that return bare values. An empty body decodes to
// the zero value: the backend answers some listings with no body at all.
func decode(raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err == nil {
			return nil
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListConversations fetches the logged-in user's conversations, most
// recent first (server-determined order). An empty list is a valid result.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.do(ctx, http.MethodGet, "/messages/get-all/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// SuggestUsers returns candidate counterparts matching an email fragment.
// Callers are responsible for debouncing; an empty fragment is rejected
// here as a second line of defense against request storms.
func (c *Client) SuggestUsers(ctx context.Context, fragment string) ([]Candidate, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, fmt.Errorf("empty suggestion fragment")
	}
	var cands []Candidate
	path := "/user/all/suggest-user?email=" + url.QueryEscape(fragment)
	if err := c.do(ctx, http.MethodGet, path, nil, &cands); err != nil {
		return nil, err
	}
	return cands, nil
}

// ConversationMessages fetches the full history of one conversation.
// Return order is NOT guaranteed sorted; callers must re-sort.
func (c *Client) ConversationMessages(ctx context.Context, conversationID ID) ([]Message, error) {
	var msgs []Message
	path := "/messages/conversation-messages/" + url.PathEscape(string(conversationID))
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type sendRequest struct {
	Message         string `json:"message"`
	TargetUserEmail string `json:"targetUserEmail"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// SendMessage posts a message to the counterpart and returns the server's
// echoed record with its assigned id. clientID is a client-generated
// correlation id; servers that echo it make reconciliation exact.
func (c *Client) SendMessage(ctx context.Context, body, targetEmail, clientID string) (Message, error) {
	var msg Message
	req := sendRequest{Message: body, TargetUserEmail: targetEmail, ClientMessageID: clientID}
	if err := c.do(ctx, http.MethodPost, "/messages/send", req, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

type pageRequest struct {
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
}

// unreadResponse tolerates both shapes the backend has shipped: a page
// whose content length is the count, or an explicit count field.
type unreadResponse struct {
	Content []json.RawMessage `json:"content"`
	Count   *int              `json:"count"`
}

// UnreadCount returns the number of unread notifications/messages for the
// badge. The page size caps how far the client counts; the badge display
// clamps anyway.
func (c *Client) UnreadCount(ctx context.Context, pageNumber, pageSize int) (int, error) {
	var resp unreadResponse
	req := pageRequest{PageNumber: pageNumber, PageSize: pageSize}
	if err := c.do(ctx, http.MethodPost, "/bills-notifications/all-unread-notifications", req, &resp); err != nil {
		return 0, err
	}
	if resp.Count != nil {
		return *resp.Count, nil
	}
	return len(resp.Content), nil
}

// Notifications lists notifications of the given kind.
func (c *Client) Notifications(ctx context.Context, kind NotificationKind) ([]Notification, error) {
	var path string
	switch kind {
	case NotificationsBill:
		path = "/bills-notifications/display-notifications"
	case NotificationsGeneral:
		path = "/bills-notifications/all-notifications"
	default:
		path = "/bills-notifications/all-unread-notifications"
	}
	var notes []Notification
	if err := c.do(ctx, http.MethodGet, path, nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates and returns the session token. The password is
// obfuscation-encoded the way the mobile client does before posting; this
// is transport obfuscation, not encryption.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	req := loginRequest{Email: email, Password: EncodePassword(password)}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/user/all/login", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login succeeded but no token in response")
	}
	return resp.Token, nil
}
