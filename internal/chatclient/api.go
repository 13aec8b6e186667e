package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/supportdesk/internal/chaterr"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
)

// API is the request/response collaborator the session consumes.
type API interface {
	ListConversations(ctx context.Context, f model.ListFilter) ([]model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.ConversationDetail, error)
	CreateConversation(ctx context.Context, subject, firstMessage string) (*model.Conversation, error)
	SendMessage(ctx context.Context, conversationID, text string) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID string) (int64, error)
	UnreadCount(ctx context.Context) (int, error)
}

// HTTPClient talks to the server's REST endpoints with a bearer token.
type HTTPClient struct {
	base         string
	token        string
	historyLimit int
	http         *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration, historyLimit int) *HTTPClient {
	return &HTTPClient{
		base:         strings.TrimSuffix(baseURL, "/"),
		token:        token,
		historyLimit: historyLimit,
		http:         &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Error          string `json:"error"`
	ConversationID string `json:"conversationId"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	defer logger.DeferLogDuration("api."+method+" "+path, time.Now())()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &chaterr.TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e apiError
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return statusError(resp.StatusCode, path, e)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

func statusError(status int, path string, e apiError) error {
	switch {
	case status == http.StatusUnauthorized:
		return &chaterr.AuthError{Reason: e.Error}
	case status == http.StatusConflict && e.ConversationID != "":
		return &chaterr.ConflictError{ExistingID: e.ConversationID}
	case status == http.StatusConflict || status == http.StatusForbidden || status == http.StatusNotFound:
		return &chaterr.RejectedError{Reason: e.Error}
	case status == http.StatusBadRequest:
		return &chaterr.ValidationError{Field: "request", Reason: e.Error}
	case status >= 500:
		return &chaterr.TransientError{Op: path, Err: fmt.Errorf("status %d: %s", status, e.Error)}
	default:
		return fmt.Errorf("api: %s: status %d: %s", path, status, e.Error)
	}
}

func (c *HTTPClient) ListConversations(ctx context.Context, f model.ListFilter) ([]model.Conversation, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/api/conversations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []model.Conversation
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetConversation(ctx context.Context, id string) (*model.ConversationDetail, error) {
	path := "/api/conversations/" + url.PathEscape(id)
	if c.historyLimit > 0 {
		path += "?limit=" + strconv.Itoa(c.historyLimit)
	}
	var out model.ConversationDetail
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateConversation(ctx context.Context, subject, firstMessage string) (*model.Conversation, error) {
	body := map[string]string{"subject": subject, "message": firstMessage}
	var out model.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage is the REST fallback of the relay.
func (c *HTTPClient) SendMessage(ctx context.Context, conversationID, text string) (*model.Message, error) {
	var out model.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"message": text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	var out struct {
		Marked int64 `json:"marked"`
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Marked, nil
}

func (c *HTTPClient) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *HTTPClient) Me(ctx context.Context) (*model.Identity, error) {
	var out model.Identity
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
