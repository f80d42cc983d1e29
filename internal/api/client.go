// Package api is the transport layer of the KRAFT client: a REST adapter for
// session and chat operations plus a persistent push channel for
// server-initiated events. It performs network I/O only — payloads are
// handed to the flow engine, never applied to shared state here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/research-kreat/kreat-agentic/internal/types"
	"github.com/research-kreat/kreat-agentic/internal/utils"
)

// Client talks to the KRAFT backend REST API.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
	logger     *utils.Logger
}

func NewClient(baseURL, userID string, httpClient *http.Client, logger *utils.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, userID: userID, httpClient: httpClient, logger: logger}
}

// UserID returns the client identity sent with block-oriented calls.
func (c *Client) UserID() string { return c.userID }

// ListSessions fetches session summaries, optionally filtered by type.
// limit <= 0 means the server default; skip pages past earlier results.
func (c *Client) ListSessions(ctx context.Context, typ string, limit, skip int) ([]types.SessionSummary, error) {
	q := url.Values{}
	if typ != "" {
		q.Set("type", typ)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	endpoint := c.baseURL + "/api/sessions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var result struct {
		Sessions []types.SessionSummary `json:"sessions"`
	}
	if err := c.getJSON(ctx, "list sessions", endpoint, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// GetSession fetches session details and its message history. Unknown ids
// yield a NotFoundError.
func (c *Client) GetSession(ctx context.Context, id string) (types.Session, []types.Message, error) {
	var result struct {
		Session  types.Session   `json:"session"`
		Messages []types.Message `json:"messages"`
	}
	endpoint := c.baseURL + "/api/sessions/" + url.PathEscape(id)
	if err := c.getJSONAllow404(ctx, "get session", endpoint, &result, "session", id); err != nil {
		return types.Session{}, nil, err
	}
	return result.Session, result.Messages, nil
}

// CreateSession creates a new session; the server assigns id and timestamps.
func (c *Client) CreateSession(ctx context.Context, typ, name string) (types.Session, error) {
	body := map[string]string{"type": typ}
	if name != "" {
		body["name"] = name
	}
	var session types.Session
	if err := c.postJSON(ctx, "create session", c.baseURL+"/api/sessions/new", body, &session); err != nil {
		return types.Session{}, err
	}
	return session, nil
}

// DeleteSession deletes a session. A 404 is treated as already deleted.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	endpoint := c.baseURL + "/api/sessions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "delete session", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: "delete session", Status: resp.StatusCode}
	}
	return nil
}

// ClearSession removes all messages from a session.
func (c *Client) ClearSession(ctx context.Context, id string) error {
	endpoint := c.baseURL + "/api/sessions/" + url.PathEscape(id) + "/clear"
	return c.postJSON(ctx, "clear session", endpoint, map[string]string{}, nil)
}

// RenameSession changes a session's display name.
func (c *Client) RenameSession(ctx context.Context, id, name string) error {
	endpoint := c.baseURL + "/api/sessions/" + url.PathEscape(id) + "/rename"
	return c.postJSON(ctx, "rename session", endpoint, map[string]string{"name": name}, nil)
}

// MessagesAfter fetches messages past a history position, used to catch up
// after the client regains focus.
func (c *Client) MessagesAfter(ctx context.Context, id string, after int) ([]types.Message, error) {
	endpoint := fmt.Sprintf("%s/api/sessions/%s/messages?after=%d", c.baseURL, url.PathEscape(id), after)
	var result struct {
		Messages []types.Message `json:"messages"`
	}
	if err := c.getJSON(ctx, "get messages", endpoint, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// Heartbeat notifies the server the session is still active. Fire and
// forget: errors are logged, never returned.
func (c *Client) Heartbeat(ctx context.Context, id, lastActive string) {
	endpoint := c.baseURL + "/api/sessions/" + url.PathEscape(id) + "/heartbeat"
	if err := c.postJSON(ctx, "heartbeat", endpoint, map[string]string{"last_active": lastActive}, nil); err != nil {
		c.logger.Debugf("heartbeat failed: %v", err)
	}
}

// SendChat posts a chat message and waits for the complete response.
func (c *Client) SendChat(ctx context.Context, sessionID, message string) (types.ChatResult, error) {
	body := map[string]string{"message": message, "session_id": sessionID}
	var result types.ChatResult
	if err := c.postJSON(ctx, "send chat", c.baseURL+"/api/chat", body, &result); err != nil {
		return types.ChatResult{}, err
	}
	return result, nil
}

// AnalyzeBlock runs one turn of block analysis. An empty blockID marks the
// first turn: the server classifies the input and assigns block id and type.
func (c *Client) AnalyzeBlock(ctx context.Context, blockID, message string) (types.AnalysisResult, error) {
	body := map[string]string{"user_id": c.userID, "message": message}
	if blockID != "" {
		body["block_id"] = blockID
	}
	var result types.AnalysisResult
	if err := c.postJSON(ctx, "analyze block", c.baseURL+"/api/analysis_of_block", body, &result); err != nil {
		return types.AnalysisResult{}, err
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	return c.getJSONAllow404(ctx, op, endpoint, out, "", "")
}

// getJSONAllow404 performs a GET; when notFoundKind is non-empty, a 404 is
// converted into a NotFoundError instead of a NetworkError.
func (c *Client) getJSONAllow404(ctx context.Context, op, endpoint string, out any, notFoundKind, notFoundID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && notFoundKind != "" {
		return &NotFoundError{Kind: notFoundKind, ID: notFoundID}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: op, Status: resp.StatusCode}
	}
	return decodeJSON(resp.Body, out, op)
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &NotFoundError{Kind: op, ID: ""}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: op, Status: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeJSON(resp.Body, out, op)
}

func decodeJSON(r io.Reader, out any, op string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", op, err)
	}
	return nil
}
