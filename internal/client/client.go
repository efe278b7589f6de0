// Package client talks to a running messengerd over its Unix socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/messenger/internal/api"
	"github.com/matheus3301/messenger/internal/auth"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/session"
)

const (
	httpBase = "http://messengerd"
	wsBase   = "ws://messengerd"
)

// StatusError is a non-success answer from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon: %s (%d)", e.Message, e.Code)
}

// Unwrap maps 401 onto session.ErrNotAuthenticated.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return session.ErrNotAuthenticated
	}
	return nil
}

// IsPartial reports whether err is a write that only partly applied. The
// response returned next to it carries the per-step outcomes.
func IsPartial(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusMultiStatus
}

// Client holds the HTTP and WebSocket transports to the daemon.
type Client struct {
	http *http.Client
	ws   *websocket.Dialer
}

// New returns a client for the daemon listening on socketPath. No connection
// is made until the first call.
func New(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	return &Client{
		http: &http.Client{Transport: &http.Transport{DialContext: dial, MaxIdleConns: 4}},
		ws:   &websocket.Dialer{NetDialContext: dial, HandshakeTimeout: 10 * time.Second},
	}
}

// Close drops idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Status returns the daemon's session state.
func (c *Client) Status(ctx context.Context) (api.SessionView, error) {
	var v api.SessionView
	return v, c.doJSON(ctx, http.MethodGet, "/v1/session", nil, &v)
}

// Login completes a login with the profile an identity provider returned.
func (c *Client) Login(ctx context.Context, p auth.Profile) (api.IdentityView, error) {
	var v api.IdentityView
	return v, c.doJSON(ctx, http.MethodPost, "/v1/session/login", p, &v)
}

// Logout forgets the signed-in identity.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/session", nil, nil)
}

// Users lists the directory.
func (c *Client) Users(ctx context.Context) ([]chat.DirectoryEntry, error) {
	var v []chat.DirectoryEntry
	return v, c.doJSON(ctx, http.MethodGet, "/v1/users", nil, &v)
}

// Search returns directory entries whose name starts with term.
func (c *Client) Search(ctx context.Context, term string) ([]chat.DirectoryEntry, error) {
	var v []chat.DirectoryEntry
	return v, c.doJSON(ctx, http.MethodGet, "/v1/users/search?q="+url.QueryEscape(term), nil, &v)
}

// UserExists reports whether address is registered.
func (c *Client) UserExists(ctx context.Context, address string) (bool, error) {
	var v api.ExistsResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(address)+"/exists", nil, &v)
	return v.Exists, err
}

// ConversationWith returns the id of the conversation held with address.
func (c *Client) ConversationWith(ctx context.Context, address string) (string, error) {
	var v api.ConversationRef
	err := c.doJSON(ctx, http.MethodGet, "/v1/conversations/with/"+url.PathEscape(address), nil, &v)
	return v.ID, err
}

// CreateConversation opens a conversation with a first text message.
func (c *Client) CreateConversation(ctx context.Context, req api.CreateConversationRequest) (api.CreateConversationResponse, error) {
	var v api.CreateConversationResponse
	return v, c.doJSON(ctx, http.MethodPost, "/v1/conversations", req, &v)
}

// SendText sends a text message to conversation convID.
func (c *Client) SendText(ctx context.Context, convID string, req api.SendTextRequest) (api.SendResponse, error) {
	var v api.SendResponse
	return v, c.doJSON(ctx, http.MethodPost, conversationPath(convID, "/messages"), req, &v)
}

// SendPhoto uploads the image read from data and sends it as a photo.
func (c *Client) SendPhoto(ctx context.Context, convID, otherID, displayName string, data io.Reader) (api.SendResponse, error) {
	var v api.SendResponse
	path := conversationPath(convID, "/photos") + mediaQuery(otherID, displayName)
	return v, c.do(ctx, http.MethodPost, path, data, "application/octet-stream", &v)
}

// SendVideo streams the file at localPath and sends it as a video.
func (c *Client) SendVideo(ctx context.Context, convID, otherID, displayName, localPath string) (api.SendResponse, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return api.SendResponse{}, err
	}
	defer f.Close()
	var v api.SendResponse
	path := conversationPath(convID, "/videos") + mediaQuery(otherID, displayName)
	return v, c.do(ctx, http.MethodPost, path, f, "video/quicktime", &v)
}

// DeleteConversation removes the caller's summary of convID.
func (c *Client) DeleteConversation(ctx context.Context, convID string) (bool, error) {
	var v api.DeleteResponse
	err := c.doJSON(ctx, http.MethodDelete, conversationPath(convID, ""), nil, &v)
	return v.Removed, err
}

// Orphans reports what remains of convID beyond the caller's summary.
func (c *Client) Orphans(ctx context.Context, convID, otherID string) (chat.OrphanReport, error) {
	var v chat.OrphanReport
	path := conversationPath(convID, "/orphans") + "?other_id=" + url.QueryEscape(otherID)
	return v, c.doJSON(ctx, http.MethodGet, path, nil, &v)
}

// WatchConversations streams the caller's conversation list.
func (c *Client) WatchConversations(ctx context.Context) (*Stream[chat.Conversation], error) {
	return watch[chat.Conversation](ctx, c, "/v1/feeds/conversations")
}

// WatchMessages streams the messages of convID.
func (c *Client) WatchMessages(ctx context.Context, convID string) (*Stream[api.MessageView], error) {
	return watch[api.MessageView](ctx, c, "/v1/feeds/conversations/"+url.PathEscape(convID)+"/messages")
}

func conversationPath(convID, suffix string) string {
	return "/v1/conversations/" + url.PathEscape(convID) + suffix
}

func mediaQuery(otherID, displayName string) string {
	q := url.Values{"other_id": {otherID}}
	if displayName != "" {
		q.Set("display_name", displayName)
	}
	return "?" + q.Encode()
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, httpBase+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok && out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	if ok && resp.StatusCode != http.StatusMultiStatus {
		return nil
	}
	var e api.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		e.Error = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Code: resp.StatusCode, Message: e.Error}
}
