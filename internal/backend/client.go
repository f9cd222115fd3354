// Package backend is the bearer-authenticated JSON client for the
// application's HTTP API: chat identity lookup and creation, message history,
// payment requests, avatars and push token registration. Non-2xx responses
// carry a {"message"} body which is surfaced in the returned error.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sentinel errors callers branch on.
var (
	// ErrNotFound is returned when the user has no chat identity yet.
	ErrNotFound = errors.New("backend: not found")

	// ErrUsernameTaken is returned on a create-username conflict. It is a
	// recoverable validation error, not a fatal one.
	ErrUsernameTaken = errors.New("backend: username taken")
)

// UserInfo is the chat identity returned by GET /chat/user-info.
type UserInfo struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	ChatToken   string `json:"chatToken"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// HistoryMessage is one entry of a paged history response.
type HistoryMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"` // "user" or "agent"
	Body string `json:"body"`
	Ts   int64  `json:"ts"`
}

// PaymentRequest is a shareable payment link.
type PaymentRequest struct {
	ID     string `json:"id,omitempty"`
	Amount string `json:"amount,omitempty"`
	Token  string `json:"token"`
	Memo   string `json:"memo,omitempty"`
}

// Client talks to the backend API. The zero value is not usable; construct
// with NewClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// apiError is the non-2xx response body.
type apiError struct {
	Message string `json:"message"`
}

// UserInfo fetches the caller's chat identity. Returns ErrNotFound if the
// user has not created one yet.
func (c *Client) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	var info UserInfo
	err := c.do(ctx, http.MethodGet, "/chat/user-info", token, nil, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateUsername creates the chat identity. A conflict (username taken)
// returns ErrUsernameTaken.
func (c *Client) CreateUsername(ctx context.Context, token, username, displayName, walletAddress string) (*UserInfo, error) {
	body := map[string]string{
		"username":      username,
		"displayName":   displayName,
		"walletAddress": walletAddress,
	}
	var info UserInfo
	if err := c.do(ctx, http.MethodPost, "/chat/create-username", token, body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// History fetches one page of message history for the given user.
func (c *Client) History(ctx context.Context, token, userID string, pageNum, pageSize int) ([]HistoryMessage, error) {
	q := url.Values{}
	q.Set("page_num", strconv.Itoa(pageNum))
	q.Set("page_size", strconv.Itoa(pageSize))
	path := "/history/" + url.PathEscape(userID) + "?" + q.Encode()

	var msgs []HistoryMessage
	if err := c.do(ctx, http.MethodGet, path, token, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreatePaymentRequest creates a shareable payment link and returns it with
// its server-assigned ID.
func (c *Client) CreatePaymentRequest(ctx context.Context, token string, req PaymentRequest) (*PaymentRequest, error) {
	var out PaymentRequest
	if err := c.do(ctx, http.MethodPost, "/payment-requests", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePaymentRequest removes a payment link.
func (c *Client) DeletePaymentRequest(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/payment-requests/"+url.PathEscape(id), token, nil, nil)
}

// SetAvatar records the user's avatar URL after an upload completed.
func (c *Client) SetAvatar(ctx context.Context, token, avatarURL string) error {
	return c.do(ctx, http.MethodPost, "/chat/avatar", token, map[string]string{"avatarUrl": avatarURL}, nil)
}

// DeleteAvatar clears the user's avatar.
func (c *Client) DeleteAvatar(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/chat/avatar", token, nil, nil)
}

// RegisterPushToken registers a device push token for the wallet address.
func (c *Client) RegisterPushToken(ctx context.Context, token, pushToken, walletAddress string) error {
	body := map[string]string{"token": pushToken, "walletAddress": walletAddress}
	return c.do(ctx, http.MethodPost, "/register-push-token", token, body, nil)
}

// UnregisterPushToken removes the push registration for the wallet address.
func (c *Client) UnregisterPushToken(ctx context.Context, token, walletAddress string) error {
	return c.do(ctx, http.MethodDelete, "/unregister-push-token/"+url.PathEscape(walletAddress), token, nil, nil)
}

// do performs one JSON request. body is marshalled when non-nil; out is
// decoded into when non-nil and the response succeeded.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)

		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict:
			return ErrUsernameTaken
		}
		if apiErr.Message != "" {
			return fmt.Errorf("backend: %s %s: %d: %s", method, path, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("backend: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
	}
	return nil
}
