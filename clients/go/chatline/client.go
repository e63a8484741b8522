// Package chatline provides a client for the chatline HTTP API and relay.
package chatline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Client is a chatline API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Username   string
	Contact    string
	HTTPClient *http.Client
}

// Profile is the identity persisted between CLI runs.
type Profile struct {
	Username string `json:"username"`
	Contact  string `json:"contact"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatline error %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("CHATLINE_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".chatline")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadProfile()
	return c
}

// LoadProfile loads the saved identity from disk.
func (c *Client) LoadProfile() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "profile.json"))
	if err != nil {
		return err
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	c.Username = p.Username
	c.Contact = p.Contact
	return nil
}

// SaveProfile saves the identity to disk.
func (c *Client) SaveProfile() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Profile{Username: c.Username, Contact: c.Contact}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "profile.json"), data, 0600)
}

// do performs a JSON request and decodes the response into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// SendOTP asks the server to issue a one-time code to contact.
func (c *Client) SendOTP(ctx context.Context, contact string) error {
	return c.do(ctx, http.MethodPost, "/otp/send", map[string]string{"contact": contact}, nil)
}

// VerifyOTP submits the code received for contact.
func (c *Client) VerifyOTP(ctx context.Context, contact, otp string) error {
	return c.do(ctx, http.MethodPost, "/otp/verify", map[string]string{"contact": contact, "otp": otp}, nil)
}

// ClaimUsername assigns username to contact and saves the profile.
func (c *Client) ClaimUsername(ctx context.Context, contact, username string) error {
	req := map[string]string{"contact": contact, "username": username}
	if err := c.do(ctx, http.MethodPost, "/usernames", req, nil); err != nil {
		return err
	}
	c.Contact = contact
	c.Username = username
	return c.SaveProfile()
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

// UsernameExists reports whether username is taken.
func (c *Client) UsernameExists(ctx context.Context, username string) (bool, error) {
	var resp existsResponse
	err := c.do(ctx, http.MethodPost, "/usernames/check", map[string]string{"username": username}, &resp)
	return resp.Exists, err
}

// User is a user search hit.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Search finds verified users by username substring.
func (c *Client) Search(ctx context.Context, query string) ([]User, error) {
	var users []User
	err := c.do(ctx, http.MethodPost, "/users/search", map[string]string{"query": query}, &users)
	return users, err
}

// Status is a user's presence.
type Status struct {
	Username    string     `json:"username"`
	Online      bool       `json:"online"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	LastSeenAgo string     `json:"lastSeenAgo,omitempty"`
}

// Status returns username's presence.
func (c *Client) Status(ctx context.Context, username string) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username)+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Message is a stored direct message.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"message"`
	Read      bool   `json:"read"`
	Timestamp int64  `json:"ts"`
}

// Send stores a message to to without relaying it.
func (c *Client) Send(ctx context.Context, to, body string) (*Message, error) {
	var msg Message
	req := map[string]string{"from": c.Username, "to": to, "message": body}
	if err := c.do(ctx, http.MethodPost, "/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Conversation returns the messages exchanged with other, oldest first.
func (c *Client) Conversation(ctx context.Context, other string) ([]Message, error) {
	var msgs []Message
	path := "/messages/" + url.PathEscape(c.Username) + "/" + url.PathEscape(other)
	err := c.do(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

// Clear deletes the conversation with other.
func (c *Client) Clear(ctx context.Context, other string) error {
	path := "/messages/" + url.PathEscape(c.Username) + "/" + url.PathEscape(other)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Partners lists everyone the user has exchanged messages with.
func (c *Client) Partners(ctx context.Context) ([]string, error) {
	var users []string
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(c.Username)+"/partners", nil, &users)
	return users, err
}

// Unread is a per-conversation unread summary.
type Unread struct {
	Username        string `json:"username"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime"`
	Count           int    `json:"count"`
}

// Unread returns the user's unread summaries, most recent first.
func (c *Client) Unread(ctx context.Context) ([]Unread, error) {
	var summaries []Unread
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(c.Username)+"/unread", nil, &summaries)
	return summaries, err
}

// MarkRead marks everything other has sent the user as read.
func (c *Client) MarkRead(ctx context.Context, other string) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	err := c.do(ctx, http.MethodPost, "/messages/read", map[string]string{"from": c.Username, "to": other}, &resp)
	return resp.Updated, err
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		// A degraded server still answers with a body.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			resp.Status = "degraded"
			return &resp, nil
		}
		return nil, err
	}
	return &resp, nil
}
