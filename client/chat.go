// Package client implements the viewer-side chat surface: a thin HTTP client
// for the gateway plus a polling engine that reconciles server truth with
// local optimistic edits.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Message is a chat entry as seen by a client. Pending marks an optimistic
// entry that has not been confirmed by the server yet; its ID is a negative
// sentinel in that case.
type Message struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	Username    string    `json:"username"`
	Wallet      string    `json:"wallet,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Pending     bool      `json:"-"`
}

// APIError is a non-2xx gateway response. Status in the 4xx range means the
// attempt is terminal; 5xx and transport errors are retryable on the next tick.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %s (HTTP %d)", e.Message, e.Status)
}

// Terminal reports whether retrying the same request would fail the same way.
func (e *APIError) Terminal() bool {
	return e.Status >= 400 && e.Status < 500
}

// Chat is the low-level HTTP client for the gateway's /chat contract.
// The zero HTTPClient gets a bounded timeout so a slow network cannot wedge
// the polling loop.
type Chat struct {
	BaseURL    string
	Wallet     string
	HTTPClient *http.Client
}

const defaultRequestTimeout = 5 * time.Second

func (c *Chat) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultRequestTimeout}
}

// wire shapes mirror the gateway JSON.
type wireUser struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet"`
}

type wireMessage struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	User        wireUser  `json:"user"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (m wireMessage) toMessage() Message {
	return Message{
		ID:          m.ID,
		Content:     m.Content,
		MessageType: m.MessageType,
		Username:    m.User.Username,
		Wallet:      m.User.Wallet,
		CreatedAt:   m.CreatedAt,
	}
}

func (c *Chat) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// List fetches up to limit messages for a playback reference, ascending by id.
// beforeID, when nonzero, restricts results to ids strictly below it.
func (c *Chat) List(ctx context.Context, playbackRef string, limit int, beforeID int64) ([]Message, error) {
	q := url.Values{}
	q.Set("playbackRef", playbackRef)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if beforeID > 0 {
		q.Set("before", strconv.FormatInt(beforeID, 10))
	}
	var resp struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, m.toMessage())
	}
	return out, nil
}

// Send posts a message and returns the persisted entry with its server id.
func (c *Chat) Send(ctx context.Context, playbackRef, content, kind string) (*Message, error) {
	body := map[string]string{
		"wallet":      c.Wallet,
		"playbackRef": playbackRef,
		"content":     content,
	}
	if kind != "" {
		body["messageType"] = kind
	}
	var resp wireMessage
	if err := c.do(ctx, http.MethodPost, "/chat", body, &resp); err != nil {
		return nil, err
	}
	msg := resp.toMessage()
	return &msg, nil
}

// Delete soft-deletes a message, acting as this client's wallet.
func (c *Chat) Delete(ctx context.Context, messageID int64) error {
	body := map[string]any{
		"messageId":       messageID,
		"moderatorWallet": c.Wallet,
	}
	return c.do(ctx, http.MethodDelete, "/chat", body, nil)
}
