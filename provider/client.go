// Package provider contains minimal helpers to interact with the video provider's
// API for stream provisioning and status, plus webhook payload verification.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Stream is the provider-side stream a broadcaster pushes to. PlaybackID is the
// public reference viewers address chat with; StreamKey is the broadcaster secret.
type Stream struct {
	ID         string `json:"id"`
	PlaybackID string `json:"playbackId"`
	StreamKey  string `json:"streamKey"`
	IsActive   bool   `json:"isActive"`
}

// Client provides minimal methods needed for stream provisioning.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf *bytes.Buffer
	if body != nil {
		buf = &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	var reqBody *bytes.Buffer
	if buf != nil {
		reqBody = buf
	} else {
		reqBody = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CreateStream provisions a new provider stream named after the broadcaster.
func (c *Client) CreateStream(ctx context.Context, name string) (*Stream, error) {
	if name == "" {
		return nil, fmt.Errorf("stream name empty")
	}
	var s Stream
	if err := c.do(ctx, http.MethodPost, "/stream", map[string]string{"name": name}, &s); err != nil {
		return nil, err
	}
	if s.ID == "" || s.PlaybackID == "" {
		return nil, fmt.Errorf("provider returned incomplete stream")
	}
	return &s, nil
}

// GetStream fetches current status for a provider stream id.
func (c *Client) GetStream(ctx context.Context, id string) (*Stream, error) {
	if id == "" {
		return nil, fmt.Errorf("stream id empty")
	}
	var s Stream
	if err := c.do(ctx, http.MethodGet, "/stream/"+id, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// TerminateStream tears down a provider stream.
func (c *Client) TerminateStream(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("stream id empty")
	}
	return c.do(ctx, http.MethodDelete, "/stream/"+id, nil, nil)
}
