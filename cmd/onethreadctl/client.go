package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/onethread/internal/board"
	"github.com/danmuck/onethread/internal/observability"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// APIError is a non-2xx response from onethreadd.
type APIError struct {
	Status int
	Kind   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("onethreadd: %d %s (%s)", e.Status, e.Msg, e.Kind)
	}
	return fmt.Sprintf("onethreadd: %d %s", e.Status, e.Msg)
}

// Client talks to one onethreadd instance.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(base, token string, timeout time.Duration) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Create() (map[string]any, error) {
	return c.do(http.MethodPost, "/sessions", nil)
}

func (c *Client) List() (map[string]any, error) {
	return c.do(http.MethodGet, "/sessions", nil)
}

func (c *Client) Get(id string) (map[string]any, error) {
	return c.do(http.MethodGet, "/sessions/"+url.PathEscape(id), nil)
}

func (c *Client) Submit(id string, cmd board.Command) (map[string]any, error) {
	return c.do(http.MethodPost, "/sessions/"+url.PathEscape(id)+"/events", cmd)
}

func (c *Client) Input(id, text string) (map[string]any, error) {
	return c.do(http.MethodPost, "/sessions/"+url.PathEscape(id)+"/input", map[string]string{"text": text})
}

func (c *Client) Close(id string) error {
	_, err := c.do(http.MethodDelete, "/sessions/"+url.PathEscape(id), nil)
	return err
}

// Stream opens the session WebSocket.
func (c *Client) Stream(id string) (*websocket.Conn, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sessions/" + url.PathEscape(id) + "/ws"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return conn, nil
}

func (c *Client) do(method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(observability.RequestIDHeader, uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		apiErr.Msg, _ = out["error"].(string)
		apiErr.Kind, _ = out["kind"].(string)
		return out, apiErr
	}
	return out, nil
}
