// Package remote talks to the board API: it sends commands and refetches
// boards and workspaces.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskmate-sync/domain"
)

// ErrUnauthorized is returned when the API rejects the bearer token.
// Callers must not retry.
var ErrUnauthorized = errors.New("remote: unauthorized")

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("remote: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

const maxErrorBody = 512

// Client is an HTTP client for the board API.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a Client. A zero timeout means 30s per request.
func New(baseURL, bearer string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type postCommandResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// Execute sends a single command.
func (c *Client) Execute(ctx context.Context, cmd domain.Command) error {
	_, err := c.ExecuteBatch(ctx, []domain.Command{cmd})
	return err
}

// ExecuteBatch sends cmds in one request and returns the idempotency keys
// the API accepted.
func (c *Client) ExecuteBatch(ctx context.Context, cmds []domain.Command) ([]string, error) {
	body, err := sonic.Marshal(cmds)
	if err != nil {
		return nil, err
	}
	var resp postCommandResponse
	if err := c.do(ctx, http.MethodPost, "/api/commands", body, &resp); err != nil {
		return nil, err
	}
	return resp.IdempotencyKeys, nil
}

// FetchBoard loads the full board tree.
func (c *Client) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID), nil, &b)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return domain.Board{}, domain.NotFound("board", boardID)
	}
	return b, err
}

// FetchWorkspace loads the caller's folders and boards.
func (c *Client) FetchWorkspace(ctx context.Context) (domain.Workspace, error) {
	var ws domain.Workspace
	err := c.do(ctx, http.MethodGet, "/api/workspace", nil, &ws)
	return ws, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("remote: decode %s response: %w", path, err)
	}
	return nil
}
