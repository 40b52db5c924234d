// Package client talks to a running fade server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lazypower/fade/internal/store"
)

const (
	defaultServerURL = "http://127.0.0.1:3011"
	httpTimeout      = 30 * time.Second
)

// Client talks to the fade server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. Empty falls back to FADE_URL, then http://127.0.0.1:3011.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("FADE_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("status %d: %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// AddResult is the response to a stored memory.
type AddResult struct {
	ID           string  `json:"id"`
	Message      string  `json:"message"`
	InitialScore float64 `json:"initial_score"`
}

// Add stores a memory.
func (c *Client) Add(ctx context.Context, content, memoryType, sourceID string) (AddResult, error) {
	body := map[string]string{"content": content, "memory_type": memoryType}
	if sourceID != "" {
		body["source_id"] = sourceID
	}
	var out AddResult
	err := c.do(ctx, http.MethodPost, "/api/memory", body, &out)
	return out, err
}

// Search selects retrieveN of the topK nearest memories.
func (c *Client) Search(ctx context.Context, query string, topK, retrieveN int) ([]store.ScoredPoint, error) {
	body := map[string]any{"query": query, "top_k": topK, "retrieve_n": retrieveN}
	var out []store.ScoredPoint
	err := c.do(ctx, http.MethodPost, "/api/memory/search", body, &out)
	return out, err
}

// TrimResult is the outcome of a server-side trimming run.
type TrimResult struct {
	Scanned int    `json:"scanned"`
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// Trim asks the server to run a trimming pass now.
func (c *Client) Trim(ctx context.Context) (TrimResult, error) {
	var out TrimResult
	err := c.do(ctx, http.MethodPost, "/api/trim", nil, &out)
	return out, err
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	var out map[string]any
	return c.do(ctx, http.MethodGet, "/api/health", nil, &out) == nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request %s: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
			apiErr.Details = body.Details
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response %s: %w", path, err)
		}
	}
	return nil
}
