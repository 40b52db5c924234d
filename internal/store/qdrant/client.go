// Package qdrant implements store.VectorStore over Qdrant's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/fade/internal/store"
)

// ErrCollectionNotFound is returned by CollectionExists callers when Qdrant answers 404.
var ErrCollectionNotFound = errors.New("qdrant collection not found")

// Config describes how to reach a Qdrant instance.
type Config struct {
	Host       string
	Port       int
	HTTPS      bool
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// BaseURL renders the REST endpoint for cfg.
func (c Config) BaseURL() string {
	scheme := "http"
	if c.HTTPS {
		scheme = "https"
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 6333
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// Client talks to one Qdrant collection.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

var _ store.VectorStore = (*Client)(nil)

// New creates a Client from cfg.
func New(cfg Config) *Client {
	return NewWithURL(cfg.BaseURL(), cfg.APIKey, cfg.Collection, cfg.Timeout)
}

// NewWithURL creates a Client against an explicit base URL.
func NewWithURL(baseURL, apiKey, collection string, timeout time.Duration) *Client {
	if collection == "" {
		collection = store.DefaultCollection
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Collection returns the bound collection name.
func (c *Client) Collection() string { return c.collection }

type pointJSON struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector,omitempty"`
	Payload *store.Payload `json:"payload"`
}

// Upsert writes points with wait=true so a 2xx means the write is visible.
func (c *Client) Upsert(ctx context.Context, points []store.Point) error {
	if len(points) == 0 {
		return nil
	}
	body := struct {
		Points []pointJSON `json:"points"`
	}{Points: make([]pointJSON, len(points))}
	for i, p := range points {
		body.Points[i] = pointJSON{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}

	if err := c.do(ctx, http.MethodPut, c.pointsPath("", true), body, nil); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search returns the limit nearest points with payload.
func (c *Client) Search(ctx context.Context, vector []float64, limit int) ([]store.ScoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var out struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float64         `json:"score"`
			Payload json.RawMessage `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.pointsPath("/search", false), body, &out); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]store.ScoredPoint, 0, len(out.Result))
	for _, r := range out.Result {
		id := decodeID(r.ID)
		hits = append(hits, store.ScoredPoint{ID: id, Score: r.Score, Payload: decodePayload(id, r.Payload)})
	}
	return hits, nil
}

type rangeJSON struct {
	LT *float64 `json:"lt,omitempty"`
}

type conditionJSON struct {
	Key   string    `json:"key"`
	Range rangeJSON `json:"range"`
}

type filterJSON struct {
	Must []conditionJSON `json:"must"`
}

func toFilter(f *store.Filter) *filterJSON {
	if f == nil || f.CreatedBefore == nil {
		return nil
	}
	return &filterJSON{Must: []conditionJSON{{
		Key:   "timestamp_created",
		Range: rangeJSON{LT: f.CreatedBefore},
	}}}
}

// Scroll fetches one page. Qdrant returns next_page_offset as null on the last page.
func (c *Client) Scroll(ctx context.Context, req store.ScrollRequest) (store.ScrollPage, error) {
	body := struct {
		Offset      any         `json:"offset,omitempty"`
		Limit       int         `json:"limit"`
		WithPayload bool        `json:"with_payload"`
		WithVector  bool        `json:"with_vector"`
		Filter      *filterJSON `json:"filter,omitempty"`
	}{
		Limit:       req.Limit,
		WithPayload: true,
		WithVector:  false,
		Filter:      toFilter(req.Filter),
	}
	if req.Offset != "" {
		body.Offset = encodeID(req.Offset)
	}

	var out struct {
		Result struct {
			Points []struct {
				ID      json.RawMessage `json:"id"`
				Payload json.RawMessage `json:"payload"`
			} `json:"points"`
			NextPageOffset json.RawMessage `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.pointsPath("/scroll", false), body, &out); err != nil {
		return store.ScrollPage{}, fmt.Errorf("qdrant scroll: %w", err)
	}

	page := store.ScrollPage{
		Points:     make([]store.Point, 0, len(out.Result.Points)),
		NextOffset: decodeID(out.Result.NextPageOffset),
	}
	for _, p := range out.Result.Points {
		id := decodeID(p.ID)
		page.Points = append(page.Points, store.Point{ID: id, Payload: decodePayload(id, p.Payload)})
	}
	return page, nil
}

// SetPayloads sends one set_payload operation per item in a single batch request.
func (c *Client) SetPayloads(ctx context.Context, updates []store.PayloadUpdate, wait bool) error {
	if len(updates) == 0 {
		return nil
	}

	type setPayload struct {
		Payload map[string]any `json:"payload"`
		Points  []any          `json:"points"`
	}
	type operation struct {
		SetPayload setPayload `json:"set_payload"`
	}

	ops := make([]operation, len(updates))
	for i, u := range updates {
		ops[i] = operation{SetPayload: setPayload{
			Payload: map[string]any{
				"weighted_access_score":   u.WeightedAccessScore,
				"timestamp_last_accessed": u.TimestampLastAccessed,
			},
			Points: []any{encodeID(u.ID)},
		}}
	}

	body := map[string]any{"operations": ops}
	if err := c.do(ctx, http.MethodPost, c.pointsPath("/batch", wait), body, nil); err != nil {
		return fmt.Errorf("qdrant set payload: %w", err)
	}
	return nil
}

// Delete removes points by id with wait=true.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]any, len(ids))
	for i, id := range ids {
		points[i] = encodeID(id)
	}
	body := map[string]any{"points": points}
	if err := c.do(ctx, http.MethodPost, c.pointsPath("/delete", true), body, nil); err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// Ping checks that the collection is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.CollectionExists(ctx)
	return err
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (c *Client) Close() error { return nil }

// CollectionExists reports whether the bound collection exists.
func (c *Client) CollectionExists(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(c.collection), nil, nil)
	if errors.Is(err, ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("qdrant get collection: %w", err)
	}
	return true, nil
}

// EnsureCollection creates the collection with cosine distance when it is missing.
func (c *Client) EnsureCollection(ctx context.Context, dims int) (created bool, err error) {
	exists, err := c.CollectionExists(ctx)
	if err != nil || exists {
		return false, err
	}
	if dims <= 0 {
		return false, fmt.Errorf("qdrant collection %q missing and vector size unknown", c.collection)
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dims, "distance": "Cosine"},
	}
	if err := c.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(c.collection), body, nil); err != nil {
		return false, fmt.Errorf("qdrant create collection: %w", err)
	}
	return true, nil
}

func (c *Client) pointsPath(suffix string, wait bool) string {
	p := "/collections/" + url.PathEscape(c.collection) + "/points" + suffix
	if wait {
		p += "?wait=true"
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, respBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// encodeID sends numeric ids as JSON numbers and everything else (UUIDs) as strings.
func encodeID(id string) any {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}
	return id
}

// decodeID flattens a Qdrant point id (number or string, possibly null) to a string.
func decodeID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}

// decodePayload decodes one point's payload. Fields of the wrong type are left
// unset so scoring falls back to its defaults; a payload that is not an object
// at all becomes an empty one. Neither fails the surrounding page.
func decodePayload(id string, raw json.RawMessage) *store.Payload {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}

	var p store.Payload
	if err := json.Unmarshal(raw, &p); err == nil {
		return &p
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		log.Printf("qdrant: point %s: payload is not an object, using defaults", id)
		return &store.Payload{}
	}

	p = store.Payload{}
	var bad []string
	text := func(key string, dst *string) {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return
		}
		var str string
		if err := json.Unmarshal(v, &str); err != nil {
			bad = append(bad, key)
			return
		}
		*dst = str
	}
	number := func(key string, dst **float64) {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			bad = append(bad, key)
			return
		}
		*dst = &f
	}
	text("content", &p.Content)
	text("memory_type", &p.MemoryType)
	text("source_id", &p.SourceID)
	number("timestamp_created", &p.TimestampCreated)
	number("timestamp_last_accessed", &p.TimestampLastAccessed)
	number("weighted_access_score", &p.WeightedAccessScore)

	log.Printf("qdrant: point %s: ignoring malformed payload fields %v", id, bad)
	return &p
}
