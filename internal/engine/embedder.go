package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Embedder turns memory content and search queries into vectors. Empty text is an error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// OllamaEmbedder calls a local Ollama server.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client

	mu   sync.Mutex
	dims int
}

func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OllamaEmbedder) Model() string { return "ollama:" + o.model }

// Dimensions is the configured size until the first response reports the real one.
func (o *OllamaEmbedder) Dimensions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dims
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	vec, err := ollamaEmbed(ctx, o.client, o.url, o.model, text)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.dims = len(vec)
	o.mu.Unlock()
	return vec, nil
}

// ProbeOllama reports whether url serves embeddings for model.
func ProbeOllama(ctx context.Context, url, model string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	_, err := ollamaEmbed(ctx, client, strings.TrimRight(url, "/"), model, "probe")
	return err == nil
}

func ollamaEmbed(ctx context.Context, client *http.Client, url, model, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{"model": model, "input": text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, data)
	}

	var out struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings for %s", model)
	}
	return out.Embeddings[0], nil
}
