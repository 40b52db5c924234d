package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no embedding model is configured.
const DefaultOpenAIModel = "text-embedding-ada-002"

// OpenAIEmbedder uses an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAIEmbedder creates an embedder. baseURL may point at any compatible server.
// model must be a name the client library knows; unknown names are rejected
// rather than sent as an empty model.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dims int) (*OpenAIEmbedder, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if dims == 0 {
		dims = 1536
	}

	var m openai.EmbeddingModel
	if err := m.UnmarshalText([]byte(model)); err != nil || m == openai.Unknown {
		return nil, fmt.Errorf("openai: unsupported embedding model %q", model)
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  m,
		dims:   dims,
	}, nil
}

func (o *OpenAIEmbedder) Model() string  { return "openai:" + o.model.String() }
func (o *OpenAIEmbedder) Dimensions() int { return o.dims }

// Embed returns the embedding for text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embeddings")
	}

	emb := resp.Data[0].Embedding
	vec := make([]float64, len(emb))
	for i, v := range emb {
		vec[i] = float64(v)
	}
	return vec, nil
}
