package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lazypower/fade/internal/config"
	"github.com/lazypower/fade/internal/engine"
	"github.com/lazypower/fade/internal/store"
	"github.com/lazypower/fade/internal/store/postgres"
	"github.com/lazypower/fade/internal/store/qdrant"
)

const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOllamaDims  = 768
)

// openStore opens the configured vector store. The returned string describes it for the startup banner.
func openStore(cfg config.Config) (store.VectorStore, string, error) {
	sc := cfg.Store
	switch sc.Backend {
	case "qdrant":
		qc := qdrant.Config{
			Host:       sc.QdrantHost,
			Port:       sc.QdrantPort,
			HTTPS:      sc.QdrantHTTPS,
			APIKey:     sc.QdrantAPIKey,
			Collection: sc.Collection,
		}
		c := qdrant.New(qc)
		return c, fmt.Sprintf("qdrant %s/%s", qc.BaseURL(), c.Collection()), nil

	case "postgres":
		pg, err := postgres.Open(sc.PostgresDSN, sc.Collection)
		if err != nil {
			return nil, "", err
		}
		return pg, "postgres/" + sc.Collection, nil

	default:
		dbPath := sc.DatabasePath
		if dbPath == "" {
			var err error
			dbPath, err = store.DefaultDBPath()
			if err != nil {
				return nil, "", fmt.Errorf("resolve db path: %w", err)
			}
		}
		db, err := store.Open(dbPath, sc.Collection)
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		return db, fmt.Sprintf("sqlite %s/%s", dbPath, db.Collection), nil
	}
}

// newEmbedder builds the configured embedder. An unreachable Ollama falls
// back to TF-IDF over the stored contents. Remote providers sit behind a
// circuit breaker.
func newEmbedder(ctx context.Context, cfg config.Config, vs store.VectorStore) (engine.Embedder, string, error) {
	ec := cfg.Embedding
	switch ec.Provider {
	case "openai":
		emb, err := engine.NewOpenAIEmbedder(ec.OpenAIKey, ec.OpenAIBaseURL, ec.Model, ec.Dimensions)
		if err != nil {
			return nil, "", err
		}
		return engine.NewBreakerEmbedder(emb, 0, 0), emb.Model(), nil

	case "ollama":
		model := ec.Model
		if model == "" {
			model = defaultOllamaModel
		}
		dims := ec.Dimensions
		if dims == 0 {
			dims = defaultOllamaDims
		}
		if engine.ProbeOllama(ctx, ec.OllamaURL, model) {
			emb := engine.NewOllamaEmbedder(ec.OllamaURL, model, dims)
			return engine.NewBreakerEmbedder(emb, 0, 0), emb.Model(), nil
		}
		fmt.Fprintf(os.Stderr, "warning: ollama not reachable at %s, using tfidf\n", ec.OllamaURL)
	}

	emb, err := engine.NewTFIDFEmbedder(ctx, vs, 512)
	if err != nil {
		return nil, "", fmt.Errorf("tfidf embedder: %w", err)
	}
	return emb, "tfidf", nil
}

func scoringParams(cfg config.Config) engine.Params {
	return engine.Params{
		KMax:     cfg.Scoring.KMax,
		WAge:     cfg.Scoring.WAge,
		WRecency: cfg.Scoring.WRecency,
		CUsage:   cfg.Scoring.CUsage,
	}
}

func trimConfig(cfg config.Config) engine.TrimConfig {
	return engine.TrimConfig{
		Threshold: cfg.Trim.Threshold,
		BatchSize: cfg.Trim.BatchSize,
		MinAge:    cfg.Trim.MinAge(),
		Timeout:   cfg.Trim.Timeout(),
	}
}

// ensureCollection creates a missing Qdrant collection sized for the embedder.
func ensureCollection(ctx context.Context, vs store.VectorStore, dims int) error {
	c, ok := vs.(*qdrant.Client)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	created, err := c.EnsureCollection(ctx, dims)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(os.Stderr, "  created qdrant collection %s (%d dims)\n", c.Collection(), dims)
	}
	return nil
}
