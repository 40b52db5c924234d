package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all fade configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Embedding EmbeddingConfig
	Scoring   ScoringConfig
	Trim      TrimConfig
	RateLimit RateLimitConfig

	WritebackQueueSize int
}

type ServerConfig struct {
	Bind string
	Port int
}

type StoreConfig struct {
	Backend      string // "sqlite", "qdrant", "postgres"
	Collection   string
	DatabasePath string // sqlite; empty resolves to store.DefaultDBPath()
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantHTTPS  bool
	PostgresDSN  string
}

type EmbeddingConfig struct {
	Provider      string // "ollama", "openai", "tfidf"
	OllamaURL     string
	Model         string // empty picks the provider default
	OpenAIKey     string
	OpenAIBaseURL string
	Dimensions    int
}

type ScoringConfig struct {
	KMax     int
	WAge     float64
	WRecency float64
	CUsage   float64
}

type TrimConfig struct {
	Threshold      float64
	BatchSize      int
	MinAgeSeconds  int // 0 disables the minimum age filter
	Schedule       string
	TimeoutSeconds int // 0 = no timeout
	OnStartup      bool
}

// MinAge returns the minimum age filter as a duration.
func (t TrimConfig) MinAge() time.Duration {
	return time.Duration(t.MinAgeSeconds) * time.Second
}

// Timeout returns the per-run timeout as a duration.
func (t TrimConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

type RateLimitConfig struct {
	RPS   float64 // 0 disables rate limiting
	Burst int
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 3011,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			Collection: "streamer_memory",
			QdrantHost: "localhost",
			QdrantPort: 6333,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			OllamaURL: "http://localhost:11434",
		},
		Scoring: ScoringConfig{
			KMax:     100,
			WAge:     1.0,
			WRecency: 1.5,
			CUsage:   1.0,
		},
		Trim: TrimConfig{
			Threshold: 500000,
			BatchSize: 100,
			Schedule:  "0 4 * * *",
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		WritebackQueueSize: 256,
	}
}

// Load reads an optional .env file, then configFile (if set), then the
// environment. Keys are the bare upper-case names, e.g. PORT or K_MAX.
// A nil v uses a fresh viper instance.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	setDefaults(v, Default())
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Bind: v.GetString("BIND"),
			Port: v.GetInt("PORT"),
		},
		Store: StoreConfig{
			Backend:      v.GetString("VECTOR_STORE"),
			Collection:   v.GetString("COLLECTION"),
			DatabasePath: v.GetString("DATABASE_PATH"),
			QdrantHost:   v.GetString("QDRANT_HOST"),
			QdrantPort:   v.GetInt("QDRANT_PORT"),
			QdrantAPIKey: v.GetString("QDRANT_API_KEY"),
			QdrantHTTPS:  v.GetBool("QDRANT_HTTPS"),
			PostgresDSN:  v.GetString("POSTGRES_DSN"),
		},
		Embedding: EmbeddingConfig{
			Provider:      v.GetString("EMBEDDING_PROVIDER"),
			OllamaURL:     v.GetString("OLLAMA_URL"),
			Model:         v.GetString("EMBEDDING_MODEL_NAME"),
			OpenAIKey:     v.GetString("OPENAI_API_KEY"),
			OpenAIBaseURL: v.GetString("OPENAI_BASE_URL"),
			Dimensions:    v.GetInt("EMBEDDING_DIMENSIONS"),
		},
		Scoring: ScoringConfig{
			KMax:     v.GetInt("K_MAX"),
			WAge:     v.GetFloat64("W_AGE"),
			WRecency: v.GetFloat64("W_RECENCY"),
			CUsage:   v.GetFloat64("C_USAGE"),
		},
		Trim: TrimConfig{
			Threshold:      v.GetFloat64("TRIM_THRESHOLD"),
			BatchSize:      v.GetInt("TRIM_BATCH_SIZE"),
			MinAgeSeconds:  v.GetInt("MIN_AGE_BEFORE_TRIM_SECONDS"),
			Schedule:       v.GetString("TRIM_SCHEDULE"),
			TimeoutSeconds: v.GetInt("TRIM_TIMEOUT_SECONDS"),
			OnStartup:      v.GetBool("TRIM_ON_STARTUP"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},
		WritebackQueueSize: v.GetInt("WRITEBACK_QUEUE_SIZE"),
	}

	// The Qdrant-era name still works when COLLECTION is not given.
	if !v.IsSet("COLLECTION") && v.GetString("QDRANT_COLLECTION") != "" {
		cfg.Store.Collection = v.GetString("QDRANT_COLLECTION")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("BIND", d.Server.Bind)
	v.SetDefault("PORT", d.Server.Port)
	v.SetDefault("VECTOR_STORE", d.Store.Backend)
	v.SetDefault("QDRANT_HOST", d.Store.QdrantHost)
	v.SetDefault("QDRANT_PORT", d.Store.QdrantPort)
	v.SetDefault("EMBEDDING_PROVIDER", d.Embedding.Provider)
	v.SetDefault("OLLAMA_URL", d.Embedding.OllamaURL)
	v.SetDefault("K_MAX", d.Scoring.KMax)
	v.SetDefault("W_AGE", d.Scoring.WAge)
	v.SetDefault("W_RECENCY", d.Scoring.WRecency)
	v.SetDefault("C_USAGE", d.Scoring.CUsage)
	v.SetDefault("TRIM_THRESHOLD", d.Trim.Threshold)
	v.SetDefault("TRIM_BATCH_SIZE", d.Trim.BatchSize)
	v.SetDefault("TRIM_SCHEDULE", d.Trim.Schedule)
	v.SetDefault("RATE_LIMIT_RPS", d.RateLimit.RPS)
	v.SetDefault("RATE_LIMIT_BURST", d.RateLimit.Burst)
	v.SetDefault("WRITEBACK_QUEUE_SIZE", d.WritebackQueueSize)

	// Bound so AutomaticEnv lookups and IsSet see them without a default value.
	for _, key := range []string{
		"COLLECTION", "QDRANT_COLLECTION", "DATABASE_PATH", "QDRANT_API_KEY", "QDRANT_HTTPS",
		"POSTGRES_DSN", "EMBEDDING_MODEL_NAME", "OPENAI_API_KEY", "OPENAI_BASE_URL", "EMBEDDING_DIMENSIONS",
		"MIN_AGE_BEFORE_TRIM_SECONDS", "TRIM_TIMEOUT_SECONDS", "TRIM_ON_STARTUP",
	} {
		v.BindEnv(key)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Server.Port)
	}
	switch c.Store.Backend {
	case "sqlite", "qdrant":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown VECTOR_STORE %q", c.Store.Backend)
	}
	switch c.Embedding.Provider {
	case "ollama", "tfidf":
	case "openai":
		if c.Embedding.OpenAIKey == "" && c.Embedding.OpenAIBaseURL == "" {
			return fmt.Errorf("config: OPENAI_API_KEY is required for the openai provider")
		}
	default:
		return fmt.Errorf("config: unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider)
	}
	if c.Scoring.KMax <= 0 {
		return fmt.Errorf("config: K_MAX must be positive, got %d", c.Scoring.KMax)
	}
	if c.Trim.BatchSize <= 0 {
		return fmt.Errorf("config: TRIM_BATCH_SIZE must be positive, got %d", c.Trim.BatchSize)
	}
	if c.Trim.MinAgeSeconds < 0 || c.Trim.TimeoutSeconds < 0 {
		return fmt.Errorf("config: trim durations must not be negative")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("config: RATE_LIMIT_RPS must not be negative")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
