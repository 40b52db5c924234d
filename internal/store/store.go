package store

import (
	"context"
	"math"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "streamer_memory"

// Payload is the descriptive and scoring data stored alongside a memory's vector.
// Pointer fields are nil when the stored record does not carry them; scoring
// treats a missing field as neutral rather than as zero.
type Payload struct {
	Content               string   `json:"content,omitempty"`
	MemoryType            string   `json:"memory_type,omitempty"`
	SourceID              string   `json:"source_id,omitempty"`
	TimestampCreated      *float64 `json:"timestamp_created,omitempty"`
	TimestampLastAccessed *float64 `json:"timestamp_last_accessed,omitempty"`
	WeightedAccessScore   *float64 `json:"weighted_access_score,omitempty"`
}

// Point is a memory as written to or scanned from a vector store.
// Payload is nil for records stored without one.
type Point struct {
	ID      string
	Vector  []float64
	Payload *Payload
}

// ScoredPoint is a similarity search hit.
type ScoredPoint struct {
	ID      string   `json:"id"`
	Score   float64  `json:"score"`
	Payload *Payload `json:"payload"`
}

// PayloadUpdate is the per-item write-back after a retrieval selected the item.
type PayloadUpdate struct {
	ID                    string
	WeightedAccessScore   float64
	TimestampLastAccessed float64
}

// Filter restricts a scroll. A nil CreatedBefore means no restriction.
type Filter struct {
	CreatedBefore *float64
}

// ScrollRequest asks for one page of a full-store scan.
// Offset is the cursor returned by the previous page; empty starts from the beginning.
type ScrollRequest struct {
	Offset string
	Limit  int
	Filter *Filter
}

// ScrollPage is one page of a scan. NextOffset is empty on the last page.
type ScrollPage struct {
	Points     []Point
	NextOffset string
}

// VectorStore is the contract every backend (SQLite, Qdrant, Postgres) satisfies.
// A store instance is bound to a single collection.
type VectorStore interface {
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float64, limit int) ([]ScoredPoint, error)
	Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error)
	SetPayloads(ctx context.Context, updates []PayloadUpdate, wait bool) error
	Delete(ctx context.Context, ids []string) error
	Ping(ctx context.Context) error
	Close() error
}

// Float returns a pointer to v, for building payloads.
func Float(v float64) *float64 {
	return &v
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
