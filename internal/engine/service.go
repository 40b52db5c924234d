package engine

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/fade/internal/store"
)

const (
	// DefaultTopK is the raw search breadth when a request does not set top_k.
	DefaultTopK = 50
	// DefaultRetrieveN is how many results a request selects when it does not set retrieve_n.
	DefaultRetrieveN = 10
)

// Service handles ingestion and retrieval against a vector store.
type Service struct {
	Store    store.VectorStore
	Embedder Embedder
	Params   Params
	State    *RetrievalState

	now       func() time.Time
	writeback *writeback
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithQueueSize sets the write-back queue capacity.
func WithQueueSize(n int) ServiceOption {
	return func(s *Service) {
		s.writeback = newWriteback(s.Store, n)
	}
}

// NewService creates a Service. A nil state gets a fresh RetrievalState.
func NewService(vs store.VectorStore, emb Embedder, params Params, state *RetrievalState, opts ...ServiceOption) *Service {
	if state == nil {
		state = NewRetrievalState()
	}
	s := &Service{
		Store:    vs,
		Embedder: emb,
		Params:   params,
		State:    state,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.writeback == nil {
		s.writeback = newWriteback(vs, 0)
	}
	return s
}

// Close drains pending write-backs.
func (s *Service) Close() {
	s.writeback.close()
}

func (s *Service) clock() float64 {
	return float64(s.now().UnixNano()) / 1e9
}

// IngestRequest is a new memory.
type IngestRequest struct {
	Content    string `json:"content"`
	MemoryType string `json:"memory_type"`
	SourceID   string `json:"source_id,omitempty"`
}

// IngestResult identifies the stored memory and its starting score.
type IngestResult struct {
	ID           string  `json:"id"`
	InitialScore float64 `json:"initial_score"`
}

// Ingest embeds and stores a memory, scored by the breadth of the last retrieval.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.MemoryType) == "" {
		return IngestResult{}, invalid("Missing required fields: content, memory_type")
	}
	if s.Embedder == nil {
		return IngestResult{}, upstream("embed", ErrNoEmbedder)
	}

	vec, err := s.Embedder.Embed(ctx, req.Content)
	if err != nil {
		return IngestResult{}, upstream("embed", err)
	}

	lastK := s.State.Get()
	payload := s.Params.ComputeIngestionPayload(req.Content, req.MemoryType, req.SourceID, lastK, s.clock())

	id := uuid.NewString()
	if err := s.Store.Upsert(ctx, []store.Point{{ID: id, Vector: vec, Payload: payload}}); err != nil {
		return IngestResult{}, upstream("upsert", err)
	}

	log.Printf("ingest: stored %s [%s] score=%.3f (last k=%d)", id, req.MemoryType, *payload.WeightedAccessScore, lastK)
	return IngestResult{ID: id, InitialScore: *payload.WeightedAccessScore}, nil
}

// SearchRequest selects the first RetrieveN of TopK nearest memories.
type SearchRequest struct {
	Query     string
	TopK      int
	RetrieveN int
}

// SearchResult is the selected hits with their payloads as they were before this access.
type SearchResult struct {
	Results     []store.ScoredPoint
	RawCount    int
	Specificity float64
}

// Retrieve searches, selects, and schedules the score boost for the selected items.
// The boost is applied asynchronously; the returned payloads are pre-update.
func (s *Service) Retrieve(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return SearchResult{}, invalid("Missing required field: query")
	}
	if req.TopK < 1 {
		return SearchResult{}, invalid("top_k must be at least 1")
	}
	if req.RetrieveN < 0 {
		return SearchResult{}, invalid("retrieve_n must not be negative")
	}
	if req.RetrieveN > req.TopK {
		return SearchResult{}, invalid("retrieve_n (%d) cannot be greater than top_k (%d)", req.RetrieveN, req.TopK)
	}
	if s.Embedder == nil {
		return SearchResult{}, upstream("embed", ErrNoEmbedder)
	}

	vec, err := s.Embedder.Embed(ctx, req.Query)
	if err != nil {
		return SearchResult{}, upstream("embed", err)
	}

	hits, err := s.Store.Search(ctx, vec, req.TopK)
	if err != nil {
		return SearchResult{}, upstream("search", err)
	}

	k := len(hits)
	n := min(req.RetrieveN, k)
	selected := hits[:n]

	update := s.Params.ComputeRetrievalUpdate(selected, k, s.clock())
	s.State.Set(k)
	s.writeback.enqueue(update.Updates)

	log.Printf("search: k=%d selected=%d specificity=%.2f", k, n, update.Specificity)
	return SearchResult{
		Results:     selected,
		RawCount:    k,
		Specificity: update.Specificity,
	}, nil
}
