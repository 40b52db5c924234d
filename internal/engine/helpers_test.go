package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazypower/fade/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeEmbedder maps known texts to fixed vectors; anything else gets fallback.
type fakeEmbedder struct {
	vectors  map[string][]float64
	fallback []float64
	err      error
	calls    int
}

func (f *fakeEmbedder) Model() string  { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return len(f.fallback) }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if text == "" {
		return nil, ErrEmptyText
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

// spyStore wraps a VectorStore, counting calls and optionally failing them.
type spyStore struct {
	store.VectorStore

	mu          sync.Mutex
	scrolls     int
	deletes     [][]string
	searches    int
	setPayloads [][]store.PayloadUpdate

	scrollErr    error
	deleteErr    error
	failDeleteAt int // 1-based delete call that fails; 0 never
	searchErr    error
	setErr       error
}

var errBoom = errors.New("boom")

func (s *spyStore) Scroll(ctx context.Context, req store.ScrollRequest) (store.ScrollPage, error) {
	s.mu.Lock()
	s.scrolls++
	s.mu.Unlock()
	if s.scrollErr != nil {
		return store.ScrollPage{}, s.scrollErr
	}
	return s.VectorStore.Scroll(ctx, req)
}

func (s *spyStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, append([]string(nil), ids...))
	n := len(s.deletes)
	s.mu.Unlock()
	if s.deleteErr != nil && (s.failDeleteAt == 0 || s.failDeleteAt == n) {
		return s.deleteErr
	}
	return s.VectorStore.Delete(ctx, ids)
}

func (s *spyStore) Search(ctx context.Context, vector []float64, limit int) ([]store.ScoredPoint, error) {
	s.mu.Lock()
	s.searches++
	s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.VectorStore.Search(ctx, vector, limit)
}

func (s *spyStore) SetPayloads(ctx context.Context, updates []store.PayloadUpdate, wait bool) error {
	s.mu.Lock()
	s.setPayloads = append(s.setPayloads, updates)
	s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	return s.VectorStore.SetPayloads(ctx, updates, wait)
}

func (s *spyStore) deleteCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}
