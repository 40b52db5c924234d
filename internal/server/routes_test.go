package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/fade/internal/engine"
	"github.com/lazypower/fade/internal/store"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAddMemory(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.srv, "POST", "/api/memory", `{"content":"likes tea","memory_type":"preference","source_id":"chat-1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, "Memory added successfully", resp["message"])
	assert.InDelta(t, 0.5, resp["initial_score"], 1e-9)

	page, err := env.db.Scroll(context.Background(), store.ScrollRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Points, 1)
	assert.Equal(t, "chat-1", page.Points[0].Payload.SourceID)
}

func TestAddMemoryMissingFields(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"content":"x"}`, `{"memory_type":"chat"}`, `{}`} {
		w := do(t, env.srv, "POST", "/api/memory", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Missing required fields: content, memory_type", resp["error"])
	}
}

func TestAddMemoryInvalidJSON(t *testing.T) {
	w := do(t, testServer(t), "POST", "/api/memory", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddMemoryEmbedderDown(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := engine.NewService(db, nil, engine.DefaultParams(), nil)
	t.Cleanup(svc.Close)

	w := do(t, New(svc, "v"), "POST", "/api/memory", `{"content":"x","memory_type":"chat"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Failed to add memory", resp["error"])
	assert.Contains(t, resp["details"], "no embedder")
}

func TestSearchMemories(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 6; i++ {
		w := do(t, env.srv, "POST", "/api/memory", fmt.Sprintf(`{"content":"memory %d","memory_type":"chat"}`, i))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, env.srv, "POST", "/api/memory/search", `{"query":"anything","top_k":20,"retrieve_n":5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var results []store.ScoredPoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	assert.Len(t, results, 5)
	for _, r := range results {
		assert.InDelta(t, 0.5, *r.Payload.WeightedAccessScore, 1e-9, "pre-update payload")
	}
	assert.Equal(t, 6, env.svc.State.Get())

	env.svc.Close()
	page, err := env.db.Scroll(context.Background(), store.ScrollRequest{Limit: 10})
	require.NoError(t, err)
	boosted := 0
	for _, p := range page.Points {
		if *p.Payload.WeightedAccessScore > 1.0 {
			boosted++
			assert.InDelta(t, 1.44, *p.Payload.WeightedAccessScore, 1e-9)
		}
	}
	assert.Equal(t, 5, boosted)
}

func TestSearchDefaults(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 12; i++ {
		do(t, env.srv, "POST", "/api/memory", fmt.Sprintf(`{"content":"m%d","memory_type":"chat"}`, i))
	}

	w := do(t, env.srv, "POST", "/api/memory/search", `{"query":"q"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var results []store.ScoredPoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	assert.Len(t, results, engine.DefaultRetrieveN)
	assert.Equal(t, 12, env.svc.State.Get())
}

func TestSearchEmptyStoreReturnsArray(t *testing.T) {
	w := do(t, testServer(t), "POST", "/api/memory/search", `{"query":"q"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSearchValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"retrieve_n above top_k", `{"query":"q","top_k":5,"retrieve_n":6}`},
		{"retrieve_n above default top_k", `{"query":"q","retrieve_n":51}`},
		{"zero top_k", `{"query":"q","top_k":0}`},
		{"negative retrieve_n", `{"query":"q","retrieve_n":-1}`},
		{"missing query", `{"top_k":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, env.srv, "POST", "/api/memory/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Equal(t, engine.DefaultRetrievalCount, env.svc.State.Get())
}

func TestTrimEndpoint(t *testing.T) {
	env := newTestEnv(t)
	old := float64(time.Now().Add(-365 * 24 * time.Hour).Unix())
	require.NoError(t, env.db.Upsert(context.Background(), []store.Point{
		{ID: "stale", Vector: []float64{1, 0}, Payload: &store.Payload{TimestampCreated: &old}},
	}))
	do(t, env.srv, "POST", "/api/memory", `{"content":"fresh","memory_type":"chat"}`)

	w := do(t, env.srv, "POST", "/api/trim", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"scanned":2,"deleted":1}`, w.Body.String())
}

func TestTrimNotConfigured(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := engine.NewService(db, nil, engine.DefaultParams(), nil)
	t.Cleanup(svc.Close)

	w := do(t, New(svc, "v"), "POST", "/api/trim", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, WithRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		w := do(t, env.srv, "POST", "/api/memory/search", `{"query":"q"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, env.srv, "POST", "/api/memory/search", `{"query":"q"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// health is not limited
	w = do(t, env.srv, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
