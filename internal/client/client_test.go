package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/fade/internal/engine"
	"github.com/lazypower/fade/internal/server"
	"github.com/lazypower/fade/internal/store"
)

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, engine.ErrEmptyText
	}
	return []float64{1, 0}, nil
}
func (constEmbedder) Model() string  { return "const" }
func (constEmbedder) Dimensions() int { return 2 }

func testClient(t *testing.T) (*Client, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := engine.NewService(db, constEmbedder{}, engine.DefaultParams(), nil)
	t.Cleanup(svc.Close)
	trimmer := engine.NewTrimmer(db, engine.DefaultParams(), engine.DefaultTrimConfig())

	ts := httptest.NewServer(server.New(svc, "test", server.WithTrimmer(trimmer)))
	t.Cleanup(ts.Close)
	return New(ts.URL + "/"), db
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	assert.True(t, c.Healthy(ctx))

	added, err := c.Add(ctx, "likes tea", "preference", "chat-1")
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.InDelta(t, 0.5, added.InitialScore, 1e-9)

	hits, err := c.Search(ctx, "tea", 5, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, added.ID, hits[0].ID)
	assert.Equal(t, "chat-1", hits[0].Payload.SourceID)

	res, err := c.Trim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Deleted)
	assert.Empty(t, res.Error)
}

func TestClientAPIError(t *testing.T) {
	c, _ := testClient(t)

	_, err := c.Search(context.Background(), "tea", 2, 3)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Message, "retrieve_n")

	_, err = c.Add(context.Background(), "", "chat", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Missing required fields: content, memory_type", apiErr.Message)
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(url)
	assert.False(t, c.Healthy(context.Background()))
	_, err := c.Trim(context.Background())
	assert.Error(t, err)
}

func TestNewFallsBackToEnv(t *testing.T) {
	t.Setenv("FADE_URL", "http://fade.internal:9000/")
	assert.Equal(t, "http://fade.internal:9000", New("").serverURL)

	t.Setenv("FADE_URL", "")
	assert.Equal(t, defaultServerURL, New("").serverURL)
}
