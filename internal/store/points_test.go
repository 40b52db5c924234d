package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPoints(t *testing.T, db *DB, n int) {
	t.Helper()
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{
			ID:     fmt.Sprintf("p-%03d", i),
			Vector: []float64{float64(i + 1), 1},
			Payload: &Payload{
				Content:               fmt.Sprintf("memory %d", i),
				MemoryType:            "chat",
				TimestampCreated:      Float(float64(1000 + i)),
				TimestampLastAccessed: Float(float64(1000 + i)),
				WeightedAccessScore:   Float(0.5),
			},
		}
	}
	require.NoError(t, db.Upsert(context.Background(), points))
}

func TestUpsertRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Upsert(ctx, []Point{{
		ID:     "a",
		Vector: []float64{1, 0},
		Payload: &Payload{
			Content:             "likes tea",
			MemoryType:          "preference",
			SourceID:            "chat-7",
			TimestampCreated:    Float(100),
			WeightedAccessScore: Float(0.5),
		},
	}}))

	page, err := db.Scroll(ctx, ScrollRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Points, 1)

	p := page.Points[0].Payload
	require.NotNil(t, p)
	assert.Equal(t, "likes tea", p.Content)
	assert.Equal(t, "preference", p.MemoryType)
	assert.Equal(t, "chat-7", p.SourceID)
	assert.Equal(t, 100.0, *p.TimestampCreated)
	assert.Nil(t, p.TimestampLastAccessed)
	assert.Equal(t, 0.5, *p.WeightedAccessScore)
}

func TestUpsertWithoutPayload(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Upsert(ctx, []Point{{ID: "bare", Vector: []float64{1}}}))

	page, err := db.Scroll(ctx, ScrollRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Points, 1)
	assert.Nil(t, page.Points[0].Payload)
}

func TestUpsertRequiresID(t *testing.T) {
	db := testDB(t)
	err := db.Upsert(context.Background(), []Point{{Payload: &Payload{}}})
	assert.Error(t, err)
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Upsert(ctx, []Point{
		{ID: "east", Vector: []float64{1, 0}, Payload: &Payload{Content: "east"}},
		{ID: "north", Vector: []float64{0, 1}, Payload: &Payload{Content: "north"}},
		{ID: "northeast", Vector: []float64{1, 1}, Payload: &Payload{Content: "northeast"}},
	}))

	hits, err := db.Search(ctx, []float64{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "east", hits[0].ID)
	assert.Equal(t, "northeast", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "east", hits[0].Payload.Content)
}

func TestSearchIsScopedToCollection(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Upsert(ctx, []Point{{ID: "mine", Vector: []float64{1}, Payload: &Payload{}}}))

	other := &DB{DB: db.DB, Path: db.Path, Collection: "other"}
	hits, err := other.Search(ctx, []float64{1}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScrollPaginates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedPoints(t, db, 7)

	var (
		seen   []string
		offset string
		pages  int
	)
	for {
		page, err := db.Scroll(ctx, ScrollRequest{Offset: offset, Limit: 3})
		require.NoError(t, err)
		pages++
		for _, p := range page.Points {
			seen = append(seen, p.ID)
		}
		if page.NextOffset == "" {
			break
		}
		offset = page.NextOffset
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 7)
	assert.Equal(t, "p-000", seen[0])
	assert.Equal(t, "p-006", seen[6])
}

func TestScrollExactPageHasNoCursor(t *testing.T) {
	db := testDB(t)
	seedPoints(t, db, 3)

	page, err := db.Scroll(context.Background(), ScrollRequest{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Points, 3)
	assert.Empty(t, page.NextOffset)
}

func TestScrollCursorSurvivesDeletes(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedPoints(t, db, 4)

	page, err := db.Scroll(ctx, ScrollRequest{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, "p-002", page.NextOffset)

	require.NoError(t, db.Delete(ctx, []string{"p-000", "p-001"}))

	next, err := db.Scroll(ctx, ScrollRequest{Offset: page.NextOffset, Limit: 2})
	require.NoError(t, err)
	require.Len(t, next.Points, 2)
	assert.Equal(t, "p-002", next.Points[0].ID)
	assert.Empty(t, next.NextOffset)
}

func TestScrollFilterCreatedBefore(t *testing.T) {
	db := testDB(t)
	seedPoints(t, db, 5) // created 1000..1004

	page, err := db.Scroll(context.Background(), ScrollRequest{
		Limit:  10,
		Filter: &Filter{CreatedBefore: Float(1002)},
	})
	require.NoError(t, err)
	require.Len(t, page.Points, 2)
	assert.Equal(t, "p-000", page.Points[0].ID)
	assert.Equal(t, "p-001", page.Points[1].ID)
}

func TestScrollEmpty(t *testing.T) {
	db := testDB(t)

	page, err := db.Scroll(context.Background(), ScrollRequest{Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Points)
	assert.Empty(t, page.NextOffset)
}

func TestSetPayloadsPerItem(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedPoints(t, db, 3)

	require.NoError(t, db.SetPayloads(ctx, []PayloadUpdate{
		{ID: "p-000", WeightedAccessScore: 1.44, TimestampLastAccessed: 2000},
		{ID: "p-002", WeightedAccessScore: 3.0, TimestampLastAccessed: 2001},
	}, false))

	page, err := db.Scroll(ctx, ScrollRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Points, 3)

	assert.Equal(t, 1.44, *page.Points[0].Payload.WeightedAccessScore)
	assert.Equal(t, 2000.0, *page.Points[0].Payload.TimestampLastAccessed)
	assert.Equal(t, 0.5, *page.Points[1].Payload.WeightedAccessScore)
	assert.Equal(t, 3.0, *page.Points[2].Payload.WeightedAccessScore)
	// untouched fields survive the merge
	assert.Equal(t, "memory 0", page.Points[0].Payload.Content)
}

func TestDeleteBatch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedPoints(t, db, 5)

	require.NoError(t, db.Delete(ctx, []string{"p-001", "p-003", "missing"}))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, db.Delete(ctx, nil))
}

func TestPing(t *testing.T) {
	db := testDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}
