package engine

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/fade/internal/store"
)

var trimNow = time.Unix(1_000_000, 0)

func newTestTrimmer(vs store.VectorStore, cfg TrimConfig) *Trimmer {
	tr := NewTrimmer(vs, DefaultParams(), cfg)
	tr.now = func() time.Time { return trimNow }
	return tr
}

// seedAges stores one point per entry; the value is the age in seconds.
// Points are never accessed and carry the floor score, so trim score is
// (age + 1.5*age) / ln(1.1).
func seedAges(t *testing.T, db *store.DB, ages map[string]float64) {
	t.Helper()
	now := float64(trimNow.Unix())
	var points []store.Point
	for id, age := range ages {
		points = append(points, store.Point{
			ID:     id,
			Vector: []float64{1},
			Payload: &store.Payload{
				TimestampCreated:      store.Float(now - age),
				TimestampLastAccessed: store.Float(now - age),
				WeightedAccessScore:   store.Float(0),
			},
		})
	}
	require.NoError(t, db.Upsert(context.Background(), points))
}

func remainingIDs(t *testing.T, db *store.DB) []string {
	t.Helper()
	page, err := db.Scroll(context.Background(), store.ScrollRequest{Limit: 1000})
	require.NoError(t, err)
	var ids []string
	for _, p := range page.Points {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}

// threshold 1000 evicts anything older than about 38s
var smallThreshold = TrimConfig{Threshold: 1000, BatchSize: 3}

func TestTrimDeletesAboveThresholdAcrossPages(t *testing.T) {
	db := testDB(t)
	seedAges(t, db, map[string]float64{
		"a-old": 1000, "b-new": 1, "c-old": 500,
		"d-new": 2, "e-new": 3, "f-new": 4,
		"g-old": 100, "h-old": 90,
	})
	spy := &spyStore{VectorStore: db}

	res := newTestTrimmer(spy, smallThreshold).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 8, res.Scanned)
	assert.Equal(t, 4, res.Deleted)

	assert.Equal(t, []string{"b-new", "d-new", "e-new", "f-new"}, remainingIDs(t, db))

	// pages: [a b c] [d e f] [g h]; the middle page has nothing to delete
	assert.Equal(t, 3, spy.scrolls)
	assert.Equal(t, [][]string{{"a-old", "c-old"}, {"g-old", "h-old"}}, spy.deleteCalls())
}

func TestTrimEmptyStore(t *testing.T) {
	spy := &spyStore{VectorStore: testDB(t)}

	res := newTestTrimmer(spy, smallThreshold).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Zero(t, res.Scanned)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 1, spy.scrolls)
	assert.Empty(t, spy.deleteCalls())
}

func TestTrimFullPageSingleDelete(t *testing.T) {
	db := testDB(t)
	seedAges(t, db, map[string]float64{"a": 1000, "b": 1000, "c": 1000})
	spy := &spyStore{VectorStore: db}

	res := newTestTrimmer(spy, smallThreshold).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Deleted)
	assert.Len(t, spy.deleteCalls(), 1)
	assert.Empty(t, remainingIDs(t, db))
}

func TestTrimSkipsPayloadlessPoints(t *testing.T) {
	db := testDB(t)
	seedAges(t, db, map[string]float64{"old": 1000})
	require.NoError(t, db.Upsert(context.Background(), []store.Point{{ID: "bare", Vector: []float64{1}}}))

	res := newTestTrimmer(db, smallThreshold).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"bare"}, remainingIDs(t, db))
}

func TestTrimMinAgeFilter(t *testing.T) {
	db := testDB(t)
	seedAges(t, db, map[string]float64{"ancient": 7200, "recent": 600})

	cfg := smallThreshold
	cfg.MinAge = time.Hour
	res := newTestTrimmer(db, cfg).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Scanned, "items younger than the minimum age are never scanned")
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"recent"}, remainingIDs(t, db))
}

func TestTrimProtectsUsedMemories(t *testing.T) {
	db := testDB(t)
	now := float64(trimNow.Unix())
	require.NoError(t, db.Upsert(context.Background(), []store.Point{
		{ID: "popular", Vector: []float64{1}, Payload: &store.Payload{
			TimestampCreated:      store.Float(now - 1000),
			TimestampLastAccessed: store.Float(now - 10),
			WeightedAccessScore:   store.Float(1e6),
		}},
		{ID: "ignored", Vector: []float64{1}, Payload: &store.Payload{
			TimestampCreated: store.Float(now - 1000),
		}},
	}))

	cfg := TrimConfig{Threshold: 500, BatchSize: 10}
	res := newTestTrimmer(db, cfg).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"popular"}, remainingIDs(t, db))
}

func TestTrimScrollErrorAborts(t *testing.T) {
	spy := &spyStore{VectorStore: testDB(t), scrollErr: errBoom}

	res := newTestTrimmer(spy, smallThreshold).Run(context.Background())
	assert.ErrorIs(t, res.Err, errBoom)
	assert.Zero(t, res.Scanned)
	assert.Empty(t, spy.deleteCalls())
}

func TestTrimDeleteErrorLeavesPartialProgress(t *testing.T) {
	db := testDB(t)
	ages := map[string]float64{}
	for i := 0; i < 9; i++ {
		ages[fmt.Sprintf("p-%d", i)] = 1000
	}
	seedAges(t, db, ages)
	spy := &spyStore{VectorStore: db, deleteErr: errBoom, failDeleteAt: 2}

	res := newTestTrimmer(spy, smallThreshold).Run(context.Background())
	require.ErrorIs(t, res.Err, errBoom)
	assert.Equal(t, 6, res.Scanned)
	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 2, spy.scrolls, "no pages after the failure")
	assert.Len(t, remainingIDs(t, db), 6)

	// A fresh run finishes the job.
	spy.deleteErr = nil
	res = newTestTrimmer(spy, smallThreshold).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 6, res.Deleted)
	assert.Empty(t, remainingIDs(t, db))
}

func TestTrimCancelled(t *testing.T) {
	db := testDB(t)
	seedAges(t, db, map[string]float64{"a": 1000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestTrimmer(db, smallThreshold).Run(ctx)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Len(t, remainingIDs(t, db), 1)
}

func TestTrimSkipsWhenAlreadyRunning(t *testing.T) {
	tr := newTestTrimmer(testDB(t), smallThreshold)
	tr.running.Store(true)

	res := tr.Run(context.Background())
	assert.ErrorIs(t, res.Err, ErrTrimInProgress)
	assert.True(t, tr.Running())

	tr.running.Store(false)
	res = tr.Run(context.Background())
	assert.NoError(t, res.Err)
	assert.False(t, tr.Running())
}
