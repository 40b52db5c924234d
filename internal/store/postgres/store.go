// Package postgres implements store.VectorStore on PostgreSQL with the pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lazypower/fade/internal/store"
)

// Schema is idempotent; every statement uses IF NOT EXISTS.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    collection               TEXT NOT NULL,
    id                       TEXT NOT NULL,
    has_payload              BOOLEAN NOT NULL DEFAULT TRUE,
    content                  TEXT,
    memory_type              TEXT,
    source_id                TEXT,
    timestamp_created        DOUBLE PRECISION,
    timestamp_last_accessed  DOUBLE PRECISION,
    weighted_access_score    DOUBLE PRECISION CHECK (weighted_access_score IS NULL OR weighted_access_score >= 0),
    embedding                vector,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(collection, timestamp_created);
`

const payloadColumns = `id, has_payload, content, memory_type, source_id,
	timestamp_created, timestamp_last_accessed, weighted_access_score`

// Store is a pgvector-backed VectorStore bound to one collection.
type Store struct {
	db         *sql.DB
	collection string
}

var _ store.VectorStore = (*Store)(nil)

// Open connects to dsn, applies Schema and returns a Store for collection.
func Open(dsn, collection string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	if collection == "" {
		collection = store.DefaultCollection
	}
	return &Store{db: db, collection: collection}, nil
}

// Upsert writes points and their embeddings in one transaction.
func (s *Store) Upsert(ctx context.Context, points []store.Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, p := range points {
		var pl store.Payload
		if p.Payload != nil {
			pl = *p.Payload
		}

		var vec any
		if len(p.Vector) > 0 {
			vec = pgvector.NewVector(toFloat32(p.Vector))
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (collection, id, has_payload, content, memory_type, source_id,
				timestamp_created, timestamp_last_accessed, weighted_access_score, embedding)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)
			ON CONFLICT (collection, id) DO UPDATE SET
				has_payload = EXCLUDED.has_payload,
				content = EXCLUDED.content,
				memory_type = EXCLUDED.memory_type,
				source_id = EXCLUDED.source_id,
				timestamp_created = EXCLUDED.timestamp_created,
				timestamp_last_accessed = EXCLUDED.timestamp_last_accessed,
				weighted_access_score = EXCLUDED.weighted_access_score,
				embedding = COALESCE(EXCLUDED.embedding, memories.embedding)
		`, s.collection, p.ID, p.Payload != nil, pl.Content, pl.MemoryType, pl.SourceID,
			nullFloat(pl.TimestampCreated), nullFloat(pl.TimestampLastAccessed), nullFloat(pl.WeightedAccessScore), vec)
		if err != nil {
			return fmt.Errorf("postgres: upsert point %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit upsert: %w", err)
	}
	return nil
}

// Search orders by cosine distance and reports similarity as 1 - distance.
func (s *Store) Search(ctx context.Context, vector []float64, limit int) ([]store.ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := pgvector.NewVector(toFloat32(vector))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+payloadColumns+`, 1 - (embedding <=> $2) AS similarity
		FROM memories
		WHERE collection = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3
	`, s.collection, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	var hits []store.ScoredPoint
	for rows.Next() {
		var score float64
		id, payload, err := scanPayload(rows, &score)
		if err != nil {
			return nil, err
		}
		hits = append(hits, store.ScoredPoint{ID: id, Score: score, Payload: payload})
	}
	return hits, rows.Err()
}

// Scroll pages by id; the cursor is the first id of the next page.
func (s *Store) Scroll(ctx context.Context, req store.ScrollRequest) (store.ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + payloadColumns + ` FROM memories WHERE collection = $1 AND id COLLATE "C" >= $2`
	args := []any{s.collection, req.Offset}
	if req.Filter != nil && req.Filter.CreatedBefore != nil {
		args = append(args, *req.Filter.CreatedBefore)
		query += fmt.Sprintf(` AND timestamp_created < $%d`, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(` ORDER BY id COLLATE "C" LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return store.ScrollPage{}, fmt.Errorf("postgres: scroll: %w", err)
	}
	defer rows.Close()

	var page store.ScrollPage
	for rows.Next() {
		id, payload, err := scanPayload(rows)
		if err != nil {
			return store.ScrollPage{}, err
		}
		page.Points = append(page.Points, store.Point{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return store.ScrollPage{}, fmt.Errorf("postgres: scroll rows: %w", err)
	}

	if len(page.Points) > limit {
		page.NextOffset = page.Points[limit].ID
		page.Points = page.Points[:limit]
	}
	return page, nil
}

// SetPayloads updates score and access time per item in one transaction.
func (s *Store) SetPayloads(ctx context.Context, updates []store.PayloadUpdate, wait bool) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin set payload: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE memories SET weighted_access_score = $1, timestamp_last_accessed = $2, has_payload = TRUE
			WHERE collection = $3 AND id = $4
		`, u.WeightedAccessScore, u.TimestampLastAccessed, s.collection, u.ID)
		if err != nil {
			return fmt.Errorf("postgres: set payload %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit set payload: %w", err)
	}
	return nil
}

// Delete removes ids in a single statement.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE collection = $1 AND id = ANY($2)`,
		s.collection, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("postgres: delete points: %w", err)
	}
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanPayload(rows *sql.Rows, extra ...any) (string, *store.Payload, error) {
	var (
		id                              string
		hasPayload                      bool
		content, memoryType, sourceID   sql.NullString
		created, lastAccessed, weighted sql.NullFloat64
	)
	dest := []any{&id, &hasPayload, &content, &memoryType, &sourceID, &created, &lastAccessed, &weighted}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return "", nil, fmt.Errorf("postgres: scan point: %w", err)
	}
	if !hasPayload {
		return id, nil, nil
	}

	p := &store.Payload{
		Content:    content.String,
		MemoryType: memoryType.String,
		SourceID:   sourceID.String,
	}
	if created.Valid {
		p.TimestampCreated = store.Float(created.Float64)
	}
	if lastAccessed.Valid {
		p.TimestampLastAccessed = store.Float(lastAccessed.Float64)
	}
	if weighted.Valid {
		p.WeightedAccessScore = store.Float(weighted.Float64)
	}
	return id, p, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
