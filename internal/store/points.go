package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

const payloadColumns = `id, has_payload, content, memory_type, source_id,
	timestamp_created, timestamp_last_accessed, weighted_access_score`

// Upsert writes or overwrites points and their vectors in one transaction.
func (db *DB) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("upsert: point id required")
		}

		var pl Payload
		hasPayload := 0
		if p.Payload != nil {
			pl = *p.Payload
			hasPayload = 1
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (collection, id, has_payload, content, memory_type, source_id,
				timestamp_created, timestamp_last_accessed, weighted_access_score)
			VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				has_payload = excluded.has_payload,
				content = excluded.content,
				memory_type = excluded.memory_type,
				source_id = excluded.source_id,
				timestamp_created = excluded.timestamp_created,
				timestamp_last_accessed = excluded.timestamp_last_accessed,
				weighted_access_score = excluded.weighted_access_score
		`, db.Collection, p.ID, hasPayload, pl.Content, pl.MemoryType, pl.SourceID,
			nullFloat(pl.TimestampCreated), nullFloat(pl.TimestampLastAccessed), nullFloat(pl.WeightedAccessScore))
		if err != nil {
			return fmt.Errorf("upsert point %s: %w", p.ID, err)
		}

		if len(p.Vector) > 0 {
			if err := db.saveVector(ctx, tx, p.ID, p.Vector); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Search scores every stored vector in the collection against the query
// and returns the top limit hits by descending cosine similarity.
func (db *DB) Search(ctx context.Context, vector []float64, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT m.id, m.has_payload, m.content, m.memory_type, m.source_id,
			m.timestamp_created, m.timestamp_last_accessed, m.weighted_access_score, v.embedding
		FROM memories m
		JOIN memory_vectors v ON v.collection = m.collection AND v.id = m.id
		WHERE m.collection = ?
	`, db.Collection)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []ScoredPoint
	for rows.Next() {
		var blob []byte
		id, payload, err := scanPayload(rows, &blob)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredPoint{
			ID:      id,
			Score:   CosineSimilarity(vector, decodeEmbedding(blob)),
			Payload: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Scroll returns one page of the collection ordered by id. The cursor is the id
// of the first point of the next page, so deleting points from the current page
// never invalidates it.
func (db *DB) Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + payloadColumns + ` FROM memories WHERE collection = ? AND id >= ?`
	args := []any{db.Collection, req.Offset}
	if req.Filter != nil && req.Filter.CreatedBefore != nil {
		query += ` AND timestamp_created < ?`
		args = append(args, *req.Filter.CreatedBefore)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit+1)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return ScrollPage{}, fmt.Errorf("scroll: %w", err)
	}
	defer rows.Close()

	var page ScrollPage
	for rows.Next() {
		id, payload, err := scanPayload(rows)
		if err != nil {
			return ScrollPage{}, err
		}
		page.Points = append(page.Points, Point{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return ScrollPage{}, fmt.Errorf("scroll rows: %w", err)
	}

	if len(page.Points) > limit {
		page.NextOffset = page.Points[limit].ID
		page.Points = page.Points[:limit]
	}
	return page, nil
}

// SetPayloads merges score and access time into existing points. SQLite writes
// are synchronous, so wait has no effect.
func (db *DB) SetPayloads(ctx context.Context, updates []PayloadUpdate, wait bool) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set payload: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE memories SET weighted_access_score = ?, timestamp_last_accessed = ?, has_payload = 1
			WHERE collection = ? AND id = ?
		`, u.WeightedAccessScore, u.TimestampLastAccessed, db.Collection, u.ID)
		if err != nil {
			return fmt.Errorf("set payload %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set payload: %w", err)
	}
	return nil
}

// Delete removes the given points; their vectors cascade.
func (db *DB) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, db.Collection)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`DELETE FROM memories WHERE collection = ? AND id IN (%s)`,
		strings.Join(placeholders, ","))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE collection = ?", db.Collection).Scan(&n)
	return n, err
}

// scanPayload reads the payloadColumns (plus any extra destinations) from a row.
func scanPayload(rows *sql.Rows, extra ...any) (string, *Payload, error) {
	var (
		id                              string
		hasPayload                      int
		content, memoryType, sourceID   sql.NullString
		created, lastAccessed, weighted sql.NullFloat64
	)
	dest := []any{&id, &hasPayload, &content, &memoryType, &sourceID, &created, &lastAccessed, &weighted}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return "", nil, fmt.Errorf("scan point: %w", err)
	}
	if hasPayload == 0 {
		return id, nil, nil
	}

	p := &Payload{
		Content:    content.String,
		MemoryType: memoryType.String,
		SourceID:   sourceID.String,
	}
	if created.Valid {
		p.TimestampCreated = Float(created.Float64)
	}
	if lastAccessed.Valid {
		p.TimestampLastAccessed = Float(lastAccessed.Float64)
	}
	if weighted.Valid {
		p.WeightedAccessScore = Float(weighted.Float64)
	}
	return id, p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
