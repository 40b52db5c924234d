package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// saveVector stores or replaces the embedding for a point inside tx.
func (db *DB) saveVector(ctx context.Context, tx *sql.Tx, id string, embedding []float64) error {
	blob := encodeEmbedding(embedding)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_vectors (collection, id, embedding, dimensions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET embedding = excluded.embedding, dimensions = excluded.dimensions
	`, db.Collection, id, blob, len(embedding))
	if err != nil {
		return fmt.Errorf("save vector %s: %w", id, err)
	}
	return nil
}

// GetVector returns the embedding for a point, or nil if not found.
func (db *DB) GetVector(ctx context.Context, id string) ([]float64, error) {
	var blob []byte
	err := db.QueryRowContext(ctx, `
		SELECT embedding FROM memory_vectors WHERE collection = ? AND id = ?
	`, db.Collection, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	return decodeEmbedding(blob), nil
}
