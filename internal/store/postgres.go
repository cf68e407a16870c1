package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" driver
	pgvector "github.com/pgvector/pgvector-go"
)

// PgVectorTable is the Postgres-backed embedding table for deployments whose
// vector set outgrows the JSON artifact. It requires the pgvector extension.
// The file-backed table remains the default; record and index artifacts stay
// on the filesystem either way.
type PgVectorTable struct {
	db *sql.DB
}

var _ EmbeddingTable = (*PgVectorTable)(nil)

// OpenPgVectorTable connects with the given DSN and ensures the schema.
func OpenPgVectorTable(dsn string) (*PgVectorTable, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	const schema = `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS engram_embeddings (
			memory_id  TEXT PRIMARY KEY,
			embedding  vector NOT NULL,
			model      TEXT NOT NULL,
			dimension  INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ensure embeddings schema: %w", err)
	}
	return &PgVectorTable{db: db}, nil
}

// Put stores or replaces the vector for a memory.
func (t *PgVectorTable) Put(ctx context.Context, memoryID string, vector []float32, model string) error {
	if memoryID == "" {
		return fmt.Errorf("%w: memory ID is required", ErrInvalidInput)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", ErrInvalidInput)
	}

	const query = `
		INSERT INTO engram_embeddings (memory_id, embedding, model, dimension, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (memory_id) DO UPDATE SET
			embedding = excluded.embedding,
			model = excluded.model,
			dimension = excluded.dimension,
			updated_at = now()
	`
	_, err := t.db.ExecContext(ctx, query, memoryID, pgvector.NewVector(vector), model, len(vector))
	if err != nil {
		return fmt.Errorf("store: put embedding %s: %w", memoryID, err)
	}
	return nil
}

// Get returns the vector for a memory, or ErrNotFound.
func (t *PgVectorTable) Get(ctx context.Context, memoryID string) ([]float32, error) {
	var vec pgvector.Vector
	err := t.db.QueryRowContext(ctx,
		`SELECT embedding FROM engram_embeddings WHERE memory_id = $1`, memoryID).Scan(&vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get embedding %s: %w", memoryID, err)
	}
	return vec.Slice(), nil
}

// Delete removes the vector. Absent IDs are a no-op.
func (t *PgVectorTable) Delete(ctx context.Context, memoryID string) error {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM engram_embeddings WHERE memory_id = $1`, memoryID); err != nil {
		return fmt.Errorf("store: delete embedding %s: %w", memoryID, err)
	}
	return nil
}

// All returns every stored vector keyed by memory ID.
func (t *PgVectorTable) All(ctx context.Context) (map[string][]float32, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT memory_id, embedding FROM engram_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("store: load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("store: scan embedding: %w", err)
		}
		out[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate embeddings: %w", err)
	}
	return out, nil
}

// Info reports the model and dimension of the most recent write.
func (t *PgVectorTable) Info(ctx context.Context) (string, int, error) {
	var model string
	var dim int
	err := t.db.QueryRowContext(ctx,
		`SELECT model, dimension FROM engram_embeddings ORDER BY updated_at DESC LIMIT 1`).Scan(&model, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("store: embeddings info: %w", err)
	}
	return model, dim, nil
}

// Close releases the database handle.
func (t *PgVectorTable) Close() error {
	return t.db.Close()
}
