package store

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// EmbeddingTable maps memory IDs to vectors, persisted separately from the
// full records so similarity scans never re-read content bodies. The model
// and dimension are fixed per provider/model pair and recorded alongside.
type EmbeddingTable interface {
	// Put stores or replaces the vector for a memory.
	Put(ctx context.Context, memoryID string, vector []float32, model string) error

	// Get returns the vector for a memory, or ErrNotFound.
	Get(ctx context.Context, memoryID string) ([]float32, error)

	// Delete removes the vector. Deleting an absent ID is a no-op.
	Delete(ctx context.Context, memoryID string) error

	// All returns every stored vector keyed by memory ID.
	All(ctx context.Context) (map[string][]float32, error)

	// Info reports the recorded model and dimension; dimension 0 means the
	// table is empty.
	Info(ctx context.Context) (model string, dimension int, err error)

	// Close releases any resources held by the table.
	Close() error
}

// fileTableArtifact is the JSON shape of the embeddings artifact.
type fileTableArtifact struct {
	Model     string               `json:"model"`
	Dimension int                  `json:"dimension"`
	Vectors   map[string][]float32 `json:"vectors"`
}

// FileTable is the default embedding table: one JSON artifact, rewritten with
// atomic replace on every change, mirrored in memory for scans.
type FileTable struct {
	path string

	mu        sync.RWMutex
	model     string
	dimension int
	vectors   map[string][]float32
}

var _ EmbeddingTable = (*FileTable)(nil)

// OpenFileTable loads the artifact at path. A missing or corrupt artifact
// yields an empty table rather than an error.
func OpenFileTable(path string) (*FileTable, error) {
	t := &FileTable{path: path, vectors: make(map[string][]float32)}

	var artifact fileTableArtifact
	err := readJSON(path, &artifact)
	switch {
	case os.IsNotExist(err):
		// fresh install
	case err != nil:
		// Damaged artifact: start empty, vectors regenerate over time.
		return t, nil
	default:
		t.model = artifact.Model
		t.dimension = artifact.Dimension
		if artifact.Vectors != nil {
			t.vectors = artifact.Vectors
		}
	}
	return t, nil
}

// Put stores or replaces the vector for a memory and persists the artifact.
func (t *FileTable) Put(_ context.Context, memoryID string, vector []float32, model string) error {
	if memoryID == "" {
		return fmt.Errorf("%w: memory ID is required", ErrInvalidInput)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dimension != 0 && t.dimension != len(vector) {
		return fmt.Errorf("%w: vector dimension %d does not match table dimension %d",
			ErrInvalidInput, len(vector), t.dimension)
	}
	t.model = model
	t.dimension = len(vector)
	t.vectors[memoryID] = append([]float32(nil), vector...)
	return t.persistLocked()
}

// Get returns the vector for a memory, or ErrNotFound.
func (t *FileTable) Get(_ context.Context, memoryID string) ([]float32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vec, ok := t.vectors[memoryID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]float32(nil), vec...), nil
}

// Delete removes the vector. Absent IDs are a no-op.
func (t *FileTable) Delete(_ context.Context, memoryID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.vectors[memoryID]; !ok {
		return nil
	}
	delete(t.vectors, memoryID)
	return t.persistLocked()
}

// All returns a copy of every stored vector.
func (t *FileTable) All(_ context.Context) (map[string][]float32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]float32, len(t.vectors))
	for id, vec := range t.vectors {
		out[id] = append([]float32(nil), vec...)
	}
	return out, nil
}

// Info reports the recorded model and dimension.
func (t *FileTable) Info(_ context.Context) (string, int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.model, t.dimension, nil
}

// Close is a no-op for the file table.
func (t *FileTable) Close() error { return nil }

// reload replaces in-memory state from the artifact on disk.
func (t *FileTable) reload() {
	var artifact fileTableArtifact
	if err := readJSON(t.path, &artifact); err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.model = artifact.Model
	t.dimension = artifact.Dimension
	if artifact.Vectors == nil {
		artifact.Vectors = make(map[string][]float32)
	}
	t.vectors = artifact.Vectors
}

func (t *FileTable) persistLocked() error {
	return atomicWriteJSON(t.path, fileTableArtifact{
		Model:     t.model,
		Dimension: t.dimension,
		Vectors:   t.vectors,
	})
}
