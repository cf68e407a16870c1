package store

import (
	"context"

	"github.com/samber/lo"

	"github.com/engram-memory/engram/pkg/types"
)

// Stats summarizes the store contents for the stats endpoint and CLI.
type Stats struct {
	Total      int                          `json:"total"`
	ByType     map[types.MemoryType]int     `json:"by_type"`
	ByCategory map[string]int               `json:"by_category"`
	ByStatus   map[types.MemoryStatus]int   `json:"by_status"`

	// Embedding coverage: how many active records carry a vector.
	WithEmbedding     int     `json:"with_embedding"`
	EmbeddingCoverage float64 `json:"embedding_coverage"`
	EmbeddingModel    string  `json:"embedding_model,omitempty"`
	EmbeddingDim      int     `json:"embedding_dimension,omitempty"`
}

// Stats computes counts over the index snapshot plus embedding-table info.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	entries := s.index.snapshot()

	st := &Stats{
		Total:  len(entries),
		ByType: lo.CountValuesBy(entries, func(e types.IndexEntry) types.MemoryType { return e.Type }),
		ByStatus: lo.CountValuesBy(entries, func(e types.IndexEntry) types.MemoryStatus {
			return e.Status
		}),
		ByCategory: lo.CountValuesBy(
			lo.Filter(entries, func(e types.IndexEntry, _ int) bool { return e.Category != "" }),
			func(e types.IndexEntry) string { return e.Category },
		),
	}

	vectors, err := s.table.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, ok := vectors[e.ID]; ok {
			st.WithEmbedding++
		}
	}
	if st.Total > 0 {
		st.EmbeddingCoverage = float64(st.WithEmbedding) / float64(st.Total)
	}

	model, dim, err := s.table.Info(ctx)
	if err != nil {
		return nil, err
	}
	st.EmbeddingModel = model
	st.EmbeddingDim = dim
	return st, nil
}
