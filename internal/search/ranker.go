// Package search fuses lexical and vector relevance into one ranking using
// weighted Reciprocal Rank Fusion. Either channel may drop out (no embedding
// provider, empty lexical index); the fusion degrades to whatever survives
// rather than failing the query.
package search

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/embedding"
	"github.com/engram-memory/engram/internal/lexical"
	"github.com/engram-memory/engram/internal/vecmath"
	"github.com/engram-memory/engram/pkg/types"
)

// Index is the slice of the store the ranker needs: index entries for
// filtering and the embedding table for similarity scans.
type Index interface {
	Entry(ctx context.Context, id string) (types.IndexEntry, bool)
	Vectors(ctx context.Context) (map[string][]float32, error)
}

// Hit is one fused search result. Score is the RRF sum; the per-channel ranks
// are kept for diagnostics (0 means the channel did not return the ID).
type Hit struct {
	ID          string           `json:"id"`
	Score       float64          `json:"score"`
	LexicalRank int              `json:"lexical_rank,omitempty"`
	VectorRank  int              `json:"vector_rank,omitempty"`
	Entry       types.IndexEntry `json:"entry"`
}

// Ranker runs hybrid retrieval over a lexical scorer and an embedding
// provider.
type Ranker struct {
	scorer   lexical.Scorer
	provider embedding.Provider
	index    Index
	cfg      config.RetrievalConfig
	log      zerolog.Logger
}

// NewRanker wires the ranker. provider may be nil to run lexical-only.
func NewRanker(scorer lexical.Scorer, provider embedding.Provider, index Index, cfg config.RetrievalConfig, log zerolog.Logger) *Ranker {
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.LexicalWeight <= 0 && cfg.VectorWeight <= 0 {
		cfg.LexicalWeight, cfg.VectorWeight = 0.4, 0.6
	}
	return &Ranker{scorer: scorer, provider: provider, index: index, cfg: cfg, log: log}
}

// Search returns up to limit hits for query, fused across both channels and
// filtered. Records outside active status are excluded unless the filter
// names statuses explicitly.
func (r *Ranker) Search(ctx context.Context, query string, limit int, filter types.Filter) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	// Each channel over-fetches so post-fusion filtering still fills the page.
	candidateLimit := limit * 3
	if candidateLimit < 30 {
		candidateLimit = 30
	}

	lexHits := r.lexicalRanks(query, candidateLimit)
	vecHits := r.vectorRanks(ctx, query, candidateLimit)
	if len(lexHits) == 0 && len(vecHits) == 0 {
		return nil, nil
	}

	fused := make(map[string]*Hit)
	at := func(id string) *Hit {
		h, ok := fused[id]
		if !ok {
			h = &Hit{ID: id}
			fused[id] = h
		}
		return h
	}
	for rank, res := range lexHits {
		h := at(res.ID)
		h.LexicalRank = rank + 1
		h.Score += r.cfg.LexicalWeight / (r.cfg.RRFK + float64(rank+1))
	}
	for rank, res := range vecHits {
		h := at(res.ID)
		h.VectorRank = rank + 1
		h.Score += r.cfg.VectorWeight / (r.cfg.RRFK + float64(rank+1))
	}

	out := make([]Hit, 0, len(fused))
	for _, h := range fused {
		entry, ok := r.index.Entry(ctx, h.ID)
		if !ok {
			// channel index lagging behind a hard delete
			continue
		}
		if len(filter.Statuses) == 0 && entry.Status != types.StatusActive {
			continue
		}
		if !filter.Matches(entry) {
			continue
		}
		h.Entry = entry
		out = append(out, *h)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Ranker) lexicalRanks(query string, limit int) []lexical.Result {
	if r.scorer == nil {
		return nil
	}
	hits, err := r.scorer.Search(query, limit, 0)
	if err != nil {
		r.log.Warn().Err(err).Msg("lexical channel failed, continuing vector-only")
		return nil
	}
	return hits
}

func (r *Ranker) vectorRanks(ctx context.Context, query string, limit int) []vecmath.Scored {
	if r.provider == nil {
		return nil
	}
	vec := r.provider.Embed(ctx, query)
	if vec == nil {
		return nil
	}
	vectors, err := r.index.Vectors(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("embedding table unavailable, continuing lexical-only")
		return nil
	}
	return vecmath.TopK(vec, vectors, limit)
}
