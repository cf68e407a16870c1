// Package engine is the orchestration layer: it owns the store, the lexical
// scorer, the embedding provider and the notifier, and exposes the operations
// the API surface calls. Store mutation events keep the lexical index and any
// live event subscribers in sync without coupling the store to either.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/embedding"
	"github.com/engram-memory/engram/internal/lexical"
	"github.com/engram-memory/engram/internal/notify"
	"github.com/engram-memory/engram/internal/search"
	"github.com/engram-memory/engram/internal/store"
	"github.com/engram-memory/engram/pkg/types"
)

// Engine wires the subsystem together.
type Engine struct {
	store    *store.Store
	scorer   lexical.Scorer
	provider embedding.Provider
	notifier notify.Notifier
	ranker   *search.Ranker
	cfg      *config.Config
	log      zerolog.Logger

	// broadcast fans store events out to live API subscribers. Nil until the
	// server attaches its hub.
	broadcast func(store.Event)
}

// New assembles the engine and subscribes it to store mutation events.
// provider may be nil (lexical-only deployment); notifier may be nil.
func New(s *store.Store, scorer lexical.Scorer, provider embedding.Provider, notifier notify.Notifier, cfg *config.Config, log zerolog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	e := &Engine{
		store:    s,
		scorer:   scorer,
		provider: provider,
		notifier: notifier,
		ranker:   search.NewRanker(scorer, provider, s, cfg.Retrieval, log),
		cfg:      cfg,
		log:      log,
	}
	if provider != nil {
		s.SetEmbeddingModel(provider.Model())
	}
	s.Subscribe(e.onStoreEvent)
	return e
}

// SetBroadcast attaches the live event sink. Call before serving traffic.
func (e *Engine) SetBroadcast(fn func(store.Event)) {
	e.broadcast = fn
}

// onStoreEvent keeps the lexical index aligned with the store and forwards
// the event to live subscribers. Runs synchronously after each mutation.
func (e *Engine) onStoreEvent(ev store.Event) {
	switch ev.Op {
	case store.OpCreated:
		if err := e.scorer.Index(lexical.Document{ID: ev.ID, Content: ev.Content}); err != nil {
			e.log.Warn().Str("id", ev.ID).Err(err).Msg("lexical index failed")
		}
	case store.OpUpdated:
		if ev.Content != "" {
			if err := e.scorer.Index(lexical.Document{ID: ev.ID, Content: ev.Content}); err != nil {
				e.log.Warn().Str("id", ev.ID).Err(err).Msg("lexical reindex failed")
			}
		}
	case store.OpDeleted:
		if err := e.scorer.Remove(ev.ID); err != nil {
			e.log.Warn().Str("id", ev.ID).Err(err).Msg("lexical remove failed")
		}
	}
	if e.broadcast != nil {
		e.broadcast(ev)
	}
}

// RebuildLexical replays every stored record into the lexical scorer. Called
// at boot since neither scorer backend is the source of truth.
func (e *Engine) RebuildLexical(ctx context.Context) error {
	entries := e.store.Entries(ctx)
	docs := make([]lexical.Document, 0, len(entries))
	for _, entry := range entries {
		rec, err := e.store.Peek(ctx, entry.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		docs = append(docs, lexical.Document{ID: rec.ID, Content: rec.Content})
	}
	if err := e.scorer.Rebuild(docs); err != nil {
		return fmt.Errorf("engine: rebuild lexical index: %w", err)
	}
	e.log.Info().Int("documents", len(docs)).Msg("lexical index rebuilt")
	return nil
}

// Create stores a memory directly, bypassing the trust gate. The content is
// embedded best-effort before the write.
func (e *Engine) Create(ctx context.Context, m *types.Memory) (*types.Memory, error) {
	if m != nil && len(m.Embedding) == 0 && e.provider != nil {
		m.Embedding = e.provider.Embed(ctx, m.Content)
	}
	return e.store.Create(ctx, m)
}

// Get fetches a memory by ID, recording the access.
func (e *Engine) Get(ctx context.Context, id string) (*types.Memory, error) {
	return e.store.Get(ctx, id)
}

// List pages over index entries.
func (e *Engine) List(ctx context.Context, opts types.ListOptions) (*types.ListResult, error) {
	return e.store.List(ctx, opts)
}

// Update applies a patch. When the content changes the record is re-embedded;
// a provider failure clears the stale vector rather than keeping a vector
// that no longer matches the text.
func (e *Engine) Update(ctx context.Context, id string, patch store.UpdatePatch) (*types.Memory, error) {
	if patch.Content != nil && !patch.SetEmbedding {
		patch.SetEmbedding = true
		if e.provider != nil {
			patch.Embedding = e.provider.Embed(ctx, *patch.Content)
		}
	}
	return e.store.Update(ctx, id, patch)
}

// Delete archives (soft) or purges (hard) a memory.
func (e *Engine) Delete(ctx context.Context, id string, hard bool) error {
	return e.store.Delete(ctx, id, hard)
}

// Archive moves a memory to archived status.
func (e *Engine) Archive(ctx context.Context, id string) (*types.Memory, error) {
	return e.store.Transition(ctx, id, types.StatusArchived)
}

// Link records a bidirectional relation between two memories.
func (e *Engine) Link(ctx context.Context, a, b string) error {
	if a == b {
		return fmt.Errorf("%w: cannot link a memory to itself", store.ErrInvalidInput)
	}
	if err := e.addRelation(ctx, a, b); err != nil {
		return err
	}
	return e.addRelation(ctx, b, a)
}

// Unlink removes the relation in both directions. Missing links are a no-op.
func (e *Engine) Unlink(ctx context.Context, a, b string) error {
	if err := e.removeRelation(ctx, a, b); err != nil {
		return err
	}
	return e.removeRelation(ctx, b, a)
}

func (e *Engine) addRelation(ctx context.Context, from, to string) error {
	rec, err := e.store.Peek(ctx, from)
	if err != nil {
		return err
	}
	if slices.Contains(rec.RelatedMemories, to) {
		return nil
	}
	related := append(append([]string(nil), rec.RelatedMemories...), to)
	_, err = e.store.Update(ctx, from, store.UpdatePatch{RelatedMemories: &related})
	return err
}

func (e *Engine) removeRelation(ctx context.Context, from, to string) error {
	rec, err := e.store.Peek(ctx, from)
	if err != nil {
		return err
	}
	if !slices.Contains(rec.RelatedMemories, to) {
		return nil
	}
	related := slices.DeleteFunc(append([]string(nil), rec.RelatedMemories...), func(id string) bool {
		return id == to
	})
	_, err = e.store.Update(ctx, from, store.UpdatePatch{RelatedMemories: &related})
	return err
}

// SearchResult pairs a fused hit with the full record body.
type SearchResult struct {
	Hit    search.Hit    `json:"hit"`
	Memory *types.Memory `json:"memory"`
}

// Search runs hybrid retrieval and loads the full bodies of the winning
// hits. Retrieval is read-only: it does not bump access counts.
func (e *Engine) Search(ctx context.Context, query string, limit int, filter types.Filter) ([]SearchResult, error) {
	hits, err := e.ranker.Search(ctx, query, limit, filter)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, err := e.store.Peek(ctx, h.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, SearchResult{Hit: h, Memory: rec})
	}
	return out, nil
}

// Stats reports store-level counts.
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.store.Stats(ctx)
}

// Store exposes the underlying store for components that read directly
// (context assembly, maintenance schedulers).
func (e *Engine) Store() *store.Store {
	return e.store
}

// Close shuts the engine's resources down.
func (e *Engine) Close() error {
	if err := e.scorer.Close(); err != nil {
		return err
	}
	return e.store.Close()
}

func daysSince(t time.Time, now time.Time) float64 {
	return now.Sub(t).Hours() / 24
}
