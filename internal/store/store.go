// Package store implements the durable memory store: full records as one
// JSON artifact each, a lightweight index artifact for filtering, and an
// embedding table persisted separately. All mutations serialize through a
// single FIFO lock; reads of already-loaded data never block on it.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/engram-memory/engram/pkg/types"
)

// EventOp names a store mutation kind.
type EventOp string

// Mutation event kinds.
const (
	OpCreated       EventOp = "created"
	OpUpdated       EventOp = "updated"
	OpStatusChanged EventOp = "status_changed"
	OpDeleted       EventOp = "deleted"
)

// Event describes one completed mutation. Events fire after the lock-guarded
// critical section returns, so handlers (lexical indexing, websocket
// broadcast) never run inside the write path.
type Event struct {
	Op      EventOp            `json:"op"`
	ID      string             `json:"id"`
	Status  types.MemoryStatus `json:"status,omitempty"`
	Content string             `json:"-"`
}

// Store is the single-writer memory store.
type Store struct {
	dataDir string

	mu    *fifoMutex
	index *indexCache
	table EmbeddingTable
	cache *lru.Cache[string, *types.Memory]
	log   zerolog.Logger

	handlerMu sync.RWMutex
	handlers  []func(Event)

	// lastWrite lets the external-change watcher distinguish our own artifact
	// writes from out-of-process ones.
	lastWrite atomic.Int64

	// embedModel labels vectors written to the embedding table. Set once at
	// boot before any writes.
	embedModel string
}

// SetEmbeddingModel records the model name written alongside new vectors.
func (s *Store) SetEmbeddingModel(model string) {
	s.embedModel = model
}

// Open initializes the store rooted at dataDir with the given embedding
// table. Missing artifacts mean a fresh install; a corrupt index is rebuilt
// from the per-record artifacts rather than propagated as an error.
func Open(dataDir string, table EmbeddingTable, cacheSize int, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "memories"), 0o700); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dataDir, err)
	}
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, err := lru.New[string, *types.Memory](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("store: record cache: %w", err)
	}

	s := &Store{
		dataDir: dataDir,
		mu:      newFIFOMutex(),
		index:   newIndexCache(),
		table:   table,
		cache:   cache,
		log:     log,
	}
	s.loadIndex()
	return s, nil
}

// Subscribe registers a mutation event handler. Handlers run synchronously
// after each mutation's critical section, in registration order.
func (s *Store) Subscribe(fn func(Event)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, fn)
}

func (s *Store) fire(ev Event) {
	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Create persists a new memory. The caller supplies type, content and
// metadata; the store assigns ID and timestamps, derives a summary when none
// is given, and clamps confidence and importance. The optional embedding is
// written to the embedding table in the same critical section.
func (s *Store) Create(ctx context.Context, m *types.Memory) (*types.Memory, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: memory is required", ErrInvalidInput)
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, m.Type)
	}
	if strings.TrimSpace(m.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if m.Status == "" {
		m.Status = types.StatusActive
	}
	if m.Status != types.StatusActive && m.Status != types.StatusPendingApproval {
		return nil, fmt.Errorf("%w: initial status must be active or pending_approval", ErrInvalidInput)
	}

	rec := m.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Summary == "" {
		rec.Summary = types.DeriveSummary(rec.Content)
	}
	rec.Confidence = types.Clamp01(rec.Confidence)
	if rec.Importance == 0 {
		rec.Importance = 0.5
	}
	rec.Importance = types.Clamp01(rec.Importance)
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.AccessCount = 0
	rec.LastAccessed = nil

	s.mu.Lock()
	err := s.persistLocked(ctx, rec, len(rec.Embedding) > 0)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.cache.Add(rec.ID, rec.Clone())
	s.fire(Event{Op: OpCreated, ID: rec.ID, Status: rec.Status, Content: rec.Content})
	return rec, nil
}

// Get loads a memory by ID and records the access: accessCount increments
// and lastAccessed moves, persisted through the same write path as any other
// mutation. Returns ErrNotFound for unknown IDs.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	s.mu.Lock()
	rec, err := s.loadLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rec.AccessCount++
	now := time.Now().UTC()
	rec.LastAccessed = &now
	err = s.persistLocked(ctx, rec, false)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.cache.Add(rec.ID, rec.Clone())
	return rec, nil
}

// Peek loads a memory without recording access telemetry. Retrieval and
// assembly use this so a search hit does not count as a fetch-by-id.
func (s *Store) Peek(_ context.Context, id string) (*types.Memory, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec.Clone(), nil
	}
	rec, err := s.readRecord(id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, rec.Clone())
	return rec, nil
}

// List pages over index entries only; full bodies are never loaded. It runs
// lock-free against the index snapshot.
func (s *Store) List(_ context.Context, opts types.ListOptions) (*types.ListResult, error) {
	if err := opts.Filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	opts.Normalize()

	entries := s.index.snapshot()
	matched := entries[:0:0]
	for _, e := range entries {
		if opts.Filter.Matches(e) {
			matched = append(matched, e)
		}
	}

	if opts.SortBy == "importance" {
		sortByImportance(matched, opts.SortOrder)
	} else if opts.SortOrder == "asc" {
		reverse(matched)
	}

	total := len(matched)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}
	return &types.ListResult{Total: total, Items: matched[start:end]}, nil
}

// UpdatePatch is the explicit allow-list of mutable fields. ID, CreatedAt and
// Type are immutable post-creation; Status changes go through Transition or
// Delete. Nil pointers leave a field unchanged.
type UpdatePatch struct {
	Content         *string
	Summary         *string
	Category        *string
	Tags            *[]string
	Confidence      *float64
	Importance      *float64
	RelatedMemories *[]string
	ExpiresAt       *time.Time
	ClearExpiry     bool

	// Embedding replaces the stored vector when SetEmbedding is true. A nil
	// Embedding with SetEmbedding removes it (content changed, re-embed
	// failed).
	Embedding    []float32
	SetEmbedding bool
}

// Update applies the patch to an existing memory. Returns ErrNotFound for
// unknown IDs.
func (s *Store) Update(ctx context.Context, id string, patch UpdatePatch) (*types.Memory, error) {
	if patch.Content != nil && strings.TrimSpace(*patch.Content) == "" {
		return nil, fmt.Errorf("%w: content cannot be cleared", ErrInvalidInput)
	}

	s.mu.Lock()
	rec, err := s.loadLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	contentChanged := false
	if patch.Content != nil && *patch.Content != rec.Content {
		rec.Content = *patch.Content
		contentChanged = true
		if patch.Summary == nil {
			rec.Summary = types.DeriveSummary(rec.Content)
		}
	}
	if patch.Summary != nil {
		rec.Summary = *patch.Summary
	}
	if patch.Category != nil {
		rec.Category = *patch.Category
	}
	if patch.Tags != nil {
		rec.Tags = append([]string(nil), (*patch.Tags)...)
	}
	if patch.Confidence != nil {
		rec.Confidence = types.Clamp01(*patch.Confidence)
	}
	if patch.Importance != nil {
		rec.Importance = types.Clamp01(*patch.Importance)
	}
	if patch.RelatedMemories != nil {
		rec.RelatedMemories = append([]string(nil), (*patch.RelatedMemories)...)
	}
	if patch.ClearExpiry {
		rec.ExpiresAt = nil
	} else if patch.ExpiresAt != nil {
		t := *patch.ExpiresAt
		rec.ExpiresAt = &t
	}

	embeddingChanged := false
	if patch.SetEmbedding {
		rec.Embedding = append([]float32(nil), patch.Embedding...)
		embeddingChanged = true
	}

	rec.UpdatedAt = time.Now().UTC()
	err = s.persistLocked(ctx, rec, embeddingChanged)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.cache.Add(rec.ID, rec.Clone())
	ev := Event{Op: OpUpdated, ID: rec.ID, Status: rec.Status}
	if contentChanged {
		ev.Content = rec.Content
	}
	s.fire(ev)
	return rec, nil
}

// Transition moves a memory to a new lifecycle status, enforcing the state
// machine. Hard removal goes through Delete, not here.
func (s *Store) Transition(ctx context.Context, id string, to types.MemoryStatus) (*types.Memory, error) {
	if !to.Valid() || to == types.StatusDeleted {
		return nil, fmt.Errorf("%w: invalid target status %q", ErrInvalidInput, to)
	}

	s.mu.Lock()
	rec, err := s.loadLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !rec.Status.CanTransitionTo(to) {
		from := rec.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot transition %s from %s to %s", ErrStateConflict, id, from, to)
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	err = s.persistLocked(ctx, rec, false)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.cache.Add(rec.ID, rec.Clone())
	s.fire(Event{Op: OpStatusChanged, ID: rec.ID, Status: rec.Status})
	return rec, nil
}

// Delete removes a memory. Soft deletion archives it; hard deletion removes
// the record artifact, the index entry and the embedding entry in one locked
// mutation, then tells subscribers so the lexical index drops the document.
func (s *Store) Delete(ctx context.Context, id string, hard bool) error {
	if !hard {
		_, err := s.Transition(ctx, id, types.StatusArchived)
		return err
	}

	s.mu.Lock()
	if _, err := s.loadLocked(id); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		s.mu.Unlock()
		return fmt.Errorf("store: remove record %s: %w", id, err)
	}
	s.index.delete(id)
	if err := s.saveIndexLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.table.Delete(ctx, id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.markWrite()
	s.mu.Unlock()

	s.cache.Remove(id)
	s.fire(Event{Op: OpDeleted, ID: id, Status: types.StatusDeleted})
	return nil
}

// Entries returns the current index snapshot.
func (s *Store) Entries(_ context.Context) []types.IndexEntry {
	return s.index.snapshot()
}

// Entry returns one index entry without loading the full record.
func (s *Store) Entry(_ context.Context, id string) (types.IndexEntry, bool) {
	return s.index.get(id)
}

// Vectors exposes the embedding table contents for similarity scans.
func (s *Store) Vectors(ctx context.Context) (map[string][]float32, error) {
	return s.table.All(ctx)
}

// EmbeddingInfo reports the recorded embedding model and dimension.
func (s *Store) EmbeddingInfo(ctx context.Context) (string, int, error) {
	return s.table.Info(ctx)
}

// Invalidate reloads the index and embedding table from disk and drops the
// record cache. Callers use it after an out-of-process change; the fsnotify
// watcher calls it automatically when enabled.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.loadIndex()
	if ft, ok := s.table.(*FileTable); ok {
		ft.reload()
	}
	s.mu.Unlock()
	s.cache.Purge()
	s.log.Debug().Msg("store caches invalidated")
}

// Close releases the embedding table resources.
func (s *Store) Close() error {
	return s.table.Close()
}

// ---- internals -----------------------------------------------------------

func (s *Store) recordPath(id string) string {
	// IDs are UUIDs; keep the guard anyway so a hostile ID cannot escape the
	// data directory.
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '.' {
			return '_'
		}
		return r
	}, id)
	return filepath.Join(s.dataDir, "memories", safe+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dataDir, "index.json")
}

// loadLocked reads the full record, preferring the cache. Must hold the
// mutation lock.
func (s *Store) loadLocked(id string) (*types.Memory, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec.Clone(), nil
	}
	return s.readRecord(id)
}

func (s *Store) readRecord(id string) (*types.Memory, error) {
	var rec types.Memory
	err := readJSON(s.recordPath(id), &rec)
	switch {
	case os.IsNotExist(err):
		return nil, ErrNotFound
	case err != nil:
		// A damaged record artifact reads as absence, not corruption of the
		// whole store.
		s.log.Warn().Str("id", id).Err(err).Msg("record artifact unreadable, treating as absent")
		return nil, ErrNotFound
	}
	return &rec, nil
}

// persistLocked is the strict mutation sequence: record artifact, then index
// projection, then embedding table when the vector changed. Each artifact is
// independently valid JSON, so a crash between steps leaves a recoverable
// store.
func (s *Store) persistLocked(ctx context.Context, rec *types.Memory, embeddingChanged bool) error {
	if err := atomicWriteJSON(s.recordPath(rec.ID), rec); err != nil {
		return err
	}
	s.index.put(rec.IndexEntry())
	if err := s.saveIndexLocked(); err != nil {
		return err
	}
	if embeddingChanged {
		if len(rec.Embedding) > 0 {
			if err := s.table.Put(ctx, rec.ID, rec.Embedding, s.embedModel); err != nil {
				return err
			}
		} else if err := s.table.Delete(ctx, rec.ID); err != nil {
			return err
		}
	}
	s.markWrite()
	return nil
}

func (s *Store) saveIndexLocked() error {
	return atomicWriteJSON(s.indexPath(), s.index.asMap())
}

func (s *Store) markWrite() {
	s.lastWrite.Store(time.Now().UnixNano())
}

// loadIndex reads the index artifact, rebuilding it from per-record
// artifacts when missing or damaged.
func (s *Store) loadIndex() {
	entries := make(map[string]types.IndexEntry)
	err := readJSON(s.indexPath(), &entries)
	switch {
	case err == nil:
		s.index.replace(entries)
		return
	case os.IsNotExist(err):
		// fresh install or lost index: rebuild silently
	default:
		s.log.Warn().Err(err).Msg("index artifact unreadable, rebuilding from records")
	}

	entries = make(map[string]types.IndexEntry)
	dir := filepath.Join(s.dataDir, "memories")
	files, dirErr := os.ReadDir(dir)
	if dirErr != nil {
		s.index.replace(entries)
		return
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		var rec types.Memory
		if err := readJSON(filepath.Join(dir, f.Name()), &rec); err != nil || rec.ID == "" {
			continue
		}
		entries[rec.ID] = rec.IndexEntry()
	}
	s.index.replace(entries)
}

func sortByImportance(entries []types.IndexEntry, order string) {
	less := func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		return entries[i].ID < entries[j].ID
	}
	if order == "asc" {
		orig := less
		less = func(i, j int) bool { return orig(j, i) }
	}
	sort.Slice(entries, less)
}

func reverse(entries []types.IndexEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
