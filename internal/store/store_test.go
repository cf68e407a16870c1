package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/types"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	table, err := OpenFileTable(filepath.Join(dir, "embeddings.json"))
	require.NoError(t, err)
	s, err := Open(dir, table, 64, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &types.Memory{
		Type:       types.TypeFact,
		Content:    "The staging database lives on db-03.\nSecond line is dropped from summary.",
		Confidence: 0.9,
		Tags:       []string{"infra"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "The staging database lives on db-03.", created.Summary)
	assert.Equal(t, types.StatusActive, created.Status)
	assert.Equal(t, 0.5, created.Importance)
	assert.Zero(t, created.AccessCount)

	// record artifact exists on disk
	_, err = os.Stat(filepath.Join(dir, "memories", created.ID+".json"))
	require.NoError(t, err)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Content, got.Content)
	assert.Equal(t, 1, got.AccessCount)
	require.NotNil(t, got.LastAccessed)

	again, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.AccessCount)
}

func TestPeekDoesNotRecordAccess(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "quiet read"})
	require.NoError(t, err)

	peeked, err := s.Peek(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, peeked.AccessCount)
	assert.Nil(t, peeked.LastAccessed)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, &types.Memory{Type: "rumor", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "x", Status: types.StatusArchived})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConcurrentCreates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 25
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := s.Create(ctx, &types.Memory{
				Type:    types.TypeObservation,
				Content: fmt.Sprintf("observation %d", i),
			})
			if err != nil {
				t.Error(err)
				return
			}
			ids <- m.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate ID %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, s.index.len())
}

func TestUpdatePatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &types.Memory{
		Type:     types.TypeLearning,
		Content:  "old content",
		Category: "ops",
	})
	require.NoError(t, err)

	newContent := "new content that replaces the old"
	conf := 2.5 // clamped
	updated, err := s.Update(ctx, created.ID, UpdatePatch{
		Content:    &newContent,
		Confidence: &conf,
		Tags:       &[]string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, newContent, updated.Content)
	assert.Equal(t, newContent, updated.Summary, "summary re-derives when content changes")
	assert.Equal(t, 1.0, updated.Confidence)
	assert.Equal(t, []string{"a", "b"}, updated.Tags)
	assert.Equal(t, "ops", updated.Category, "unset fields stay put")
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt) || updated.UpdatedAt.Equal(created.UpdatedAt))

	_, err = s.Update(ctx, "no-such-id", UpdatePatch{Content: &newContent})
	assert.ErrorIs(t, err, ErrNotFound)

	empty := " "
	_, err = s.Update(ctx, created.ID, UpdatePatch{Content: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTransitionStateMachine(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	m, err := s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "lifecycle"})
	require.NoError(t, err)

	archived, err := s.Transition(ctx, m.ID, types.StatusArchived)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, archived.Status)

	// archived is terminal except for deletion
	_, err = s.Transition(ctx, m.ID, types.StatusActive)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = s.Transition(ctx, m.ID, types.StatusDeleted)
	assert.ErrorIs(t, err, ErrInvalidInput, "hard removal goes through Delete")

	pending, err := s.Create(ctx, &types.Memory{
		Type: types.TypeFact, Content: "awaiting review", Status: types.StatusPendingApproval,
	})
	require.NoError(t, err)
	approved, err := s.Transition(ctx, pending.ID, types.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, approved.Status)
}

func TestHardDeleteRemovesAllArtifacts(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	m, err := s.Create(ctx, &types.Memory{
		Type:      types.TypeFact,
		Content:   "to be purged",
		Embedding: []float32{0.1, 0.2, 0.3},
	})
	require.NoError(t, err)

	_, err = s.table.Get(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, m.ID, true))

	_, err = os.Stat(filepath.Join(dir, "memories", m.ID+".json"))
	assert.True(t, os.IsNotExist(err))
	_, ok := s.index.get(m.ID)
	assert.False(t, ok)
	_, err = s.table.Get(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Peek(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, m.ID, true), ErrNotFound)
}

func TestSoftDeleteArchives(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	m, err := s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "soft"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, m.ID, false))

	got, err := s.Peek(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)
}

func TestCorruptIndexRebuildsFromRecords(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "first"})
	require.NoError(t, err)
	b, err := s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "second"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte("{not json"), 0o600))

	table, err := OpenFileTable(filepath.Join(dir, "embeddings.json"))
	require.NoError(t, err)
	reopened, err := Open(dir, table, 64, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 2, reopened.index.len())
	_, ok := reopened.index.get(a.ID)
	assert.True(t, ok)
	_, ok = reopened.index.get(b.ID)
	assert.True(t, ok)
}

func TestCorruptRecordReadsAsAbsent(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	m, err := s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "fragile"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memories", m.ID+".json"), []byte("garbage"), 0o600))
	s.cache.Purge()

	_, err = s.Peek(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilterSortPaginate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, &types.Memory{
			Type:       types.TypeFact,
			Content:    fmt.Sprintf("fact %d", i),
			Importance: float64(i) / 10,
			Category:   "alpha",
		})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, &types.Memory{
		Type: types.TypePreference, Content: "tabs over spaces", Category: "style", Importance: 0.9,
	})
	require.NoError(t, err)

	res, err := s.List(ctx, types.ListOptions{
		Filter: types.Filter{Types: []types.MemoryType{types.TypeFact}},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Len(t, res.Items, 5)

	res, err = s.List(ctx, types.ListOptions{SortBy: "importance", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 0.9, res.Items[0].Importance)

	res, err = s.List(ctx, types.ListOptions{Limit: 4, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Total)
	assert.Len(t, res.Items, 2)

	_, err = s.List(ctx, types.ListOptions{
		Filter: types.Filter{Types: []types.MemoryType{"bogus"}},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEventsFireAfterMutations(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	s.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	m, err := s.Create(ctx, &types.Memory{Type: types.TypeFact, Content: "eventful"})
	require.NoError(t, err)
	newContent := "changed"
	_, err = s.Update(ctx, m.ID, UpdatePatch{Content: &newContent})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, m.ID, true))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, OpCreated, events[0].Op)
	assert.Equal(t, "eventful", events[0].Content)
	assert.Equal(t, OpUpdated, events[1].Op)
	assert.Equal(t, "changed", events[1].Content)
	assert.Equal(t, OpDeleted, events[2].Op)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, &types.Memory{
		Type: types.TypeFact, Content: "with vector", Category: "infra",
		Embedding: []float32{1, 0},
	})
	require.NoError(t, err)
	_, err = s.Create(ctx, &types.Memory{Type: types.TypePreference, Content: "no vector"})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByType[types.TypeFact])
	assert.Equal(t, 1, st.ByType[types.TypePreference])
	assert.Equal(t, 1, st.ByCategory["infra"])
	assert.Equal(t, 2, st.ByStatus[types.StatusActive])
	assert.Equal(t, 1, st.WithEmbedding)
	assert.Equal(t, 0.5, st.EmbeddingCoverage)
	assert.Equal(t, 2, st.EmbeddingDim)
}
