package lexical

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedScorer(t *testing.T) *BM25Scorer {
	t.Helper()
	s := NewBM25Scorer()
	docs := []Document{
		{ID: "theme", Content: "User prefers dark themes in every editor"},
		{ID: "db", Content: "Postgres connection pool exhausted under load"},
		{ID: "deploy", Content: "Deploys happen from the main branch only"},
		{ID: "editor", Content: "The editor crashed twice while switching themes"},
	}
	require.NoError(t, s.Rebuild(docs))
	return s
}

func TestBM25FindsRelevantDoc(t *testing.T) {
	s := seedScorer(t)

	results, err := s.Search("dark theme preference", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "theme", results[0].ID)
}

func TestBM25ScoresNonIncreasing(t *testing.T) {
	s := seedScorer(t)

	results, err := s.Search("themes editor", 10, 0)
	require.NoError(t, err)
	require.True(t, len(results) >= 2)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestBM25Deterministic(t *testing.T) {
	s := seedScorer(t)

	first, err := s.Search("themes editor", 10, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Search("themes editor", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBM25RemoveMakesUnreachable(t *testing.T) {
	s := seedScorer(t)

	require.NoError(t, s.Remove("theme"))
	results, err := s.Search("dark themes", 10, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "theme", r.ID)
	}
}

func TestBM25RemoveUnknownIsNoop(t *testing.T) {
	s := seedScorer(t)
	assert.NoError(t, s.Remove("ghost"))
}

func TestBM25IndexOverwrites(t *testing.T) {
	s := seedScorer(t)

	require.NoError(t, s.Index(Document{ID: "theme", Content: "kubernetes cluster autoscaling"}))

	results, err := s.Search("dark themes", 10, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "theme", r.ID)
	}

	results, err = s.Search("kubernetes autoscaling", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "theme", results[0].ID)
}

func TestBM25MinScoreFilters(t *testing.T) {
	s := seedScorer(t)

	all, err := s.Search("themes", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	none, err := s.Search("themes", 10, all[0].Score+1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBM25LimitRespected(t *testing.T) {
	s := NewBM25Scorer()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Index(Document{
			ID:      fmt.Sprintf("doc-%02d", i),
			Content: "shared keyword payload",
		}))
	}
	results, err := s.Search("keyword", 5, 0)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestBM25EmptyQueryAndEmptyIndex(t *testing.T) {
	s := NewBM25Scorer()
	results, err := s.Search("anything", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	s2 := seedScorer(t)
	results, err = s2.Search("", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTokenizeDropsStopWords(t *testing.T) {
	terms := tokenize("What is the user's preference for themes?")
	assert.NotContains(t, terms, "what")
	assert.NotContains(t, terms, "the")
	assert.Contains(t, terms, "preference")
	assert.Contains(t, terms, "themes")
}
