package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/engine"
	"github.com/engram-memory/engram/internal/lexical"
	"github.com/engram-memory/engram/internal/store"
	"github.com/engram-memory/engram/pkg/types"
)

func TestParseFrontmatterAndTags(t *testing.T) {
	data := []byte(`---
type: preference
category: style
tags: [go, testing]
confidence: 0.95
---
Always use table-driven tests. #go #conventions
`)
	note, ok := Parse(data, "engineering/testing-style.md")
	require.True(t, ok)

	c := note.Candidate
	assert.Equal(t, types.TypePreference, c.Type)
	assert.Equal(t, "style", c.Category)
	assert.Equal(t, 0.95, c.Confidence)
	assert.Equal(t, "testing-style", c.Summary)
	assert.ElementsMatch(t, []string{"go", "testing", "conventions"}, c.Tags)
	assert.Contains(t, c.Content, "table-driven")
	assert.NotContains(t, c.Content, "confidence:")
}

func TestParseDefaults(t *testing.T) {
	note, ok := Parse([]byte("Plain note without frontmatter."), "infra/db/notes.md")
	require.True(t, ok)

	c := note.Candidate
	assert.Equal(t, types.TypeFact, c.Type)
	assert.Equal(t, "infra", c.Category, "category falls back to the top directory")
	assert.Equal(t, defaultConfidence, c.Confidence)
	assert.Equal(t, "importer", c.SourceAppID)
}

func TestParseSkipsEmptyAndUnknownType(t *testing.T) {
	_, ok := Parse([]byte("---\ntype: fact\n---\n"), "empty.md")
	assert.False(t, ok, "frontmatter-only files have no content")

	note, ok := Parse([]byte("---\ntype: banana\n---\nbody text"), "x.md")
	require.True(t, ok)
	assert.Equal(t, types.TypeFact, note.Candidate.Type, "unknown type falls back to fact")
}

func TestRunImportsThroughTrustGate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ops"), 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".obsidian"), 0o700))

	writeNote := func(rel, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o600))
	}
	writeNote("ops/oncall.md", "The on-call rotation swaps on Mondays.")
	writeNote("ops/draft.md", "---\nconfidence: 0.75\n---\nMaybe we should switch registries.")
	writeNote(".obsidian/workspace.md", "editor state, not a note")
	writeNote("empty.md", "   ")

	dir := t.TempDir()
	table, err := store.OpenFileTable(filepath.Join(dir, "embeddings.json"))
	require.NoError(t, err)
	s, err := store.Open(dir, table, 64, zerolog.Nop())
	require.NoError(t, err)
	e := engine.New(s, lexical.NewBM25Scorer(), nil, nil, config.Load(), zerolog.Nop())
	defer func() { _ = e.Close() }()

	report, err := New(e, zerolog.Nop()).Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 1, report.Skipped)
	require.NotNil(t, report.Ingest)
	assert.Len(t, report.Ingest.Committed, 1, "default confidence commits directly")
	assert.Len(t, report.Ingest.PendingApproval, 1, "band confidence queues for review")
}
