package assemble

import (
	"context"
	"path/filepath"
	"strings"
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

func newTestAssembler(t *testing.T) (*Assembler, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	table, err := store.OpenFileTable(filepath.Join(dir, "embeddings.json"))
	require.NoError(t, err)
	s, err := store.Open(dir, table, 64, zerolog.Nop())
	require.NoError(t, err)

	cfg := config.Load()
	e := engine.New(s, lexical.NewBM25Scorer(), nil, nil, cfg, zerolog.Nop())
	t.Cleanup(func() { _ = e.Close() })
	return New(e, cfg.Assembler, zerolog.Nop()), e
}

func seed(t *testing.T, e *engine.Engine, m types.Memory) *types.Memory {
	t.Helper()
	created, err := e.Create(context.Background(), &m)
	require.NoError(t, err)
	return created
}

func TestPreferencesComeFirst(t *testing.T) {
	a, e := newTestAssembler(t)
	ctx := context.Background()

	seed(t, e, types.Memory{Type: types.TypePreference, Content: "Always run the linter before committing", Importance: 0.9})
	seed(t, e, types.Memory{Type: types.TypeFact, Content: "The linter config lives in .golangci.yml", Importance: 0.8})

	out, err := a.Assemble(ctx, Request{Task: "fix the linter warnings"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Sections)
	assert.Equal(t, "preferences", out.Sections[0].Title)
	assert.Positive(t, out.TokensUsed)
}

func TestPreferenceQuotaTakesTopImportance(t *testing.T) {
	a, e := newTestAssembler(t)
	ctx := context.Background()

	var top []string
	for i, imp := range []float64{0.9, 0.8, 0.7, 0.2, 0.1} {
		m := seed(t, e, types.Memory{
			Type:       types.TypePreference,
			Content:    strings.Repeat("preference ", i+1),
			Importance: imp,
		})
		if imp >= 0.7 {
			top = append(top, m.ID)
		}
	}

	out, err := a.Assemble(ctx, Request{Task: ""})
	require.NoError(t, err)
	require.Len(t, out.Sections, 1)
	require.Len(t, out.Sections[0].Memories, 3, "quota is three")
	for _, m := range out.Sections[0].Memories {
		assert.Contains(t, top, m.ID)
	}
}

func TestDomainSectionOnlyWhenRequested(t *testing.T) {
	a, e := newTestAssembler(t)
	ctx := context.Background()

	seed(t, e, types.Memory{Type: types.TypeFact, Content: "billing runs on its own cluster", Category: "billing", Importance: 0.9})
	seed(t, e, types.Memory{Type: types.TypeFact, Content: "auth tokens rotate weekly", Category: "auth", Importance: 0.9})

	out, err := a.Assemble(ctx, Request{Domain: "billing"})
	require.NoError(t, err)
	require.Len(t, out.Sections, 1)
	assert.Equal(t, "domain", out.Sections[0].Title)
	require.Len(t, out.Sections[0].Memories, 1)
	assert.Equal(t, "billing", out.Sections[0].Memories[0].Category)

	out, err = a.Assemble(ctx, Request{})
	require.NoError(t, err)
	assert.Nil(t, out, "nothing qualifies without a domain, task or preferences")
}

func TestNilWhenNothingQualifies(t *testing.T) {
	a, _ := newTestAssembler(t)

	out, err := a.Assemble(context.Background(), Request{Task: "anything at all"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestMinRelevanceDropsWeakHits(t *testing.T) {
	a, e := newTestAssembler(t)
	ctx := context.Background()

	seed(t, e, types.Memory{Type: types.TypeFact, Content: "redis eviction policy is allkeys-lru"})

	out, err := a.Assemble(ctx, Request{Task: "redis eviction"})
	require.NoError(t, err)
	require.NotNil(t, out, "without a floor the lexical hit is included")

	// a single-channel hit scores at most lexicalWeight/(K+1); a floor above
	// that excludes it
	out, err = a.Assemble(ctx, Request{Task: "redis eviction", MinRelevance: 0.5})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRenderGroupsByTypePreferencesFirst(t *testing.T) {
	a, e := newTestAssembler(t)
	ctx := context.Background()

	seed(t, e, types.Memory{Type: types.TypeFact, Content: "staging mirrors prod schema", Category: "db", Importance: 0.8})
	seed(t, e, types.Memory{Type: types.TypePreference, Content: "prefer migrations over manual DDL", Importance: 0.9})

	out, err := a.Assemble(ctx, Request{Domain: "db"})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotEmpty(t, out.Text)
	assert.Equal(t, out.Text, out.Render())

	prefIdx := strings.Index(out.Text, "preference:")
	factIdx := strings.Index(out.Text, "fact:")
	require.GreaterOrEqual(t, prefIdx, 0)
	require.Greater(t, factIdx, prefIdx, "preferences render before facts")
	assert.Contains(t, out.Text, "- prefer migrations over manual DDL")
	assert.Contains(t, out.Text, "- staging mirrors prod schema")
}

func TestBudgetIsRespected(t *testing.T) {
	a, e := newTestAssembler(t)
	ctx := context.Background()

	// 400 chars ≈ 100 tokens each at the default divisor
	big := strings.Repeat("the deployment pipeline details ", 13)
	for i := 0; i < 5; i++ {
		seed(t, e, types.Memory{Type: types.TypeFact, Content: big + string(rune('a'+i)), Importance: 0.5})
	}

	out, err := a.Assemble(ctx, Request{Task: "deployment pipeline", TokenBudget: 250})
	require.NoError(t, err)
	assert.LessOrEqual(t, out.TokensUsed, 250)
	assert.True(t, out.Truncated)

	total := 0
	for _, sec := range out.Sections {
		total += len(sec.Memories)
	}
	assert.Less(t, total, 5)
	assert.Positive(t, total)
}

func TestNoDoubleInclusionAcrossSections(t *testing.T) {
	a, e := newTestAssembler(t)
	ctx := context.Background()

	seed(t, e, types.Memory{
		Type: types.TypeFact, Content: "billing invoices generate nightly",
		Category: "billing", Importance: 0.9,
	})

	out, err := a.Assemble(ctx, Request{Task: "billing invoices", Domain: "billing"})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, sec := range out.Sections {
		for _, m := range sec.Memories {
			seen[m.ID]++
		}
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "memory %s appears in multiple sections", id)
	}
}
